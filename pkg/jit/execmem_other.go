//go:build !unix

package jit

func mapArena(size int) ([]byte, error) { return make([]byte, size), nil }

func unmapArena([]byte) error { return nil }
