//go:build !unix

package memory

func mapRAM(size int) ([]byte, error) { return make([]byte, size), nil }

func unmapRAM([]byte) error { return nil }
