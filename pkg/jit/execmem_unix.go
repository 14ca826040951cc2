//go:build unix

package jit

import "golang.org/x/sys/unix"

// Generated code is executed by the host machine, so the arena needs no
// execute permission.
func mapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapArena(b []byte) error {
	return unix.Munmap(b)
}
