//go:build unix

package memory

import "golang.org/x/sys/unix"

func mapRAM(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapRAM(b []byte) error {
	return unix.Munmap(b)
}
