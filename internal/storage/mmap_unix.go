//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package storage

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// mmapPage maps exactly one page's worth of bytes at offset in f. Grounded
// on the teacher's pkg/pager/mmap_unix.go, but per-page instead of
// whole-file, matching FileBuffer.cpp's FileMapping::MapPage.
func mmapPage(f *os.File, offset int64, length int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), offset, length, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}

// msyncPage flushes a mapped page's dirty bytes to the underlying file.
func msyncPage(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

// munmapPage releases a single page's mapping.
func munmapPage(data []byte) error {
	return syscall.Munmap(data)
}
