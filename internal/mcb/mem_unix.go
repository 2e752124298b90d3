//go:build unix

package mcb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const execMemory = true

// mapExecutable maps anonymous read/write pages, copies code in and then
// flips the pages to read/execute
func mapExecutable(code []byte) ([]byte, error) {
	page := unix.Getpagesize()
	size := (len(code) + page - 1) / page * page
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("mprotect: %w", err)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}
