//go:build !windows

package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Alloc maps a zeroed, page-backed region of the requested size.
// Generated JIT code bakes absolute addresses of these regions into
// 32-bit immediates (mov reg, imm32), so on a 64-bit host the mapping
// must additionally be constrained below the 4 GiB boundary; unix.MAP_32BIT
// does exactly that on linux/amd64. On 32-bit hosts every address already
// satisfies this and the flag is a no-op/unavailable, so it is only
// applied under GOARCH=amd64 (see alloc_flags_amd64.go / alloc_flags_other.go).
func Alloc(size int, opt Options) (*Block, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if opt.Executable {
		prot |= unix.PROT_EXEC
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | lowAddressFlag()
	b, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %d bytes: %w", size, err)
	}
	return &Block{Bytes: b, Addr: uintptr(unsafe.Pointer(&b[0]))}, nil
}

// Free unmaps a Block obtained from Alloc.
func Free(b *Block) error {
	if b == nil || b.Bytes == nil {
		return nil
	}
	return unix.Munmap(b.Bytes)
}
