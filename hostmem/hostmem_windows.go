//go:build windows

package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Alloc reserves and commits a region via VirtualAlloc. Windows has no
// direct analogue of MAP_32BIT; on 64-bit Windows hosts the JIT backend
// is therefore restricted to GOARCH=386 builds, where every address
// already fits a 32-bit immediate (see SPEC_FULL.md's domain-stack
// notes on this constraint).
func Alloc(size int, opt Options) (*Block, error) {
	prot := uint32(windows.PAGE_READWRITE)
	if opt.Executable {
		prot = windows.PAGE_EXECUTE_READWRITE
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, prot)
	if err != nil {
		return nil, fmt.Errorf("hostmem: VirtualAlloc %d bytes: %w", size, err)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &Block{Bytes: b, Addr: addr}, nil
}

// Free releases a Block obtained from Alloc.
func Free(b *Block) error {
	if b == nil || b.Addr == 0 {
		return nil
	}
	return windows.VirtualFree(b.Addr, 0, windows.MEM_RELEASE)
}
