package jit

import "unsafe"

// cpuBlock mirrors the original C JIT's r5vm_t layout closely enough
// that generated x86 snippets can address it with fixed disp8/disp32
// offsets from a single base register (EDI), exactly the way
// r5jit_x86.c's OFF_X/OFF_MEM/OFF_MASK macros address the C struct. It
// additionally carries the trap fields the Go re-entry scheme needs
// (see driver.go) in place of the C version's direct callback into
// r5vm_handle_ecall.
type cpuBlock struct {
	Regs       [32]uint32
	MemBase    uint32 // low 32 bits of the guest memory buffer's address
	MemMask    uint32
	TrapReason uint32 // 0 = none (halted normally), 1 = ecall needs host handling
	ResumePC   uint32 // guest PC to resume at after the host handles the trap
}

const (
	offRegs       = uint32(0)
	offMemBase    = uint32(unsafe.Offsetof(cpuBlock{}.MemBase))
	offMemMask    = uint32(unsafe.Offsetof(cpuBlock{}.MemMask))
	offTrapReason = uint32(unsafe.Offsetof(cpuBlock{}.TrapReason))
	offResumePC   = uint32(unsafe.Offsetof(cpuBlock{}.ResumePC))
)

// offX returns the EDI-relative byte offset of guest register n,
// matching r5jit_x86.c's OFF_X(n) macro.
func offX(n uint32) byte {
	return byte(offRegs + n*4)
}

const (
	trapNone  = 0
	trapEcall = 1
)
