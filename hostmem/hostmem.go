// Package hostmem allocates raw, non-garbage-collected memory blocks for
// the structures the JIT-generated x86 code addresses directly: the
// guest memory buffer, the CPU register/control block, and the
// generated code itself. Every block this package hands out lives
// outside the Go heap so the garbage collector can never relocate it
// out from under machine code that has already baked its address in as
// a 32-bit immediate (the generated JIT never addresses anything that
// moved since the address was emitted). See jit.Compile for where those
// immediates get baked in.
package hostmem

// Block is a raw memory region obtained from the host OS. Bytes views
// the region as a slice; Addr is its base address. Free releases the
// region; a Block must not be used after Free.
type Block struct {
	Bytes []byte
	Addr  uintptr
}

// Options controls the protection requested for a Block.
type Options struct {
	Executable bool
}
