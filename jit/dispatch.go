package jit

import (
	"encoding/binary"

	"github.com/janzwiener/r5vm-go/hostmem"
)

// dispatchTable is the PC-indexed table of host code addresses the JIT
// uses for every indirect jump (JAL/JALR/taken branches), grounded on
// r5jit_x86.c's instruction_pointers array. Unlike the original, which
// sizes the table to cover every byte address from 0 through
// code_offset+code_size (wasting three of every four slots, plus the
// entire pre-code-offset range), this table holds exactly CodeSize/4
// slots, one per 4-byte-aligned instruction in the code section, and is
// based at CodeOffset rather than address zero. This assumes guest jump
// targets land on 4-byte boundaries, which always holds for code this
// core accepts (no compressed-instruction support).
//
// Like the guest memory buffer, the table itself must live in hostmem:
// its base address is baked into generated code as a 32-bit immediate
// (see codegen.go's JAL/JALR/branch emission), so it cannot be a
// relocatable Go-heap slice.
type dispatchTable struct {
	block      *hostmem.Block
	codeOffset uint32
	count      uint32
}

func newDispatchTable(codeOffset, codeSize uint32) (*dispatchTable, error) {
	count := codeSize / 4
	blk, err := hostmem.Alloc(int(count)*4, hostmem.Options{})
	if err != nil {
		return nil, err
	}
	return &dispatchTable{block: blk, codeOffset: codeOffset, count: count}, nil
}

func (d *dispatchTable) close() error {
	return hostmem.Free(d.block)
}

// base is the table's own host address.
func (d *dispatchTable) base() uint32 {
	return uint32(d.block.Addr)
}

func (d *dispatchTable) slotIndex(pc uint32) uint32 {
	return (pc - d.codeOffset) / 4
}

// slotAddr returns the host address OF the dispatch slot for guest pc
// (not its contents) — the operand of an absolute indirect jump,
// `jmp [slotAddr]`, exactly like r5jit_x86.c's `instruction_pointers +
// target_pc` pointer arithmetic.
func (d *dispatchTable) slotAddr(pc uint32) uint32 {
	return d.base() + d.slotIndex(pc)*4
}

// set records the host address of the compiled code for guest pc.
func (d *dispatchTable) set(pc uint32, hostAddr uint32) {
	idx := d.slotIndex(pc)
	binary.LittleEndian.PutUint32(d.block.Bytes[idx*4:idx*4+4], hostAddr)
}
