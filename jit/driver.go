package jit

import (
	"bufio"
	"fmt"
	"os"
	"unsafe"

	"github.com/janzwiener/r5vm-go/hostmem"
	"github.com/janzwiener/r5vm-go/riscv"
	"github.com/janzwiener/r5vm-go/vm"
)

const (
	regA0 = 10
	regA7 = 17
)

// Program is a whole-code-section translation produced by Compile,
// ready to run against any vm.State whose code section matches the one
// it was compiled from. Grounded on r5jit_compile/r5jit_x86/r5jit_dump.
type Program struct {
	code     *hostmem.Block
	dispatch *dispatchTable
	cpu      *hostmem.Block
	block    *cpuBlock
	entry    func()
}

// Compile translates every instruction in mem's code section into x86
// machine code ahead of execution. It runs the compiler twice: once to
// measure each instruction's encoded length (content-independent — every
// baked address is a fixed-width 32-bit immediate regardless of its
// value), and once for real once the host addresses those immediates
// must carry are known. This sidesteps the chicken-and-egg problem of
// needing a code buffer's address before the buffer itself is sized.
func Compile(mem *vm.Memory) (*Program, error) {
	count := mem.CodeSize / 4
	if count == 0 {
		return nil, fmt.Errorf("jit: empty code section")
	}

	dispatch, err := newDispatchTable(mem.CodeOffset, mem.CodeSize)
	if err != nil {
		return nil, err
	}

	measuring := &compiler{
		dispatch: &dispatchTable{block: &hostmem.Block{}, codeOffset: mem.CodeOffset},
		memMask:  mem.Mask,
	}
	measuring.emitUniversalEntry(0)
	offsets := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		pc := mem.CodeOffset + i*4
		offsets[i] = uint32(measuring.e.pos())
		word := mem.LoadWord(pc)
		if err := measuring.compileOne(word, pc); err != nil {
			dispatch.close()
			return nil, err
		}
	}
	measuring.emitEpilog()
	total := uint32(measuring.e.pos())

	codeBlk, err := hostmem.Alloc(int(total), hostmem.Options{Executable: true})
	if err != nil {
		dispatch.close()
		return nil, err
	}
	codeBase := uint32(codeBlk.Addr)
	for i := uint32(0); i < count; i++ {
		pc := mem.CodeOffset + i*4
		dispatch.set(pc, codeBase+offsets[i])
	}

	cpuBlk, err := hostmem.Alloc(int(unsafe.Sizeof(cpuBlock{})), hostmem.Options{})
	if err != nil {
		hostmem.Free(codeBlk)
		dispatch.close()
		return nil, err
	}
	block := (*cpuBlock)(unsafe.Pointer(&cpuBlk.Bytes[0]))

	final := &compiler{dispatch: dispatch, memMask: mem.Mask}
	final.emitUniversalEntry(uint32(cpuBlk.Addr))
	for i := uint32(0); i < count; i++ {
		pc := mem.CodeOffset + i*4
		word := mem.LoadWord(pc)
		if err := final.compileOne(word, pc); err != nil {
			hostmem.Free(codeBlk)
			hostmem.Free(cpuBlk)
			dispatch.close()
			return nil, err
		}
	}
	// Always emit a trailing epilog after the last instruction, matching
	// r5jit_x86.c's trailing r5jit_emit_epilog call, in case the guest's
	// last word doesn't itself halt or branch: without it, execution
	// would fall through past the end of the exactly-sized code buffer.
	final.emitEpilog()
	if uint32(final.e.pos()) != total {
		hostmem.Free(codeBlk)
		hostmem.Free(cpuBlk)
		dispatch.close()
		return nil, fmt.Errorf("jit: internal layout mismatch between measuring and emission passes")
	}

	copy(codeBlk.Bytes, final.e.code)

	return &Program{
		code:     codeBlk,
		dispatch: dispatch,
		cpu:      cpuBlk,
		block:    block,
		entry:    makeFunc(codeBlk),
	}, nil
}

// Run drives the compiled program against s until it halts. Every
// ECALL, regardless of subcode, traps back to Go (generated code cannot
// itself dispatch on a7); Run then handles exit and putchar exactly like
// vm.Step does and defers anything else to host, so both engines share
// one syscall bridge and a program halts with byte-identical state
// regardless of which one ran it.
func (p *Program) Run(s *vm.State, out *bufio.Writer, host vm.HostSyscall) {
	p.block.MemBase = uint32(s.Memory.Addr())
	p.block.MemMask = s.Memory.Mask
	p.block.Regs = s.Registers
	p.block.ResumePC = s.PC

	for {
		p.block.TrapReason = trapNone
		p.entry()

		s.Registers = p.block.Regs
		s.PC = p.block.ResumePC

		if p.block.TrapReason != trapEcall {
			break
		}
		subcode := s.Registers[regA7]
		arg := s.Registers[regA0]
		switch subcode {
		case riscv.EcallExit:
			goto halted
		case riscv.EcallPutchar:
			if out != nil {
				out.WriteByte(byte(arg))
				out.Flush()
			}
		default:
			if host == nil || !host(s, subcode, arg) {
				goto halted
			}
		}
		p.block.Regs = s.Registers
		p.block.ResumePC = s.PC
	}

halted:
	s.Exited = true
	s.ExitCode = uint8(s.Registers[regA0])
}

// DumpCode writes the raw generated x86 bytes to path, for the --dump-jit
// debug flag.
func (p *Program) DumpCode(path string) error {
	return os.WriteFile(path, p.code.Bytes, 0o644)
}

// Close releases every host allocation backing the program. The guest
// memory buffer is owned by the caller's vm.State, not the Program, and
// is left alone.
func (p *Program) Close() error {
	if err := hostmem.Free(p.code); err != nil {
		return err
	}
	if err := hostmem.Free(p.cpu); err != nil {
		return err
	}
	return p.dispatch.close()
}
