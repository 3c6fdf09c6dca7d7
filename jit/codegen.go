// Package jit translates an entire RV32I code section into host x86
// machine code in one pass, ahead of execution, and runs it through a
// PC-indexed dispatch table. It is grounded instruction-for-instruction
// on the reference C implementation's r5jit_x86.c.
package jit

import (
	"fmt"

	"github.com/janzwiener/r5vm-go/riscv"
)

// compiler walks one RV32I code section and emits the corresponding x86
// machine code, recording a dispatch-table entry for every guest PC.
type compiler struct {
	e        emitter
	dispatch *dispatchTable
	memMask  uint32
}

func (c *compiler) compileOne(word uint32, pc uint32) error {
	instr := riscv.Decode(word)
	rd, rs1, rs2 := instr.Rd, instr.Rs1, instr.Rs2

	switch instr.Opcode {
	case riscv.OpcodeOp:
		switch instr.Funct3 {
		case riscv.Func3ADDSUB:
			if instr.Funct7 == riscv.Func7Alt {
				c.emitRR(rd, rs1, rs2, (*emitter).subRR)
			} else {
				c.emitRR(rd, rs1, rs2, (*emitter).addRR)
			}
		case riscv.Func3XOR:
			c.emitRR(rd, rs1, rs2, (*emitter).xorRR)
		case riscv.Func3OR:
			c.emitRR(rd, rs1, rs2, (*emitter).orRR)
		case riscv.Func3AND:
			c.emitRR(rd, rs1, rs2, (*emitter).andRR)
		case riscv.Func3SLL:
			c.emitShiftReg(rd, rs1, rs2, (*emitter).shlEaxCl)
		case riscv.Func3SRLSRA:
			if instr.Funct7 == riscv.Func7Alt {
				c.emitShiftReg(rd, rs1, rs2, (*emitter).sarEaxCl)
			} else {
				c.emitShiftReg(rd, rs1, rs2, (*emitter).shrEaxCl)
			}
		case riscv.Func3SLT:
			c.emitSetcc(rd, rs1, rs2, true)
		case riscv.Func3SLTU:
			c.emitSetcc(rd, rs1, rs2, false)
		default:
			return fmt.Errorf("jit: unknown R-type funct3 at pc=%#x", pc)
		}

	case riscv.OpcodeImm:
		imm := uint32(riscv.ImmI(word))
		switch instr.Funct3 {
		case riscv.Func3ADDSUB:
			c.emitAddi(rd, rs1, imm)
		case riscv.Func3XOR:
			c.emitRI(rd, rs1, imm, false, (*emitter).xorEaxImm32)
		case riscv.Func3OR:
			c.emitRI(rd, rs1, imm, false, (*emitter).orEaxImm32)
		case riscv.Func3AND:
			c.emitRI(rd, rs1, imm, false, (*emitter).andEaxImm32)
		case riscv.Func3SLT:
			c.emitSetccImm(rd, rs1, imm, true)
		case riscv.Func3SLTU:
			c.emitSetccImm(rd, rs1, imm, false)
		case riscv.Func3SLL:
			if instr.Funct7 != riscv.Func7Default {
				return fmt.Errorf("jit: bad SLLI encoding at pc=%#x", pc)
			}
			c.emitShiftImm(rd, rs1, byte(imm&0x1f), (*emitter).shlEaxImm8)
		case riscv.Func3SRLSRA:
			switch instr.Funct7 {
			case riscv.Func7Default:
				c.emitShiftImm(rd, rs1, byte(imm&0x1f), (*emitter).shrEaxImm8)
			case riscv.Func7Alt:
				c.emitShiftImm(rd, rs1, byte(imm&0x1f), (*emitter).sarEaxImm8)
			default:
				return fmt.Errorf("jit: bad SRLI/SRAI encoding at pc=%#x", pc)
			}
		default:
			return fmt.Errorf("jit: unknown I-type funct3 at pc=%#x", pc)
		}

	case riscv.OpcodeAUIPC:
		target := (pc + uint32(riscv.ImmU(word))) & c.memMask
		if rd != 0 {
			c.e.movEaxImm32(target)
			c.e.storeReg32(rd, reg32EAX)
		}

	case riscv.OpcodeLUI:
		if rd != 0 {
			c.e.movEaxImm32(uint32(riscv.ImmU(word)))
			c.e.storeReg32(rd, reg32EAX)
		}

	case riscv.OpcodeLoad:
		imm := uint32(riscv.ImmI(word))
		c.emitLoad(rd, rs1, imm, instr.Funct3, pc)

	case riscv.OpcodeStore:
		imm := uint32(riscv.ImmS(word))
		c.emitStore(rs1, rs2, imm, instr.Funct3, pc)

	case riscv.OpcodeBranch:
		target := (pc + uint32(riscv.ImmB(word))) & c.memMask
		if err := c.emitBranch(rs1, rs2, instr.Funct3, target); err != nil {
			return fmt.Errorf("jit: %w at pc=%#x", err, pc)
		}

	case riscv.OpcodeJAL:
		target := (pc + uint32(riscv.ImmJ(word))) & c.memMask
		if rd != 0 {
			c.e.storeFieldImm32(uint32(offX(rd)), (pc+4)&c.memMask)
		}
		c.e.jmpAbsIndirect(c.dispatch.slotAddr(target))

	case riscv.OpcodeJALR:
		if instr.Funct3 != 0x0 {
			return fmt.Errorf("jit: unknown JALR funct3 at pc=%#x", pc)
		}
		imm := uint32(riscv.ImmI(word))
		if rd != 0 {
			c.e.storeFieldImm32(uint32(offX(rd)), (pc+4)&c.memMask)
		}
		c.e.loadReg32(reg32EAX, rs1)
		if imm != 0 {
			c.e.addEaxImm32(imm)
		}
		c.e.andEaxImm32(^uint32(1))
		c.e.andEaxImm32(c.memMask)
		// The dispatch table is indexed by (pc - CodeOffset), one 4-byte
		// slot per guest PC; for 4-byte-aligned targets this collapses
		// to a plain offset add with no index scaling (see dispatch.go).
		c.e.addEaxImm32(c.dispatch.base() - c.dispatch.codeOffset)
		c.e.jmpRegIndirect(reg32EAX)

	case riscv.OpcodeSystem:
		imm12 := (word >> 20) & 0xfff
		switch imm12 {
		case riscv.SystemEBREAK:
			// The interpreter already advanced PC to pc+4 before
			// dispatching on EBREAK (vm/interp.go), so it halts with
			// PC = pc+4, not pc. Store the same value into ResumePC so
			// State.Equal's PC comparison agrees between engines.
			c.e.storeFieldImm32(offResumePC, (pc+4)&c.memMask)
			c.emitEpilog()
		case riscv.SystemECALL:
			c.emitEcallTrap(pc)
		default:
			return fmt.Errorf("jit: unknown SYSTEM immediate at pc=%#x", pc)
		}

	case riscv.OpcodeFence:
		c.e.nop()

	default:
		return fmt.Errorf("jit: unknown opcode %#x at pc=%#x", instr.Opcode, pc)
	}
	return nil
}

func (c *compiler) emitRR(rd, rs1, rs2 uint32, op func(*emitter, byte, byte)) {
	if rd == 0 {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	c.e.loadReg32(scratchReg, rs2)
	op(&c.e, reg32EAX, scratchReg)
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitRI(rd, rs1 uint32, imm uint32, nop bool, op func(*emitter, uint32)) {
	if rd == 0 || nop {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	op(&c.e, imm)
	c.e.storeReg32(rd, reg32EAX)
}

// emitAddi mirrors emit_addi's two elisions: the whole instruction is a
// NOP when rd==rs1 and imm==0, and the add itself is skipped whenever
// imm==0 even if rd is written (a plain register copy in that case).
func (c *compiler) emitAddi(rd, rs1 uint32, imm uint32) {
	if rd == 0 {
		return
	}
	if rd == rs1 && imm == 0 {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	if imm != 0 {
		c.e.addEaxImm32(imm)
	}
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitShiftReg(rd, rs1, rs2 uint32, shift func(*emitter)) {
	if rd == 0 {
		return
	}
	c.e.loadReg32(reg32ECX, rs2)
	c.e.loadReg32(reg32EAX, rs1)
	shift(&c.e)
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitShiftImm(rd, rs1 uint32, shamt byte, shift func(*emitter, byte)) {
	if rd == 0 {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	shift(&c.e, shamt)
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitSetcc(rd, rs1, rs2 uint32, signed bool) {
	if rd == 0 {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	c.e.loadReg32(scratchReg, rs2)
	c.e.cmpRR(reg32EAX, scratchReg)
	if signed {
		c.e.setl()
	} else {
		c.e.setb()
	}
	c.e.movzxAl()
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitSetccImm(rd, rs1 uint32, imm uint32, signed bool) {
	if rd == 0 {
		return
	}
	c.e.loadReg32(reg32EAX, rs1)
	c.e.cmpEaxImm32(imm)
	if signed {
		c.e.setl()
	} else {
		c.e.setb()
	}
	c.e.movzxAl()
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitAddrCompute(rs1 uint32, imm uint32) {
	c.e.loadReg32(reg32EAX, rs1)
	if imm != 0 {
		c.e.addEaxImm32(imm)
	}
	c.e.andEaxImm32(c.memMask)
	c.e.loadField32(scratchReg, offMemBase)
	c.e.addRR(reg32EAX, scratchReg)
}

func (c *compiler) emitLoad(rd, rs1, imm uint32, funct3 uint32, pc uint32) {
	if rd == 0 {
		return
	}
	c.emitAddrCompute(rs1, imm)
	switch funct3 {
	case riscv.Func3LW:
		c.e.bytes(0x8b, 0x00) // mov eax, [eax]
	case riscv.Func3LH:
		c.e.bytes(0x66, 0x8b, 0x00) // mov ax, [eax]
		c.e.cwde()
	case riscv.Func3LB:
		c.e.bytes(0x8a, 0x00) // mov al, [eax]
		c.e.cbw()
		c.e.cwde()
	case riscv.Func3LHU:
		c.e.bytes(0x66, 0x8b, 0x00)
		c.e.andEaxImm32(0xffff)
	case riscv.Func3LBU:
		c.e.bytes(0x8a, 0x00)
		c.e.andEaxImm32(0xff)
	}
	c.e.storeReg32(rd, reg32EAX)
}

func (c *compiler) emitStore(rs1, rs2, imm uint32, funct3 uint32, pc uint32) {
	c.emitAddrCompute(rs1, imm)
	c.e.loadReg32(scratchReg, rs2)
	switch funct3 {
	case riscv.Func3SW:
		c.e.bytes(0x89, 0x18) // mov [eax], ebx
	case riscv.Func3SH:
		c.e.bytes(0x66, 0x89, 0x18) // mov [eax], bx
	case riscv.Func3SB:
		c.e.bytes(0x88, 0x18) // mov [eax], bl
	}
}

// emitBranch emits: compare, skip-jump over an indirect dispatch jump.
// The short conditional opcode encodes "take the skip when the branch
// would NOT be taken" so the unconditional jmp only runs when it would.
func (c *compiler) emitBranch(rs1, rs2 uint32, funct3 uint32, target uint32) error {
	c.e.loadReg32(reg32EAX, rs1)
	c.e.loadReg32(scratchReg, rs2)
	c.e.cmpRR(reg32EAX, scratchReg)
	var skipOpcode byte
	switch funct3 {
	case riscv.Func3BEQ:
		skipOpcode = 0x75 // jne
	case riscv.Func3BNE:
		skipOpcode = 0x74 // je
	case riscv.Func3BLTU:
		skipOpcode = 0x73 // jae
	case riscv.Func3BGEU:
		skipOpcode = 0x72 // jb
	case riscv.Func3BLT:
		skipOpcode = 0x7d // jge
	case riscv.Func3BGE:
		skipOpcode = 0x7c // jl
	default:
		return fmt.Errorf("unknown Branch funct3")
	}
	c.e.bytes(skipOpcode, 0x06)
	c.e.jmpAbsIndirect(c.dispatch.slotAddr(target))
	return nil
}

func (c *compiler) emitEpilog() {
	c.e.pop(reg32EBX)
	c.e.pop(reg32EDI)
	c.e.ret()
}

// emitUniversalEntry emits the program's single entry/resume trampoline:
// push the two callee-saved registers the epilog will restore, load EDI
// with the control block's address, then jump through the dispatch
// table to whatever guest PC the control block's ResumePC names. The
// same trampoline serves the very first call into the program and every
// later resumption after an ECALL trap — both only need "reinstate the
// prolog, then go to ResumePC" (see driver.go's Run and Compile, which
// always places this trampoline at offset zero).
func (c *compiler) emitUniversalEntry(cpuBase uint32) {
	c.e.push(reg32EDI)
	c.e.push(reg32EBX)
	c.e.movRegImm32(reg32EDI, cpuBase)
	c.e.loadField32(reg32EAX, offResumePC)
	c.e.addEaxImm32(c.dispatch.base() - c.dispatch.codeOffset)
	c.e.jmpRegIndirect(reg32EAX)
}

// emitEcallTrap stores the resume PC and a trap marker into the control
// block, then returns to the Go driver — the re-entry scheme this port
// uses instead of a direct cdecl callback into Go (see driver.go).
func (c *compiler) emitEcallTrap(pc uint32) {
	c.e.storeFieldImm32(offTrapReason, trapEcall)
	c.e.storeFieldImm32(offResumePC, (pc+4)&c.memMask)
	c.emitEpilog()
}
