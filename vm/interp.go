package vm

import (
	"bufio"
	"fmt"

	"github.com/janzwiener/r5vm-go/riscv"
)

const (
	regA0 = 10
	regA7 = 17
)

// HostSyscall is called for every ECALL with the subcode in a7 that the
// default handler does not recognize (anything other than 0/exit and
// 1/putchar). Returning false halts the guest the same way an
// unrecognized subcode does by default.
type HostSyscall func(s *State, subcode, arg uint32) bool

// Step executes a single instruction at s.PC, advancing s.PC and
// s.Registers in place. It returns false when execution should stop
// (ECALL exit, or any diagnosed error), true otherwise.
//
// rd must be computed from rs1's value captured before any write to rd,
// since rd and rs1 may name the same register (JALR in particular).
func Step(s *State, out *bufio.Writer, host HostSyscall) bool {
	R := &s.Registers
	mem := s.Memory

	word := mem.LoadWord(s.PC)
	instr := riscv.Decode(word)
	curPC := s.PC
	s.PC = (s.PC + 4) & mem.Mask

	cont := true
	rd, rs1, rs2 := instr.Rd, instr.Rs1, instr.Rs2

	switch instr.Opcode {
	case riscv.OpcodeOp:
		a, b := R[rs1], R[rs2]
		switch instr.Funct3 {
		case riscv.Func3ADDSUB:
			if instr.Funct7 == riscv.Func7Alt {
				R[rd] = a - b
			} else {
				R[rd] = a + b
			}
		case riscv.Func3XOR:
			R[rd] = a ^ b
		case riscv.Func3OR:
			R[rd] = a | b
		case riscv.Func3AND:
			R[rd] = a & b
		case riscv.Func3SLL:
			R[rd] = a << (b & 0x1f)
		case riscv.Func3SRLSRA:
			if instr.Funct7 == riscv.Func7Alt {
				R[rd] = uint32(int32(a) >> (b & 0x1f))
			} else {
				R[rd] = a >> (b & 0x1f)
			}
		case riscv.Func3SLT:
			R[rd] = boolToWord(int32(a) < int32(b))
		case riscv.Func3SLTU:
			R[rd] = boolToWord(a < b)
		default:
			s.report(riscv.ErrUnknownFunct3, "R-type")
			cont = false
		}

	case riscv.OpcodeImm:
		a := R[rs1]
		imm := riscv.ImmI(word)
		switch instr.Funct3 {
		case riscv.Func3ADDSUB:
			R[rd] = a + uint32(imm)
		case riscv.Func3XOR:
			R[rd] = a ^ uint32(imm)
		case riscv.Func3OR:
			R[rd] = a | uint32(imm)
		case riscv.Func3AND:
			R[rd] = a & uint32(imm)
		case riscv.Func3SLT:
			R[rd] = boolToWord(int32(a) < imm)
		case riscv.Func3SLTU:
			R[rd] = boolToWord(a < uint32(imm))
		case riscv.Func3SLL:
			if instr.Funct7 == riscv.Func7Default {
				R[rd] = a << (uint32(imm) & 0x1f)
			} else {
				s.report(riscv.ErrUnknownFunct7, "SLLI")
				cont = false
			}
		case riscv.Func3SRLSRA:
			switch instr.Funct7 {
			case riscv.Func7Default:
				R[rd] = a >> (uint32(imm) & 0x1f)
			case riscv.Func7Alt:
				R[rd] = uint32(int32(a) >> (uint32(imm) & 0x1f))
			default:
				s.report(riscv.ErrUnknownFunct7, "SRLI/SRAI")
				cont = false
			}
		default:
			s.report(riscv.ErrUnknownFunct3, "I-type")
			cont = false
		}

	case riscv.OpcodeAUIPC:
		R[rd] = curPC + uint32(riscv.ImmU(word))

	case riscv.OpcodeLUI:
		R[rd] = uint32(riscv.ImmU(word))

	case riscv.OpcodeLoad:
		addr := R[rs1] + uint32(riscv.ImmI(word))
		switch instr.Funct3 {
		case riscv.Func3LB:
			R[rd] = uint32(mem.LoadByteSigned(addr))
		case riscv.Func3LH:
			R[rd] = uint32(mem.LoadHalfSigned(addr))
		case riscv.Func3LW:
			R[rd] = mem.LoadWord(addr)
		case riscv.Func3LBU:
			R[rd] = uint32(mem.LoadByte(addr))
		case riscv.Func3LHU:
			R[rd] = uint32(mem.LoadHalf(addr))
		default:
			s.report(riscv.ErrUnknownFunct3, "Load")
			cont = false
		}

	case riscv.OpcodeStore:
		addr := R[rs1] + uint32(riscv.ImmS(word))
		switch instr.Funct3 {
		case riscv.Func3SW:
			mem.StoreWord(addr, R[rs2])
		case riscv.Func3SH:
			mem.StoreHalf(addr, uint16(R[rs2]))
		case riscv.Func3SB:
			mem.StoreByte(addr, uint8(R[rs2]))
		default:
			s.report(riscv.ErrUnknownFunct3, "Store")
			cont = false
		}

	case riscv.OpcodeBranch:
		a, b := R[rs1], R[rs2]
		var take bool
		switch instr.Funct3 {
		case riscv.Func3BEQ:
			take = a == b
		case riscv.Func3BNE:
			take = a != b
		case riscv.Func3BLTU:
			take = a < b
		case riscv.Func3BGEU:
			take = a >= b
		case riscv.Func3BLT:
			take = int32(a) < int32(b)
		case riscv.Func3BGE:
			take = int32(a) >= int32(b)
		default:
			s.report(riscv.ErrUnknownFunct3, "Branch")
			cont = false
		}
		if take {
			s.PC = (curPC + uint32(riscv.ImmB(word))) & mem.Mask
		}

	case riscv.OpcodeJAL:
		R[rd] = s.PC
		s.PC = (curPC + uint32(riscv.ImmJ(word))) & mem.Mask

	case riscv.OpcodeJALR:
		if instr.Funct3 == 0x0 {
			rs1Value := R[rs1]
			R[rd] = s.PC
			s.PC = (uint32(int32(rs1Value)+riscv.ImmI(word)) &^ 1) & mem.Mask
		} else {
			s.report(riscv.ErrUnknownFunct3, "JALR")
			cont = false
		}

	case riscv.OpcodeSystem:
		switch (word >> 20) & 0xfff {
		case riscv.SystemEBREAK:
			cont = false
		default: // ECALL and anything else encoded in this opcode
			switch R[regA7] {
			case riscv.EcallExit:
				cont = false
			case riscv.EcallPutchar:
				if out != nil {
					out.WriteByte(byte(R[regA0]))
					out.Flush()
				}
			default:
				if host != nil {
					cont = host(s, R[regA7], R[regA0])
				} else {
					s.report(riscv.ErrUnknownEcall, fmt.Sprintf("a7=%d", R[regA7]))
					cont = false
				}
			}
		}

	case riscv.OpcodeFence:
		// no-op

	default:
		s.report(riscv.ErrUnknownOpcode, fmt.Sprintf("opcode=%#x", instr.Opcode))
		cont = false
	}

	R[0] = 0
	s.Step++
	return cont
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Run steps the interpreter until Step returns false or maxSteps have
// executed (maxSteps == 0 means unbounded).
func Run(s *State, out *bufio.Writer, host HostSyscall, maxSteps uint64) uint64 {
	var i uint64
	for i = 0; maxSteps == 0 || i < maxSteps; i++ {
		if !Step(s, out, host) {
			i++
			break
		}
	}
	s.Exited = true
	s.ExitCode = uint8(s.Registers[regA0])
	return i
}
