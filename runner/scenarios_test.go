package runner_test

// End-to-end scenario tests, one per spec.md's concrete scenario list.
// Each builds a tiny .r5m image in memory (no on-disk fixture — hand
// assembling real binary files byte-for-byte isn't practical without an
// assembler toolchain, and the loader path these exercise is identical
// whether the bytes come from disk or a buffer) and runs it through both
// engines, the same two engines runner.RunExpect drives.

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janzwiener/r5vm-go/image"
	"github.com/janzwiener/r5vm-go/jit"
	"github.com/janzwiener/r5vm-go/riscv"
	"github.com/janzwiener/r5vm-go/vm"
)

func asmIType(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func asmRType(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func asmSType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | opcode
}

func asmBType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u>>11&1)<<7 | (u>>1&0xf)<<8 | opcode
}

func asmUType(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | rd<<7 | opcode
}

func asmJType(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | opcode
}

func asmEcall(a7, a0 uint32) []uint32 {
	return []uint32{
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 17, 0, int32(a7)),
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 10, 0, int32(a0)),
		asmIType(riscv.OpcodeSystem, riscv.Func3ECALLEBREAK, 0, 0, riscv.SystemECALL),
	}
}

// buildR5M hand-assembles a complete .r5m image around a code section
// loaded at address 0, the layout image.Load expects.
func buildR5M(t *testing.T, code []uint32) []byte {
	t.Helper()
	codeBytes := make([]byte, len(code)*4)
	for i, w := range code {
		binary.LittleEndian.PutUint32(codeBytes[i*4:], w)
	}
	h := image.Header{
		Magic:      0x6d763572,
		Version:    1,
		Entry:      0,
		LoadAddr:   0,
		CodeOffset: 64,
		CodeSize:   uint32(len(codeBytes)),
		DataOffset: 64 + uint32(len(codeBytes)),
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	buf.Write(codeBytes)
	return buf.Bytes()
}

func runBothEngines(t *testing.T, raw []byte) (interp, jitResult *vm.State) {
	t.Helper()
	interpState, err := image.Load(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	t.Cleanup(func() { interpState.Memory.Close() })
	vm.Run(interpState, nil, vm.NoopHost, 0)

	jitState, err := image.Load(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	t.Cleanup(func() { jitState.Memory.Close() })
	prog, err := jit.Compile(jitState.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { prog.Close() })
	prog.Run(jitState, nil, vm.NoopHost)

	return interpState, jitState
}

func requireEnginesAgree(t *testing.T, interp, jitState *vm.State) {
	t.Helper()
	regsMatch, memMatch := interp.Equal(jitState)
	require.True(t, regsMatch, "interpreter and jit registers diverged")
	require.True(t, memMatch, "interpreter and jit memory diverged")
}

func TestScenarioAddChain(t *testing.T) {
	code := []uint32{
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 11, 0, 10), // addi a1, x0, 10
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 20), // addi a2, x0, 20
		asmRType(riscv.OpcodeOp, riscv.Func3ADDSUB, riscv.Func7Default, 13, 11, 12), // add a3, a1, a2
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(30), interp.Registers[13])
	require.True(t, interp.Exited)
	require.Equal(t, uint8(0), interp.ExitCode)
}

func TestScenarioSLTIUSignExtension(t *testing.T) {
	code := []uint32{
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 11, 0, -2), // addi a1, x0, 0xFFFFFFFE
		asmIType(riscv.OpcodeImm, riscv.Func3SLTU, 18, 11, -1),  // sltiu s2, a1, -1
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(1), interp.Registers[18])
}

func TestScenarioByteEndianness(t *testing.T) {
	code := []uint32{
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 11, 0, 0x100), // addi a1, x0, 0x100 (base addr)
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 0xaa),
		asmSType(riscv.OpcodeStore, riscv.Func3SB, 11, 12, 0),
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 0xbb),
		asmSType(riscv.OpcodeStore, riscv.Func3SB, 11, 12, 1),
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 0xcc),
		asmSType(riscv.OpcodeStore, riscv.Func3SB, 11, 12, 2),
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 0xdd),
		asmSType(riscv.OpcodeStore, riscv.Func3SB, 11, 12, 3),
		asmIType(riscv.OpcodeLoad, riscv.Func3LW, 13, 11, 0), // lw a3, 0(a1)
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(0xddccbbaa), interp.Registers[13])
}

func TestScenarioBranchSignedness(t *testing.T) {
	// a1 = 0xFFFFFFFF, a2 = 10. BLTU must not branch (unsigned a1 is
	// huge); BLT must branch (signed a1 is -1 < 10).
	code := []uint32{
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 11, 0, -1),
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 12, 0, 10),
		asmBType(riscv.OpcodeBranch, riscv.Func3BLTU, 11, 12, 8), // not taken
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 13, 0, 1),   // marks BLTU-not-taken path
		asmBType(riscv.OpcodeBranch, riscv.Func3BLT, 11, 12, 8),  // taken
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 14, 0, 1),   // must be skipped
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(1), interp.Registers[13], "BLTU must not branch")
	require.Equal(t, uint32(0), interp.Registers[14], "BLT must branch, skipping this addi")
}

func TestScenarioJALJALRLinkAndReturn(t *testing.T) {
	// pc0:  jal ra, F (F = pc20)      -> ra = 4, jumps straight to F
	// pc4:  addi a4, a4, 1            -> the post-JAL instruction; reached
	//                                    only once, via the jalr below
	// pc8..16: ecall exit 0            -> halts once control returns here
	// pc20 (F): addi a3, x0, 3
	// pc24: jalr zero, ra, 0          -> ra == 4, jumps back to pc4
	code := []uint32{
		asmJType(riscv.OpcodeJAL, 1, 20),                       // jal ra, +20 -> F at pc20
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 14, 14, 1), // addi a4, a4, 1
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	code = append(code,
		asmIType(riscv.OpcodeImm, riscv.Func3ADDSUB, 13, 0, 3), // F: addi a3, x0, 3
		asmIType(riscv.OpcodeJALR, 0, 0, 1, 0),                 // jalr zero, ra, 0
	)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(3), interp.Registers[13])
	require.Equal(t, uint32(4), interp.Registers[1], "ra must hold pc+4 from the jal")
	require.Equal(t, uint32(1), interp.Registers[14], "post-JAL instruction must execute exactly once")
}

func TestScenarioAUIPCConsistency(t *testing.T) {
	code := []uint32{
		asmUType(riscv.OpcodeAUIPC, 6, 0),          // auipc t1, 0 at pc=0
		asmUType(riscv.OpcodeAUIPC, 7, 1<<12),      // auipc t2, 1 at pc=4
	}
	code = append(code, asmEcall(riscv.EcallExit, 0)...)
	raw := buildR5M(t, code)

	interp, jitState := runBothEngines(t, raw)
	requireEnginesAgree(t, interp, jitState)
	require.Equal(t, uint32(0), interp.Registers[6])
	require.Equal(t, uint32(0x1004), interp.Registers[7]-interp.Registers[6])
}
