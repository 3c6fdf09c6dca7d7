package riscv

// Opcodes (bits [6:0] of the instruction word).
const (
	OpcodeLoad    = 0x03
	OpcodeFence   = 0x0F
	OpcodeImm     = 0x13
	OpcodeAUIPC   = 0x17
	OpcodeStore   = 0x23
	OpcodeOp      = 0x33
	OpcodeLUI     = 0x37
	OpcodeBranch  = 0x63
	OpcodeJALR    = 0x67
	OpcodeJAL     = 0x6F
	OpcodeSystem  = 0x73
)

// funct3 values, OP-IMM and OP (shared encoding).
const (
	Func3ADDSUB = 0x0
	Func3SLL    = 0x1
	Func3SLT    = 0x2
	Func3SLTU   = 0x3
	Func3XOR    = 0x4
	Func3SRLSRA = 0x5
	Func3OR     = 0x6
	Func3AND    = 0x7
)

// funct3 values, BRANCH.
const (
	Func3BEQ  = 0x0
	Func3BNE  = 0x1
	Func3BLT  = 0x4
	Func3BGE  = 0x5
	Func3BLTU = 0x6
	Func3BGEU = 0x7
)

// funct3 values, LOAD.
const (
	Func3LB  = 0x0
	Func3LH  = 0x1
	Func3LW  = 0x2
	Func3LBU = 0x4
	Func3LHU = 0x5
)

// funct3 values, STORE.
const (
	Func3SB = 0x0
	Func3SH = 0x1
	Func3SW = 0x2
)

// funct3 values, SYSTEM.
const (
	Func3ECALLEBREAK = 0x0
)

// funct7 values distinguishing ADD/SUB and SRL/SRA.
const (
	Func7Default = 0x00
	Func7Alt     = 0x20
)

// SYSTEM immediate field (imm[11:0] of an I-type encoding) selecting
// ECALL vs EBREAK.
const (
	SystemECALL  = 0x000
	SystemEBREAK = 0x001
)

// Host ecall subcodes, carried in a7.
const (
	EcallExit    = 0
	EcallPutchar = 1
)

// Diagnostic error codes, reported through State.ReportError and not
// otherwise observable by guest code.
const (
	ErrUnknownOpcode  = uint32(0xf001c0de)
	ErrUnknownFunct3  = uint32(0xf001c0d3)
	ErrUnknownFunct7  = uint32(0xf001c0d7)
	ErrUnknownEcall   = uint32(0xbadeca11)
	ErrUnsupported64  = uint32(0xbad64640)
	ErrBadImageMagic  = uint32(0xbad6d763)
	ErrImageTooLarge  = uint32(0xbad51231)
)
