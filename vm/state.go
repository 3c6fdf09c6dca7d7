package vm

import (
	"fmt"
	"io"
)

// State is the complete architectural state shared by both execution
// engines: the interpreter and the JIT each operate on (and must
// terminate with byte-identical) a State.
type State struct {
	Registers [32]uint32 `json:"registers"`
	PC        uint32     `json:"pc"`

	// Entry is the image entry point PC is reset to. image.Load sets it
	// alongside PC when populating a freshly constructed State.
	Entry uint32 `json:"entry"`

	Memory *Memory `json:"memory"`

	ExitCode uint8 `json:"exit"`
	Exited   bool  `json:"exited"`

	Step uint64 `json:"step"`

	// Debug is carried along by Clone but is not consulted by Step or by
	// Memory: no pre-mask out-of-bounds diagnostic is raised, and
	// addresses are masked the same way whether it is set or not.
	Debug bool `json:"-"`

	// ReportError, when set, is called by Step on any diagnosed error
	// (unknown opcode, funct3 or funct7, or an unknown ecall subcode when
	// no host handler is given). Step halts after such an error whether
	// or not ReportError is set; the callback only observes it.
	ReportError func(code uint32, detail string) `json:"-"`
}

// NewState allocates a State backed by a freshly allocated Memory of the
// given power-of-two size. Construction fails, with no partial State
// returned, if memSize isn't a power of two.
func NewState(memSize uint32) (*State, error) {
	mem, err := NewMemory(memSize)
	if err != nil {
		return nil, err
	}
	return &State{Memory: mem}, nil
}

// Reset zeroes every register, sets PC back to Entry, clears exit/step
// bookkeeping, and zeroes the backing memory, restoring the State to run
// the same loaded image again without a fresh allocation. Section
// offsets and the Debug/ReportError hooks are left untouched.
func (s *State) Reset() {
	s.Registers = [32]uint32{}
	s.PC = s.Entry
	s.ExitCode = 0
	s.Exited = false
	s.Step = 0
	for i := range s.Memory.Bytes {
		s.Memory.Bytes[i] = 0
	}
}

func (s *State) report(code uint32, detail string) {
	if s.ReportError != nil {
		s.ReportError(code, detail)
	}
}

// DumpRegisters prints PC and all 32 registers, eight per line, matching
// the diagnostic dump the original VM prints on a fatal error.
func (s *State) DumpRegisters(w io.Writer) {
	fmt.Fprintf(w, "pc  = %08x\n", s.PC)
	for i := 0; i < 32; i += 8 {
		fmt.Fprintf(w, "x%-2d-x%-2d:", i, i+7)
		for j := 0; j < 8; j++ {
			fmt.Fprintf(w, " %08x", s.Registers[i+j])
		}
		fmt.Fprintln(w)
	}
}

// Equal reports whether two states have identical register files (PC
// included, reported in regsMatch) and memory contents, the dual-engine
// cross-check spec requires.
func (s *State) Equal(other *State) (regsMatch, memMatch bool) {
	regsMatch = s.Registers == other.Registers && s.PC == other.PC
	memMatch = len(s.Memory.Bytes) == len(other.Memory.Bytes)
	if memMatch {
		for i := range s.Memory.Bytes {
			if s.Memory.Bytes[i] != other.Memory.Bytes[i] {
				memMatch = false
				break
			}
		}
	}
	return
}

// Clone produces an independent deep copy, used to run the interpreter
// and the JIT from the same starting image.
func (s *State) Clone() *State {
	c := &State{
		Registers: s.Registers,
		PC:        s.PC,
		Entry:     s.Entry,
		ExitCode:  s.ExitCode,
		Exited:    s.Exited,
		Step:      s.Step,
		Debug:     s.Debug,
	}
	mem, err := NewMemory(uint32(len(s.Memory.Bytes)))
	if err != nil {
		// s.Memory was itself constructed through NewMemory, so its
		// size is already known to be a valid power of two.
		panic(err)
	}
	c.Memory = mem
	copy(c.Memory.Bytes, s.Memory.Bytes)
	c.Memory.CodeOffset = s.Memory.CodeOffset
	c.Memory.CodeSize = s.Memory.CodeSize
	c.Memory.DataOffset = s.Memory.DataOffset
	c.Memory.DataSize = s.Memory.DataSize
	c.Memory.BSSOffset = s.Memory.BSSOffset
	c.Memory.BSSSize = s.Memory.BSSSize
	return c
}
