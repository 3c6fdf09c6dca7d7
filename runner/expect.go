// Package runner drives .r5m images against a sibling .expect file,
// grounded on original_source/tests/test_runner_advanced.c's register
// validation, run through both execution engines independently.
package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/janzwiener/r5vm-go/image"
	"github.com/janzwiener/r5vm-go/jit"
	"github.com/janzwiener/r5vm-go/vm"
)

var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// parseRegName accepts either an ABI name (a0, sp, ra, ...) or the raw
// x0..x31 form, exactly like parse_reg_name.
func parseRegName(name string) (int, bool) {
	for i, n := range abiNames {
		if n == name {
			return i, true
		}
	}
	if strings.HasPrefix(name, "x") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 && n < 32 {
			return n, true
		}
	}
	return -1, false
}

// Expectation is one "expect <reg> = <value>" line.
type Expectation struct {
	Reg      int
	RegName  string
	Expected uint32
}

// Spec is a parsed .expect file.
type Spec struct {
	Expectations []Expectation
	MaxSteps     uint64
}

// ParseExpect reads the "expect <reg> = <value>" / "max_steps <n>"
// grammar described for .expect files: blank lines and lines starting
// with '#' are ignored.
func ParseExpect(r io.Reader) (*Spec, error) {
	spec := &Spec{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "max_steps":
			if len(fields) != 2 {
				return nil, fmt.Errorf("runner: line %d: malformed max_steps", lineNo)
			}
			n, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("runner: line %d: %w", lineNo, err)
			}
			spec.MaxSteps = n
		case "expect":
			if len(fields) != 4 || fields[2] != "=" {
				return nil, fmt.Errorf("runner: line %d: expected \"expect <reg> = <value>\"", lineNo)
			}
			reg, ok := parseRegName(fields[1])
			if !ok {
				return nil, fmt.Errorf("runner: line %d: unknown register %q", lineNo, fields[1])
			}
			val, err := strconv.ParseUint(fields[3], 0, 32)
			if err != nil {
				return nil, fmt.Errorf("runner: line %d: %w", lineNo, err)
			}
			spec.Expectations = append(spec.Expectations, Expectation{Reg: reg, RegName: fields[1], Expected: uint32(val)})
		default:
			return nil, fmt.Errorf("runner: line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return spec, nil
}

// expectPath derives foo.expect from foo.r5m the way
// test_runner_advanced.c's load_expectations swaps the extension.
func expectPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + ".expect"
}

// Result is the outcome of running one image through both engines and
// checking it against its .expect file.
type Result struct {
	Image    string
	Failures []string
}

func (r *Result) Passed() bool { return len(r.Failures) == 0 }

func checkExpectations(engine string, s *vm.State, spec *Spec, result *Result) {
	for _, e := range spec.Expectations {
		got := s.Registers[e.Reg]
		if got != e.Expected {
			result.Failures = append(result.Failures, fmt.Sprintf(
				"%s: %s (x%d) = %#x, want %#x", engine, e.RegName, e.Reg, got, e.Expected))
		}
	}
}

// RunExpect loads imagePath, parses its sibling .expect file, and runs
// the image through the interpreter and the JIT independently, checking
// every named register against its expected value for each engine.
func RunExpect(imagePath string) (*Result, error) {
	specFile, err := os.Open(expectPath(imagePath))
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	defer specFile.Close()
	spec, err := ParseExpect(specFile)
	if err != nil {
		return nil, err
	}

	result := &Result{Image: imagePath}

	interp, err := loadState(imagePath)
	if err != nil {
		return nil, err
	}
	vm.Run(interp, nil, vm.NoopHost, spec.MaxSteps)
	checkExpectations("interpreter", interp, spec, result)

	jitState, err := loadState(imagePath)
	if err != nil {
		return nil, err
	}
	prog, err := jit.Compile(jitState.Memory)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	defer prog.Close()
	prog.Run(jitState, nil, vm.NoopHost)
	checkExpectations("jit", jitState, spec, result)

	if regsMatch, memMatch := interp.Equal(jitState); !regsMatch || !memMatch {
		result.Failures = append(result.Failures, fmt.Sprintf(
			"interpreter/jit divergence (registers match=%v, memory match=%v)", regsMatch, memMatch))
	}

	return result, nil
}

func loadState(imagePath string) (*vm.State, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	defer f.Close()
	return image.Load(f, 0)
}
