// Package image loads .r5m program images into a freshly allocated
// vm.State, grounded on the reference loader's r5vm_load and
// mem_size_power2 in original_source/src/main.c.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/janzwiener/r5vm-go/vm"
)

const (
	magic       = 0x6d763572 // "r5vm" little endian
	minMemSize  = 64 * 1024
	headerBytes = 64
	flag64Bit   = 1 << 0
)

// Header mirrors r5vm_header_t exactly, field for field, packed with no
// padding (every field is already naturally aligned at its own size).
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	Entry      uint32
	LoadAddr   uint32
	CodeOffset uint32
	CodeSize   uint32
	DataOffset uint32
	DataSize   uint32
	BSSSize    uint32
	TotalSize  uint32
	Reserved   [24]byte
}

func readHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("image: reading header: %w", err)
	}
	return h, nil
}

// memSizePower2 reproduces mem_size_power2's heuristic: +25% headroom or
// at least needed+64KiB, raised to override if larger, then rounded up
// to the next power of two.
func memSizePower2(override, needed uint64) uint32 {
	total := needed + needed/4
	if total < needed+minMemSize {
		total = needed + minMemSize
	}
	if total < override {
		total = override
	}
	pow2 := uint64(64)
	for pow2 < total {
		pow2 *= 2
	}
	return uint32(pow2)
}

// ParseMemArg parses a --mem override argument, accepting a bare byte
// count or a value suffixed with k/K or m/M, exactly like parse_mem_arg.
func ParseMemArg(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	suffix := byte(0)
	numPart := s
	if len(s) > 0 {
		last := s[len(s)-1]
		if last == 'k' || last == 'K' || last == 'm' || last == 'M' {
			suffix = last
			numPart = s[:len(s)-1]
		}
	}
	numPart = strings.TrimSpace(numPart)
	val, err := strconv.ParseUint(numPart, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("image: bad --mem value %q: %w", s, err)
	}
	switch suffix {
	case 'k', 'K':
		val *= 1024
	case 'm', 'M':
		val *= 1024 * 1024
	}
	return val, nil
}

// Load reads a complete .r5m image from r and returns a freshly
// allocated vm.State with its code and data sections populated,
// grounded on r5vm_load. memOverride is the --mem CLI override in
// bytes, or 0 to use the heuristic unmodified.
func Load(r io.Reader, memOverride uint64) (*vm.State, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if len(raw) < headerBytes {
		return nil, fmt.Errorf("image: file too small for header")
	}
	h, err := readHeader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("image: bad magic %#x", h.Magic)
	}
	if h.Flags&flag64Bit != 0 {
		return nil, fmt.Errorf("image: 64-bit image not supported")
	}

	needed := uint64(h.CodeSize) + uint64(h.DataSize) + uint64(h.BSSSize)
	memSize := memSizePower2(memOverride, needed)

	if uint64(h.LoadAddr)+needed > uint64(memSize) {
		return nil, fmt.Errorf("image: unsupported load address %#x (memory: %d)", h.LoadAddr, memSize)
	}

	s, err := vm.NewState(memSize)
	if err != nil {
		return nil, err
	}

	codeEnd := uint64(h.CodeOffset) + uint64(h.CodeSize)
	if codeEnd > uint64(len(raw)) {
		return nil, fmt.Errorf("image: .code section out of bounds")
	}
	s.Memory.WriteSection(h.LoadAddr, raw[h.CodeOffset:codeEnd])

	if h.DataSize > 0 {
		dataEnd := uint64(h.DataOffset) + uint64(h.DataSize)
		if dataEnd > uint64(len(raw)) {
			return nil, fmt.Errorf("image: .data section out of bounds")
		}
		s.Memory.WriteSection(h.LoadAddr+h.CodeSize, raw[h.DataOffset:dataEnd])
	}

	s.Memory.CodeOffset = h.LoadAddr
	s.Memory.CodeSize = h.CodeSize
	s.Memory.DataOffset = h.LoadAddr + h.CodeSize
	s.Memory.DataSize = h.DataSize
	s.Memory.BSSOffset = s.Memory.DataOffset + h.DataSize
	s.Memory.BSSSize = h.BSSSize

	s.Entry = h.Entry & s.Memory.Mask
	s.PC = s.Entry

	return s, nil
}
