package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/janzwiener/r5vm-go/hostmem"
)

// Memory is a sandboxed flat byte buffer whose size is always a power of
// two. Every access is masked with Mask, so there is no out-of-bounds
// fault: addresses simply wrap. Section offsets are recorded purely for
// introspection (diagnostics, dumps) and play no role in addressing.
//
// The backing buffer is obtained from hostmem rather than a plain Go
// make([]byte, ...): the JIT engine bakes this buffer's address into
// generated machine code as a 32-bit immediate (see jit.Compile), so it
// must live outside the Go heap where the garbage collector could move
// it. The interpreter reads and writes the same kind of buffer, so a
// State can be handed to either engine unchanged.
type Memory struct {
	Bytes []byte
	Mask  uint32
	block *hostmem.Block

	CodeOffset uint32
	CodeSize   uint32
	DataOffset uint32
	DataSize   uint32
	BSSOffset  uint32
	BSSSize    uint32
}

// NewMemory allocates a zeroed buffer of the given power-of-two size.
// Construction fails outright for any size that isn't a power of two
// rather than silently computing a useless mask.
func NewMemory(size uint32) (*Memory, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("vm: memory size %d is not a power of two", size)
	}
	blk, err := hostmem.Alloc(int(size), hostmem.Options{})
	if err != nil {
		return nil, err
	}
	return &Memory{
		Bytes: blk.Bytes,
		Mask:  size - 1,
		block: blk,
	}, nil
}

// Addr is the base address of the backing buffer, as baked into
// generated JIT code.
func (m *Memory) Addr() uintptr {
	return m.block.Addr
}

// Close releases the backing buffer. Safe to call on a Memory that was
// never allocated through NewMemory (a no-op).
func (m *Memory) Close() error {
	if m.block == nil {
		return nil
	}
	return hostmem.Free(m.block)
}

// Usage reports the fraction of the buffer occupied by code+data+bss,
// out of the total buffer size, as a percentage in [0, 100].
func (m *Memory) Usage() float64 {
	used := float64(m.CodeSize) + float64(m.DataSize) + float64(m.BSSSize)
	return used / float64(len(m.Bytes)) * 100
}

func (m *Memory) addr(a uint32) uint32 {
	return a & m.Mask
}

// LoadByte reads an unsigned 8-bit value.
func (m *Memory) LoadByte(a uint32) uint8 {
	return m.Bytes[m.addr(a)]
}

// LoadByteSigned reads a sign-extended 8-bit value.
func (m *Memory) LoadByteSigned(a uint32) int32 {
	return int32(int8(m.LoadByte(a)))
}

// LoadHalf reads an unsigned, little-endian 16-bit value. The address
// is masked independently for each of the two bytes, matching the
// original's byte-at-a-time masked reads rather than masking a 16-bit
// span as a whole.
func (m *Memory) LoadHalf(a uint32) uint16 {
	lo := uint16(m.LoadByte(a))
	hi := uint16(m.LoadByte(a + 1))
	return lo | hi<<8
}

// LoadHalfSigned reads a sign-extended, little-endian 16-bit value.
func (m *Memory) LoadHalfSigned(a uint32) int32 {
	return int32(int16(m.LoadHalf(a)))
}

// LoadWord reads a little-endian 32-bit value, one masked byte at a
// time.
func (m *Memory) LoadWord(a uint32) uint32 {
	b0 := uint32(m.LoadByte(a))
	b1 := uint32(m.LoadByte(a + 1))
	b2 := uint32(m.LoadByte(a + 2))
	b3 := uint32(m.LoadByte(a + 3))
	return b0 | b1<<8 | b2<<16 | b3<<24
}

// StoreByte writes an 8-bit value.
func (m *Memory) StoreByte(a uint32, v uint8) {
	m.Bytes[m.addr(a)] = v
}

// StoreHalf writes a little-endian 16-bit value, one masked byte at a
// time.
func (m *Memory) StoreHalf(a uint32, v uint16) {
	m.StoreByte(a, uint8(v))
	m.StoreByte(a+1, uint8(v>>8))
}

// StoreWord writes a little-endian 32-bit value, one masked byte at a
// time.
func (m *Memory) StoreWord(a uint32, v uint32) {
	m.StoreByte(a, uint8(v))
	m.StoreByte(a+1, uint8(v>>8))
	m.StoreByte(a+2, uint8(v>>16))
	m.StoreByte(a+3, uint8(v>>24))
}

// WriteSection copies src into the buffer starting at offset, without
// masking — used by the loader while populating the code/data sections,
// where offset+len(src) is already known to fit inside the buffer.
func (m *Memory) WriteSection(offset uint32, src []byte) {
	copy(m.Bytes[offset:], src)
}

// ReadWord32LE is a small helper for callers that want a plain
// little-endian decode without going through the masked accessors.
func ReadWord32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
