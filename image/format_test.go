package image_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janzwiener/r5vm-go/image"
)

// buildImage hand-assembles a minimal .r5m file: the 64-byte header
// followed by a code section and an optional data section, mirroring
// the layout r5vm_load expects.
func buildImage(t *testing.T, code, data []byte, loadAddr, entry uint32) []byte {
	t.Helper()
	h := image.Header{
		Magic:      0x6d763572,
		Version:    1,
		Flags:      0,
		Entry:      entry,
		LoadAddr:   loadAddr,
		CodeOffset: 64,
		CodeSize:   uint32(len(code)),
		DataOffset: 64 + uint32(len(code)),
		DataSize:   uint32(len(data)),
		BSSSize:    0,
		TotalSize:  uint32(64 + len(code) + len(data)),
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	buf.Write(code)
	buf.Write(data)
	return buf.Bytes()
}

func TestLoadPopulatesCodeAndData(t *testing.T) {
	code := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0
	data := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	raw := buildImage(t, code, data, 0x1000, 0x1000)

	s, err := image.Load(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	defer s.Memory.Close()

	require.Equal(t, uint32(0x1000), s.PC)
	require.Equal(t, uint32(0x1000), s.Entry)
	require.Equal(t, uint32(0x00000013), s.Memory.LoadWord(0x1000))
	require.Equal(t, uint32(0xddccbbaa), s.Memory.LoadWord(0x1004))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	raw := buildImage(t, []byte{0, 0, 0, 0}, nil, 0, 0)
	raw[0] ^= 0xff
	_, err := image.Load(bytes.NewReader(raw), 0)
	require.Error(t, err)
}

func TestLoadRejects64Bit(t *testing.T) {
	raw := buildImage(t, []byte{0, 0, 0, 0}, nil, 0, 0)
	raw[6] = 1 // Flags low byte: flag64Bit
	_, err := image.Load(bytes.NewReader(raw), 0)
	require.Error(t, err)
}

func TestLoadHonorsMemOverride(t *testing.T) {
	raw := buildImage(t, []byte{0, 0, 0, 0}, nil, 0, 0)
	s, err := image.Load(bytes.NewReader(raw), 1<<20)
	require.NoError(t, err)
	defer s.Memory.Close()
	require.GreaterOrEqual(t, len(s.Memory.Bytes), 1<<20)
}

func TestParseMemArg(t *testing.T) {
	cases := map[string]uint64{
		"1024":    1024,
		"4k":      4096,
		"4K":      4096,
		"2m":      2 * 1024 * 1024,
		"0x1000":  0x1000,
	}
	for in, want := range cases {
		got, err := image.ParseMemArg(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseMemArgRejectsGarbage(t *testing.T) {
	_, err := image.ParseMemArg("not-a-number")
	require.Error(t, err)
}
