package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("A"),
		[]byte("ABABABABAB"),
		[]byte("Hello"),
		bytes.Repeat([]byte("the quick brown fox "), 50),
		{0xFF, 0xFF, 0xFF, 0x01, 0x02, 0xFF},
	}
	for _, c := range cases {
		out, err := Decompress(Compress(c))
		require.NoError(t, err)
		assert.Equal(t, c, out)
	}
}

func TestCompressRepeatedInputShrinks(t *testing.T) {
	in := []byte("ABABABABAB")
	out := Compress(in)
	// The 4-byte length header is included in len(out).
	assert.LessOrEqual(t, len(out), len(in))
}

func TestCompressDecompressRandomBytes(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		n := r.Intn(2000)
		buf := make([]byte, n)
		r.Read(buf)
		out, err := Decompress(Compress(buf))
		require.NoError(t, err)
		assert.Equal(t, buf, out)
	}
}

func TestDecompressCorruptStreamReturnsPrefixAndError(t *testing.T) {
	full := Compress([]byte("ABABABABAB"))
	truncated := full[:len(full)-1]
	out, err := Decompress(truncated)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptStream)
	assert.Equal(t, []byte("AB"), out)
}

func TestDecompressRejectsTooShortHeader(t *testing.T) {
	_, err := Decompress([]byte{0x00, 0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestChecksumAndCRCDeterminism(t *testing.T) {
	b := []byte{0x48, 0x65, 0x6C, 0x6C, 0x6F} // "Hello"

	// The additive checksum is a straightforward mod-2^16 byte sum:
	// 72+101+108+108+111=500 for "Hello".
	assert.Equal(t, uint16(500), Checksum16(b))

	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
	assert.Equal(t, CRC16(b), CRC16(b), "CRC16 must be deterministic")
}

func TestCRC16AllZeros(t *testing.T) {
	zeros := make([]byte, 8)
	got := CRC16(zeros)
	assert.NotEqual(t, uint16(0xFFFF), got, "processing bytes must change the running CRC")
}
