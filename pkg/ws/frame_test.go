package ws

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmaskInvariance(t *testing.T) {
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	payloads := [][]byte{
		nil,
		{1},
		[]byte("hello world"),
		bytes.Repeat([]byte{0x42}, 300),
	}
	for _, p := range payloads {
		masked := append([]byte(nil), p...)
		unmask(masked, key)
		unmask(masked, key)
		require.Equal(t, p, masked)
	}
}

func TestEncodeFrameLengthForms(t *testing.T) {
	cases := []int{0, 125, 126, 65535, 65536}
	for _, n := range cases {
		payload := bytes.Repeat([]byte{0x61}, n)
		encoded := encodeFrame(OpBinary, payload)
		require.True(t, encoded[0]&0x80 != 0, "FIN must be set")
		require.Equal(t, byte(OpBinary), encoded[0]&0x0F)
		require.True(t, encoded[1]&0x80 == 0, "server frames are never masked")
	}
}

// TestEncodeFrameHeaderLengthRoundTrip covers the full length-codec
// property up through the 2^31 and 2^32-1 boundaries named by
// SPEC_FULL.md's "Length codec round-trip" testable property. It
// exercises header encode/decode directly, via encodeFrameHeader and a
// masked decode of the same bytes, rather than allocating an actual
// multi-gigabyte payload slice.
func TestEncodeFrameHeaderLengthRoundTrip(t *testing.T) {
	lengths := []uint64{0, 125, 126, 65535, 65536, 1 << 31, 1<<32 - 1}
	for _, n := range lengths {
		header := encodeFrameHeader(OpBinary, n)
		require.True(t, header[0]&0x80 != 0, "FIN must be set")
		require.Equal(t, byte(OpBinary), header[0]&0x0F)
		require.True(t, header[1]&0x80 == 0, "server frames are never masked")

		// Re-encode the same header bytes as a masked client frame (set
		// the MASK bit and append a mask key) so readFrameHeader, which
		// only accepts masked frames, can decode the length back out.
		masked := append([]byte(nil), header...)
		masked[1] |= 0x80
		masked = append(masked, 0, 0, 0, 0) // zero mask key, unused here

		r := bufio.NewReader(bytes.NewReader(masked))
		h, err := readFrameHeader(r)
		require.NoError(t, err)
		require.Equal(t, n, h.length, "decoded length must round-trip for %d", n)
	}
}

func TestReadFrameHeaderRejectsUnmasked(t *testing.T) {
	// FIN=1, opcode=text, MASK=0, len=5.
	raw := []byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'}
	r := bufio.NewReader(bytes.NewReader(raw))
	_, err := readFrameHeader(r)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestReadFrameHeaderRejectsReservedBits(t *testing.T) {
	raw := []byte{0xB1, 0x80, 0, 0, 0, 0} // RSV2 and RSV3 set
	r := bufio.NewReader(bytes.NewReader(raw))
	_, err := readFrameHeader(r)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestReadFrameHeaderRejectsOversizedControlFrame(t *testing.T) {
	// PING, FIN=1, masked, length 126 (extended) -- control frames must be <=125.
	raw := []byte{0x89, 0xFE, 0, 126, 0, 0, 0, 0}
	r := bufio.NewReader(bytes.NewReader(raw))
	_, err := readFrameHeader(r)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestReadFrameRoundTrip(t *testing.T) {
	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	payload := []byte("round trip")
	masked := append([]byte(nil), payload...)
	unmask(masked, key)

	var buf bytes.Buffer
	buf.WriteByte(0x81) // FIN=1, text
	buf.WriteByte(0x80 | byte(len(masked)))
	buf.Write(key[:])
	buf.Write(masked)

	r := bufio.NewReader(&buf)
	h, err := readFrameHeader(r)
	require.NoError(t, err)
	require.True(t, h.fin)
	require.Equal(t, OpText, h.opcode)

	got, err := readFramePayload(r, h)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
