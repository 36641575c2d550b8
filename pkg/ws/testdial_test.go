package ws

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testKey is a fixed, valid base64 Sec-WebSocket-Key used by every test
// in this package; its corresponding accept value is computed directly
// from acceptKey for verification.
const testKey = "w3CJHMbDL2EzLkh9GBhXDw=="

// startTestServer starts a Server bound to an ephemeral port on
// 127.0.0.1, returning it already listening in background mode.
func startTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	c := *cfg
	c.Host = "127.0.0.1"
	c.Port = 0
	c.Background = true

	s, err := Serve(context.Background(), &c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// dialWebSocket performs a raw client-side handshake over a plain TCP
// dial, the same approach the engine's own teacher harness used, so that
// tests exercise the exact bytes on the wire rather than a higher-level
// WebSocket client library.
func dialWebSocket(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}

	conn, err := net.Dial("tcp", u.Host)
	require.NoError(t, err)

	req := fmt.Sprintf("GET %s HTTP/1.1\r\n", u.RequestURI()) +
		fmt.Sprintf("Host: %s\r\n", u.Host) +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		fmt.Sprintf("Sec-WebSocket-Key: %s\r\n", testKey) +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	accept := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Accept"))
	sum := sha1.Sum([]byte(testKey + wsGUID))
	require.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), accept)

	return conn, reader
}

// clientSendMasked writes a single masked client frame, as a real
// browser or client library would (the server rejects unmasked frames).
func clientSendMasked(t *testing.T, conn net.Conn, opcode Opcode, fin bool, payload []byte) {
	t.Helper()
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	masked := append([]byte(nil), payload...)
	unmask(masked, key)

	first := byte(opcode)
	if fin {
		first |= 0x80
	}

	var out []byte
	n := len(masked)
	switch {
	case n < 126:
		out = []byte{first, 0x80 | byte(n)}
	case n <= 0xFFFF:
		out = []byte{first, 0x80 | 126, byte(n >> 8), byte(n)}
	default:
		out = []byte{first, 0x80 | 127}
		for i := 7; i >= 0; i-- {
			out = append(out, byte(n>>(8*i)))
		}
	}
	out = append(out, key[:]...)
	out = append(out, masked...)

	_, err := conn.Write(out)
	require.NoError(t, err)
}

// clientReadFrame reads and decodes exactly one server frame. Server
// frames are always unmasked, unlike the client frames the server-side
// decoder in frame.go expects, so this is a small standalone decoder
// rather than a reuse of readFrameHeader/readFramePayload.
func clientReadFrame(t *testing.T, r *bufio.Reader) (Opcode, bool, []byte) {
	t.Helper()

	b0, err := r.ReadByte()
	require.NoError(t, err)
	fin := b0&0x80 != 0
	opcode := Opcode(b0 & 0x0F)

	b1, err := r.ReadByte()
	require.NoError(t, err)
	require.Zero(t, b1&0x80, "server frames must not be masked")
	len7 := b1 & 0x7F

	var length uint64
	switch {
	case len7 < 126:
		length = uint64(len7)
	case len7 == 126:
		var buf [2]byte
		_, err := io.ReadFull(r, buf[:])
		require.NoError(t, err)
		length = uint64(buf[0])<<8 | uint64(buf[1])
	default:
		var buf [8]byte
		_, err := io.ReadFull(r, buf[:])
		require.NoError(t, err)
		for _, b := range buf {
			length = length<<8 | uint64(b)
		}
	}

	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)

	return opcode, fin, payload
}

func withDeadline(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
}
