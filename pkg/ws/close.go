package ws

import "encoding/binary"

// StatusCode is the 2-byte code carried in a CLOSE frame's payload.
type StatusCode uint16

const (
	StatusNormalClosure     StatusCode = 1000
	StatusGoingAway         StatusCode = 1001
	StatusProtocolError     StatusCode = 1002
	StatusUnsupportedData   StatusCode = 1003
	StatusInvalidFramePayload StatusCode = 1007
	StatusPolicyViolation   StatusCode = 1008
	StatusMessageTooBig     StatusCode = 1009
	StatusMandatoryExtension StatusCode = 1010
	StatusInternalError     StatusCode = 1011
)

func (c StatusCode) String() string {
	switch c {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusInvalidFramePayload:
		return "invalid frame payload data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusMandatoryExtension:
		return "mandatory extension"
	case StatusInternalError:
		return "internal error"
	default:
		return "unknown"
	}
}

// validCloseCode reports whether code is one a peer is allowed to send
// in a CLOSE frame. Everything else must be sanitized to
// StatusProtocolError before being echoed or logged.
func validCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// parseClosePayload splits a CLOSE frame payload into its status code
// and reason text. An empty payload yields (StatusNormalClosure, "", true)
// per RFC 6455 §7.1.5 (no code means assume 1005, but this engine treats
// an absent code as a plain, reason-less normal closure for echo
// purposes). A payload of length 1 is malformed.
func parseClosePayload(payload []byte) (code StatusCode, reason []byte, ok bool) {
	if len(payload) == 0 {
		return StatusNormalClosure, nil, true
	}
	if len(payload) == 1 {
		return 0, nil, false
	}
	code = StatusCode(binary.BigEndian.Uint16(payload[:2]))
	return code, payload[2:], true
}

// sanitizeCloseCode returns code unchanged if it is one the peer is
// allowed to send, else StatusProtocolError.
func sanitizeCloseCode(code StatusCode) StatusCode {
	if validCloseCode(uint16(code)) {
		return code
	}
	return StatusProtocolError
}

// encodeClosePayload builds a CLOSE frame payload from a status code and
// an optional reason, truncating the reason if necessary to respect the
// control-frame payload ceiling.
func encodeClosePayload(code StatusCode, reason string) []byte {
	b := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(b, uint16(code))
	b = append(b, reason...)
	if len(b) > maxControlPayload {
		b = b[:maxControlPayload]
	}
	return b
}
