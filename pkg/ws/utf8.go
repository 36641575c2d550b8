package ws

// Streaming UTF-8 validation via Bjoern Hoehrmann's table-driven DFA
// (https://bjoern.hoehrmann.de/utf-8/decoder/dfa/). The stdlib's
// unicode/utf8.Valid only validates a complete, already-assembled byte
// slice; this engine must validate a text message incrementally, one
// fragment at a time, without re-scanning bytes already seen and without
// losing the "mid code point" state across fragment boundaries. The DFA
// below is the standard construction: a byte-class table collapses the
// 256 possible input bytes into a small number of classes, and a
// transition table maps (state, class) to the next state.

const (
	dfaAccept uint32 = 0
	dfaReject uint32 = 12
)

// utf8Classes maps each possible byte value to its DFA character class.
var utf8Classes = [256]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3,
	11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// utf8Transitions maps (state, class) to the next state; state is always
// a multiple of 12.
var utf8Transitions = [108]uint32{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8Step advances the DFA by one byte, returning the new state.
func utf8Step(state uint32, b byte) uint32 {
	class := uint32(utf8Classes[b])
	return utf8Transitions[state+class]
}

// utf8Validator incrementally validates a byte stream as UTF-8 across an
// arbitrary number of Write calls, which is what fragmented TEXT messages
// require: the engine sees one frame's payload at a time and must carry
// validation state to the next fragment.
type utf8Validator struct {
	state uint32
}

// write feeds additional bytes into the validator. It returns false the
// moment the stream is known to be invalid; once false, it stays false
// and further bytes are not inspected.
func (v *utf8Validator) write(p []byte) bool {
	if v.state == dfaReject {
		return false
	}
	for _, b := range p {
		v.state = utf8Step(v.state, b)
		if v.state == dfaReject {
			return false
		}
	}
	return true
}

// complete reports whether the stream validated so far ends on a
// complete code point boundary, i.e. is valid as a whole message.
func (v *utf8Validator) complete() bool {
	return v.state == dfaAccept
}

// validUTF8 is a convenience wrapper for validating a single complete
// buffer (used for CLOSE reason payloads, which are never fragmented).
func validUTF8(p []byte) bool {
	var v utf8Validator
	return v.write(p) && v.complete()
}
