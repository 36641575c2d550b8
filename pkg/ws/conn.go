package ws

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// handleConnection is spawned by the accept loop for every accepted TCP
// connection. It assigns a slot, runs the handshake, and then drives the
// connection worker's read loop to completion.
func (s *Server) handleConnection(conn net.Conn, remoteAddr string, remotePort int) {
	slot, ok := s.registry.assign(conn, s.cfg.Port, remoteAddr, remotePort)
	if !ok {
		s.logger().Debug().Str("remote", remoteAddr).Msg("connection rejected, registry full")
		conn.Close()
		return
	}
	s.runWorker(slot)
}

// performHandshake reads the HTTP Upgrade request off r and, on success,
// writes the 101 Switching Protocols response. Bytes read by
// http.ReadRequest past the blank line are retained inside r and become
// the first bytes of the frame stream, since r is the same *bufio.Reader
// the worker's read loop goes on to use.
func (s *Server) performHandshake(slot *connSlot, r *bufio.Reader) error {
	req, err := http.ReadRequest(r)
	if err != nil {
		return &HandshakeError{Reason: err.Error()}
	}
	key, err := validateHandshake(req)
	if err != nil {
		return err
	}
	if _, err := slot.conn.Write(handshakeResponse(key)); err != nil {
		return &HandshakeError{Reason: err.Error()}
	}
	return nil
}

// runWorker is the connection worker task of §4.5: handshake, OnOpen,
// read loop, OnClose, teardown.
func (s *Server) runWorker(slot *connSlot) {
	r := bufio.NewReaderSize(slot.conn, recvBufferSize)

	if err := s.performHandshake(slot, r); err != nil {
		s.logger().Debug().Err(err).Str("remote", slot.remoteAddr).Msg("handshake failed")
		slot.conn.Close()
		s.registry.release(slot)
		return
	}

	slot.setState(StateOpen)
	s.activity.record(eventOpen, slot.handle, slot.remoteAddr)
	if s.cfg.OnOpen != nil {
		s.cfg.OnOpen(slot.handle)
	}

	s.runReadLoopGuarded(slot, r)

	s.joinReaper(slot)
	s.registry.release(slot)
}

// runReadLoopGuarded recovers from a panic raised while reassembling a
// message payload (readFramePayload's make([]byte, h.length) is the one
// allocation sized directly from attacker-controlled input, up to
// MaxFrameLength) so that one connection's allocation failure tears down
// that connection instead of crashing the process.
func (s *Server) runReadLoopGuarded(slot *connSlot, r *bufio.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger().Warn().Interface("recovered", rec).Int64("handle", int64(slot.handle)).
				Msg("panic recovered during payload reassembly")
			s.abort(slot, &AllocError{Recovered: rec})
		}
	}()
	s.readLoop(slot, r)
}

// readLoop consumes frames until the connection ends, dispatching data
// messages to OnMessage and handling control frames inline. A text
// message's payload is validated for UTF-8 incrementally, across
// fragments, using the streaming DFA validator.
func (s *Server) readLoop(slot *connSlot, r *bufio.Reader) {
	var (
		inProgress  bool
		msgType     MessageType
		accum       []byte
		accumLen    uint64
		textValidator utf8Validator
	)

	maxLen := s.cfg.MaxFrameLength
	if maxLen == 0 {
		maxLen = DefaultMaxFrameLength
	}

	for {
		h, err := readFrameHeader(r)
		if err != nil {
			s.abort(slot, err)
			return
		}

		if h.opcode != OpClose && slot.getState() == StateClosing {
			s.abort(slot, &ProtocolError{Reason: "frame received while closing"})
			return
		}

		if h.opcode.isControl() {
			payload, err := readFramePayload(r, h)
			if err != nil {
				s.abort(slot, err)
				return
			}
			if done := s.handleControlFrame(slot, h, payload); done {
				return
			}
			continue
		}

		if h.opcode == OpContinuation && !inProgress {
			s.abort(slot, &ProtocolError{Reason: "continuation with no message in progress"})
			return
		}
		if (h.opcode == OpText || h.opcode == OpBinary) && inProgress {
			s.abort(slot, &ProtocolError{Reason: "new data message while one is in progress"})
			return
		}

		if !inProgress {
			inProgress = true
			accum = accum[:0]
			accumLen = 0
			textValidator = utf8Validator{}
			if h.opcode == OpText {
				msgType = TextMessage
			} else {
				msgType = BinaryMessage
			}
		}

		accumLen += h.length
		if accumLen > maxLen {
			s.abort(slot, &FrameTooLargeError{Size: accumLen, Max: maxLen})
			return
		}

		payload, err := readFramePayload(r, h)
		if err != nil {
			s.abort(slot, err)
			return
		}

		if msgType == TextMessage {
			if !textValidator.write(payload) {
				s.closeWith(slot, StatusInvalidFramePayload, &UTF8Error{})
				return
			}
		}
		accum = append(accum, payload...)

		if h.fin {
			if msgType == TextMessage && !textValidator.complete() {
				s.closeWith(slot, StatusInvalidFramePayload, &UTF8Error{})
				return
			}
			if s.cfg.OnMessage != nil {
				s.cfg.OnMessage(slot.handle, accum, msgType)
			}
			inProgress = false
		}
	}
}

// handleControlFrame dispatches a single control frame. It returns true
// if the read loop must stop (CLOSE handling always ends the loop).
func (s *Server) handleControlFrame(slot *connSlot, h frameHeader, payload []byte) bool {
	switch h.opcode {
	case OpPing:
		if _, err := s.sendTo(slot, OpPong, payload); err != nil {
			s.abort(slot, err)
			return true
		}
		return false
	case OpPong:
		s.handlePong(slot, payload)
		return false
	case OpClose:
		s.handlePeerClose(slot, payload)
		return true
	default:
		s.abort(slot, &ProtocolError{Reason: "unexpected control opcode"})
		return true
	}
}

// handlePeerClose implements §4.6 "Peer-initiated" close: echo the
// peer's code if valid, else 1002 (1007 if the reason is not valid
// UTF-8), then tear down.
func (s *Server) handlePeerClose(slot *connSlot, payload []byte) {
	code, reason, ok := parseClosePayload(payload)
	if !ok {
		code = StatusProtocolError
		reason = nil
	} else if len(reason) > 0 && !validUTF8(reason) {
		code = StatusInvalidFramePayload
		reason = nil
	} else {
		code = sanitizeCloseCode(code)
	}

	if slot.getState() != StateClosing {
		slot.setState(StateClosing)
		_, _ = s.sendTo(slot, OpClose, encodeClosePayload(code, string(reason)))
	}
	s.teardown(slot, nil)
}

// closeWith implements the protocol-violation and invalid-UTF-8 close
// paths of §4.6: send the given status and abort.
func (s *Server) closeWith(slot *connSlot, code StatusCode, cause error) {
	if prev := slot.getState(); prev != StateClosing {
		slot.setState(StateClosing)
		_, _ = s.sendTo(slot, OpClose, encodeClosePayload(code, cause.Error()))
	}
	s.teardown(slot, cause)
}

// abort handles read/protocol/frame-size errors: a ReadError from a
// clean peer disconnect is expected and logged quietly; anything else
// that warrants a CLOSE frame gets one before teardown. The CLOSE echo is
// only sent on the transition into CLOSING, so a protocol violation
// observed after the slot is already closing (e.g. a frame arriving
// after an app-initiated Close) never produces a second CLOSE frame.
func (s *Server) abort(slot *connSlot, err error) {
	var protoErr *ProtocolError
	var tooLarge *FrameTooLargeError
	var readErr *ReadError

	switch {
	case errors.As(err, &protoErr):
		if prev := slot.getState(); prev != StateClosing {
			slot.setState(StateClosing)
			_, _ = s.sendTo(slot, OpClose, encodeClosePayload(StatusProtocolError, protoErr.Reason))
		}
	case errors.As(err, &tooLarge):
		slot.setState(StateClosing)
	case errors.As(err, &readErr):
		s.logger().Debug().Err(readErr.Err).Int64("handle", int64(slot.handle)).Msg("connection read ended")
	default:
		s.logger().Warn().Err(err).Int64("handle", int64(slot.handle)).Msg("connection aborted")
	}
	s.teardown(slot, nil)
}

// forceClose is the Ping-threshold path of §4.8: no CLOSE handshake, the
// socket is torn down immediately.
func (s *Server) forceClose(slot *connSlot, cause error) {
	s.teardown(slot, cause)
}

// teardown closes the underlying socket, marks the slot CLOSED, fires
// OnClose exactly once (guarded by closeFired), and records the activity
// event. It is reachable from the worker's own read loop, from a forced
// ping-timeout close, and from the timeout reaper, so it must be safe to
// call more than once for the same slot.
func (s *Server) teardown(slot *connSlot, cause error) {
	slot.stateMu.Lock()
	alreadyClosed := slot.closeFired
	slot.closeFired = true
	slot.state = StateClosed
	slot.stateCond.Broadcast()
	slot.stateMu.Unlock()

	if alreadyClosed {
		return
	}

	if slot.conn != nil {
		slot.conn.Close()
	}

	if _, ok := cause.(*PingTimeoutError); ok {
		s.activity.record(eventPingTimeout, slot.handle, slot.remoteAddr)
	}
	s.activity.record(eventClose, slot.handle, slot.remoteAddr)

	if s.cfg.OnClose != nil {
		s.cfg.OnClose(slot.handle)
	}
}
