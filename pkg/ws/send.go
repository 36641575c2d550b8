package ws

import (
	"fmt"
	"time"
)

// sendTo writes one complete frame to a single slot's socket. It holds
// the slot's own send lock only; callers that already hold the registry
// lock (broadcast) must not also hold a slot's stateMu or pingMu while
// calling this, to respect the registry -> per-connection lock order.
func (s *Server) sendTo(slot *connSlot, opcode Opcode, payload []byte) (int, error) {
	frame := encodeFrame(opcode, payload)

	slot.sendMu.Lock()
	defer slot.sendMu.Unlock()

	if slot.conn == nil {
		return 0, &SendError{Err: fmt.Errorf("connection closed")}
	}
	if s.cfg.SendTimeout > 0 {
		_ = slot.conn.SetWriteDeadline(time.Now().Add(s.cfg.SendTimeout))
	}

	total := 0
	for total < len(frame) {
		n, err := slot.conn.Write(frame[total:])
		if err != nil {
			return total, &SendError{Err: err}
		}
		total += n
	}
	return total, nil
}

// SendFrame writes a single data frame of the given type to h. It
// returns the number of bytes written, or an error if h does not name a
// live OPEN connection or the write failed.
func (s *Server) SendFrame(h Handle, data []byte, t MessageType) (int, error) {
	slot, ok := s.registry.lookup(h)
	if !ok || slot.getState() != StateOpen {
		return 0, fmt.Errorf("websocket: handle %d is not open", h)
	}
	op := OpText
	if t == BinaryMessage {
		op = OpBinary
	}
	return s.sendTo(slot, op, data)
}

// SendText is a convenience wrapper over SendFrame for TextMessage.
func (s *Server) SendText(h Handle, text string) (int, error) {
	return s.SendFrame(h, []byte(text), TextMessage)
}

// SendBinary is a convenience wrapper over SendFrame for BinaryMessage.
func (s *Server) SendBinary(h Handle, data []byte) (int, error) {
	return s.SendFrame(h, data, BinaryMessage)
}

// BroadcastFrame sends a data frame to every currently OPEN connection on
// this server. port must match the server's own listen port; it exists
// so callers written against a multi-port deployment fail loudly instead
// of silently broadcasting to the wrong set of peers, since each Server
// here owns exactly one listen port and one registry.
func (s *Server) BroadcastFrame(port int, data []byte, t MessageType) (int, error) {
	if port != s.cfg.Port {
		return 0, fmt.Errorf("websocket: broadcast port %d does not match server port %d", port, s.cfg.Port)
	}
	op := OpText
	if t == BinaryMessage {
		op = OpBinary
	}

	total := 0
	var firstErr error
	s.registry.forEachOpen(func(slot *connSlot) {
		n, err := s.sendTo(slot, op, data)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return total, firstErr
}

// BroadcastText is a convenience wrapper over BroadcastFrame for TextMessage.
func (s *Server) BroadcastText(port int, text string) (int, error) {
	return s.BroadcastFrame(port, []byte(text), TextMessage)
}

// BroadcastBinary is a convenience wrapper over BroadcastFrame for BinaryMessage.
func (s *Server) BroadcastBinary(port int, data []byte) (int, error) {
	return s.BroadcastFrame(port, data, BinaryMessage)
}
