package ws

import "encoding/binary"

// Ping emits a PING to h, or to every OPEN connection on this server if
// h is zero, and force-closes any connection whose outstanding,
// unacknowledged PING count exceeds threshold. The cadence between calls
// defines the effective keepalive timeout; this engine does not run its
// own timer.
func (s *Server) Ping(h Handle, threshold int) {
	if h == 0 {
		s.registry.forEachOpen(func(slot *connSlot) {
			s.pingSlot(slot, threshold)
		})
		return
	}
	slot, ok := s.registry.lookup(h)
	if !ok || slot.getState() != StateOpen {
		return
	}
	s.pingSlot(slot, threshold)
}

func (s *Server) pingSlot(slot *connSlot, threshold int) {
	slot.pingMu.Lock()
	slot.currentPingID++
	id := slot.currentPingID
	last := slot.lastPongID
	slot.pingMu.Unlock()

	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], uint32(id))
	if _, err := s.sendTo(slot, OpPing, payload[:]); err != nil {
		s.logger().Debug().Err(err).Int64("handle", int64(slot.handle)).Msg("ping send failed")
	}

	// id and last both count from the -1 sentinel, so a never-acknowledged
	// first PING (id=0, last=-1) starts the outstanding count at 0, not 1.
	outstanding := int(id-last) - 1
	if outstanding > threshold {
		s.logger().Warn().Int64("handle", int64(slot.handle)).Int("outstanding", outstanding).
			Int("threshold", threshold).Msg("ping threshold exceeded, forcing close")
		s.forceClose(slot, &PingTimeoutError{Outstanding: outstanding, Threshold: threshold})
	}
}

// handlePong updates a slot's keepalive accounting from an inbound PONG.
// Payloads that aren't exactly 4 bytes, or whose decoded id falls outside
// [0, currentPingID], are ignored: unsolicited PONGs are permitted by
// RFC 6455 §5.5.3 and must not corrupt the accounting.
func (s *Server) handlePong(slot *connSlot, payload []byte) {
	if len(payload) != 4 {
		return
	}
	id := int32(binary.BigEndian.Uint32(payload))

	slot.pingMu.Lock()
	defer slot.pingMu.Unlock()
	if id >= 0 && id <= slot.currentPingID && id > slot.lastPongID {
		slot.lastPongID = id
	}
}
