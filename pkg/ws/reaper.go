package ws

import "time"

// spawnReaper starts the transient timeout reaper for a connection that
// just entered CLOSING. It is spawned at most once per connection
// (Server.Close only calls this on the OPEN to CLOSING transition). The reaper waits up
// to reaperTimeout for the slot to reach StateClosed on its own (peer
// echoed the CLOSE, the worker read loop exited, and teardown ran); if
// the deadline passes first, the reaper forces the socket down itself.
func (s *Server) spawnReaper(slot *connSlot) {
	slot.reaperSpawned = true
	done := make(chan struct{})
	slot.reaperDone = done

	go func() {
		defer close(done)

		closed := slot.waitClosedChan()
		select {
		case <-closed:
			return
		case <-time.After(reaperTimeout):
			s.logger().Debug().Int64("handle", int64(slot.handle)).Msg("reaper timeout, forcing close")
			s.teardown(slot, nil)
		}
	}()
}

// joinReaper blocks until a previously spawned reaper has exited. Called
// by the worker before it releases the slot, so the reaper never
// observes a slot that has already been reused for a new connection.
func (s *Server) joinReaper(slot *connSlot) {
	if slot.reaperSpawned && slot.reaperDone != nil {
		<-slot.reaperDone
	}
}
