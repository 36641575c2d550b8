package ws

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Handle identifies a live connection. It is assigned at accept time from
// the Server's own monotonic counter (one per registry, starting at 1) and
// is never reused by that Server. Handles are unique only within one
// Server: two Servers in the same process hand out the same values. The
// zero Handle is reserved: it is never
// assigned to a slot, and doubles as the "every open connection" sentinel
// accepted by Ping.
type Handle int64

// MessageType distinguishes the two data frame kinds delivered to
// OnMessage.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a connection slot.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OnOpen fires once a connection's handshake has completed and before any
// OnMessage call for that handle.
type OnOpen func(h Handle)

// OnClose fires exactly once per connection, regardless of which path
// (peer close, application close, protocol error, or ping timeout) drove
// the connection down.
type OnClose func(h Handle)

// OnMessage fires once per complete text or binary message. data is only
// valid for the duration of the call.
type OnMessage func(h Handle, data []byte, msgType MessageType)

// Config bundles the listen address, limits, callbacks and ambient
// collaborators (logger, activity sink) for a single Server.
type Config struct {
	Host string
	Port int

	// Background, when true, makes Serve spawn the accept loop in its
	// own goroutine and return immediately. When false, Serve blocks
	// until ctx is canceled or the listener fails.
	Background bool

	// SendTimeout bounds a single send_frame call; zero disables the
	// deadline.
	SendTimeout time.Duration

	// MaxClients bounds the number of simultaneously live connections.
	// Zero defaults to DefaultMaxClients.
	MaxClients int

	// MaxFrameLength bounds the accumulated length of a fragmented
	// message. Zero defaults to DefaultMaxFrameLength.
	MaxFrameLength uint64

	OnOpen    OnOpen
	OnClose   OnClose
	OnMessage OnMessage

	// ServerContext is an arbitrary value the application can retrieve
	// via (*Server).ServerContext; gows never interprets it.
	ServerContext any

	// Logger receives structured diagnostics. The zero value is a
	// disabled logger, so an embedder that doesn't configure one gets
	// silence rather than output on someone else's stdout.
	Logger zerolog.Logger

	// ActivityLog, when non-nil, receives one CSV row per connection
	// lifecycle event (open, close, ping_timeout).
	ActivityLog io.Writer
}

const (
	// DefaultMaxClients matches the fixed MAX_CLIENTS slot table size of
	// the engine this package's design is based on.
	DefaultMaxClients = 8

	// DefaultMaxFrameLength bounds a fragmented message at 16 MiB.
	DefaultMaxFrameLength uint64 = 16 << 20

	// recvBufferSize sizes the buffered reader each connection reads
	// through.
	recvBufferSize = 2048

	// reaperTimeout is how long the timeout reaper waits for a peer
	// CLOSE before forcing socket teardown.
	reaperTimeout = 500 * time.Millisecond

	// maxControlPayload is the RFC 6455 control-frame payload ceiling.
	maxControlPayload = 125
)
