package domain

import "context"

// Frames the backend sends to mark the end of a stream. Every other text
// frame is a delta to append to the message being generated.
const (
	FrameGenerationComplete = "GENERATION_COMPLETE"
	FrameGenerationStopped  = "GENERATION_STOPPED"
)

// IsSentinelFrame reports whether frame ends a stream.
func IsSentinelFrame(frame string) bool {
	return frame == FrameGenerationComplete || frame == FrameGenerationStopped
}

// TransportState is the connection state of a transport channel.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportOpen
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Command actions sent over the transport.
const (
	ActionMessage        = "message"
	ActionStopGeneration = "stop_generation"
	ActionRegenerate     = "regenerate"
)

// Command is an outbound JSON object on the transport.
type Command struct {
	Action       string `json:"action"`
	Content      string `json:"content,omitempty"`
	MessageIndex *int   `json:"messageIndex,omitempty"`
}

// MessageCommand asks the backend to generate a reply to content.
func MessageCommand(content string) Command {
	return Command{Action: ActionMessage, Content: content}
}

// StopCommand asks the backend to stop the current generation.
func StopCommand() Command {
	return Command{Action: ActionStopGeneration}
}

// RegenerateCommand asks the backend to regenerate the message at index.
func RegenerateCommand(index int) Command {
	return Command{Action: ActionRegenerate, MessageIndex: &index}
}

// FrameSink receives inbound traffic from a Transport. Implementations must
// not block for long; callbacks for one transport arrive in order from a
// single goroutine.
type FrameSink interface {
	OnFrame(t Transport, frame string)
	// OnClosed is called once when the transport closes without a local
	// Close call, or fails to connect.
	OnClosed(t Transport, err error)
}

// Transport is a bidirectional text channel bound to one conversation.
type Transport interface {
	ConversationID() string
	State() TransportState
	// Send queues cmd for delivery. It fails with ErrTransportNotReady
	// unless the transport is open.
	Send(cmd Command) error
	// WaitOpen blocks until the transport leaves Connecting or ctx is done.
	WaitOpen(ctx context.Context) error
	// Close is idempotent. Frames read after Close are discarded and OnClosed
	// is not called for a solicited close.
	Close() error
}

// TransportDialer opens transports. Open returns immediately with a
// transport in Connecting.
type TransportDialer interface {
	Open(conversationID string, sink FrameSink) Transport
}
