package protocol

import "fmt"

// MessageType is the discriminant carried as the first element of every hub
// message record.
type MessageType int

// Hub message discriminants.
const (
	InvocationType       MessageType = 1
	StreamItemType       MessageType = 2
	CompletionType       MessageType = 3
	StreamInvocationType MessageType = 4
	CancelInvocationType MessageType = 5
	PingType             MessageType = 6
	CloseType            MessageType = 7

	// InvocationBindingFailureType never travels on the wire. It is produced
	// locally when an invocation record cannot be bound.
	InvocationBindingFailureType MessageType = -1
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case InvocationType:
		return "invocation"
	case StreamItemType:
		return "stream_item"
	case CompletionType:
		return "completion"
	case StreamInvocationType:
		return "stream_invocation"
	case CancelInvocationType:
		return "cancel_invocation"
	case PingType:
		return "ping"
	case CloseType:
		return "close"
	case InvocationBindingFailureType:
		return "invocation_binding_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Message is implemented by every hub message.
type Message interface {
	Type() MessageType
}

// InvocationMessage asks the peer to run Target with Arguments. An empty
// InvocationID means no completion is expected.
type InvocationMessage struct {
	Headers      map[string]string
	InvocationID string
	Target       string
	Arguments    []interface{}
	StreamIDs    []string
}

// Type implements Message.
func (InvocationMessage) Type() MessageType { return InvocationType }

// StreamInvocationMessage asks the peer to run Target and stream its results
// back as StreamItemMessages followed by a CompletionMessage.
type StreamInvocationMessage struct {
	Headers      map[string]string
	InvocationID string
	Target       string
	Arguments    []interface{}
	StreamIDs    []string
}

// Type implements Message.
func (StreamInvocationMessage) Type() MessageType { return StreamInvocationType }

// StreamItemMessage carries one item of a stream.
type StreamItemMessage struct {
	Headers      map[string]string
	InvocationID string
	Item         interface{}
}

// Type implements Message.
func (StreamItemMessage) Type() MessageType { return StreamItemType }

// CompletionMessage ends an invocation or a stream. At most one of Error and
// Result is meaningful: a non-empty Error marks a failed invocation, otherwise
// HasResult tells a void completion from one carrying Result.
type CompletionMessage struct {
	Headers      map[string]string
	InvocationID string
	Error        string
	Result       interface{}
	HasResult    bool
}

// Type implements Message.
func (CompletionMessage) Type() MessageType { return CompletionType }

// CancelInvocationMessage cancels a stream started by a StreamInvocationMessage.
type CancelInvocationMessage struct {
	Headers      map[string]string
	InvocationID string
}

// Type implements Message.
func (CancelInvocationMessage) Type() MessageType { return CancelInvocationType }

// PingMessage is a keep-alive signal.
type PingMessage struct{}

// Type implements Message.
func (PingMessage) Type() MessageType { return PingType }

// CloseMessage is sent by the server before it closes the connection.
type CloseMessage struct {
	Error          string
	AllowReconnect bool
}

// Type implements Message.
func (CloseMessage) Type() MessageType { return CloseType }

// InvocationBindingFailureMessage reports an inbound invocation whose
// arguments could not be decoded.
type InvocationBindingFailureMessage struct {
	InvocationID string
	Target       string
	Err          error
}

// Type implements Message.
func (InvocationBindingFailureMessage) Type() MessageType { return InvocationBindingFailureType }
