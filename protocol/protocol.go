package protocol

import (
	"errors"
	"fmt"
)

// TransferFormat tells the transport which websocket message type carries
// the protocol's frames.
type TransferFormat int

// Transfer formats.
const (
	TransferFormatText TransferFormat = iota + 1
	TransferFormatBinary
)

// HubProtocol encodes and decodes hub messages.
type HubProtocol interface {
	// Name is the protocol name announced in the handshake.
	Name() string
	// Version is the protocol version announced in the handshake.
	Version() int
	TransferFormat() TransferFormat
	// WriteMessage returns the framed encoding of m.
	WriteMessage(m Message) ([]byte, error)
	// ParseMessages decodes every record in data. Records that fail to decode
	// are reported through the returned error, joined, while every record that
	// did decode is still returned.
	ParseMessages(data []byte) ([]Message, error)
}

var (
	// ErrUnknownMessageType is wrapped by DecodeError for an unknown discriminant.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrIncompleteFrame is returned when a frame is shorter than its length prefix.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrVarintOverflow is returned when a length prefix does not fit in 64 bits.
	ErrVarintOverflow = errors.New("length prefix overflows uint64")
	// ErrUnsupportedMessage is returned when a message cannot be written.
	ErrUnsupportedMessage = errors.New("message cannot be encoded")
)

// DecodeError describes a single record that could not be decoded.
type DecodeError struct {
	// Type is the record discriminant, zero if it could not be read.
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == 0 {
		return fmt.Sprintf("ProtocolDecodeError: %s", e.Err)
	}
	return fmt.Sprintf("ProtocolDecodeError: %s: %s", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
