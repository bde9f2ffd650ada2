package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates handshake records.
const RecordSeparator byte = 0x1E

// ErrIncompleteHandshake is returned while the handshake response has not
// been fully received.
var ErrIncompleteHandshake = errors.New("handshake response incomplete")

// HandshakeRequest selects the hub protocol for the connection.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's answer to a HandshakeRequest. A non-empty
// Error rejects the connection.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// NewHandshakeRequest builds the handshake request for p.
func NewHandshakeRequest(p HubProtocol) HandshakeRequest {
	return HandshakeRequest{Protocol: p.Name(), Version: p.Version()}
}

// EncodeHandshakeRequest returns the JSON encoding of req followed by the
// record separator.
func EncodeHandshakeRequest(req HandshakeRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode handshake request: %w", err)
	}
	return append(data, RecordSeparator), nil
}

// ParseHandshakeResponse decodes the handshake response at the start of data.
// It returns the bytes following the record separator, which may already hold
// hub message frames. ErrIncompleteHandshake is returned when data holds no
// record separator yet.
func ParseHandshakeResponse(data []byte) (*HandshakeResponse, []byte, error) {
	i := bytes.IndexByte(data, RecordSeparator)
	if i < 0 {
		return nil, nil, ErrIncompleteHandshake
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(data[:i], &resp); err != nil {
		return nil, nil, fmt.Errorf("decode handshake response %q: %w", data[:i], err)
	}

	return &resp, data[i+1:], nil
}
