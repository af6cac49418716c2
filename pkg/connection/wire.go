package connection

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

// ConnObject is the object every server exposes for connection housekeeping.
const ConnObject = "conn"

// Request is one forwarded call.
type Request struct {
	ID     uint64          `json:"id" msgpack:"id"`
	Object string          `json:"obj" msgpack:"obj"`
	Method string          `json:"method" msgpack:"method"`
	Args   json.RawMessage `json:"args,omitempty" msgpack:"args"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     uint64          `json:"id" msgpack:"id"`
	Result json.RawMessage `json:"result,omitempty" msgpack:"result"`
	Error  *WireError      `json:"error,omitempty" msgpack:"error"`
}

// Error kinds carried over the wire.
const (
	kindProtocol = "protocol"
	kindRemote   = "remote"
	kindEOF      = "eof"
)

// WireError is an error raised by the peer.
type WireError struct {
	Kind    string `json:"kind" msgpack:"kind"`
	Message string `json:"message" msgpack:"message"`
}

// NewWireError classifies err for the wire.
func NewWireError(err error) *WireError {
	switch {
	case errors.Is(err, io.EOF):
		return &WireError{Kind: kindEOF, Message: err.Error()}
	case protocol.IsProtocolError(err):
		return &WireError{Kind: kindProtocol, Message: err.Error()}
	}
	return &WireError{Kind: kindRemote, Message: err.Error()}
}

func (w *WireError) err(object, method string) error {
	op := object + "." + method
	switch w.Kind {
	case kindEOF:
		return io.EOF
	case kindProtocol:
		return &protocol.ProtocolError{Op: op, Err: errors.New(w.Message)}
	}
	return &RemoteError{Op: op, Message: w.Message}
}

// RemoteError is a failure reported by the peer while executing a call.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Op, e.Message)
}

// Transport moves requests to a peer and brings back its responses.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Marshal encodes a value for the wire. A nil value encodes as nothing.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Unmarshal decodes a wire value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
