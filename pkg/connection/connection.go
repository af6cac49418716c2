// Package connection carries method calls between the controlling process
// and a peer process holding the other end of a backup.
package connection

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

// Connection is either the local process or a peer reached over a
// transport.
type Connection interface {
	// IsLocal reports whether objects live in this process.
	IsLocal() bool
	// OS is the operating system family of the process holding the objects.
	OS() string
	// Version is the protocol version negotiated for this connection.
	Version() protocol.Version
	// Call invokes method on the named object of the peer and decodes the
	// result into reply, which may be nil.
	Call(ctx context.Context, object, method string, args, reply any) error
}

// ErrLocal is returned when something tries to forward over a local
// connection.
var ErrLocal = errors.New("local connection does not forward calls")

type local struct {
	version protocol.Version
}

// Local returns the connection of the controlling process itself.
func Local(version protocol.Version) Connection {
	return &local{version: version}
}

func (l *local) IsLocal() bool             { return true }
func (l *local) OS() string                { return runtime.GOOS }
func (l *local) Version() protocol.Version { return l.version }

func (l *local) Call(ctx context.Context, object, method string, args, reply any) error {
	return fmt.Errorf("%s.%s: %w", object, method, ErrLocal)
}

// Hello is exchanged once when a remote connection is opened.
type Hello struct {
	Version protocol.Version `json:"version"`
	OS      string           `json:"os"`
}

// Remote forwards calls through a Transport. Calls are serialized: only one
// is in flight at a time.
type Remote struct {
	transport Transport

	mu     sync.Mutex
	nextID uint64
	calls  atomic.Int64

	os          string
	version     protocol.Version
	peerVersion protocol.Version
}

// Dial performs the hello exchange over t and negotiates the version both
// sides will speak. local is the highest version this process offers.
func Dial(ctx context.Context, t Transport, local protocol.Version) (*Remote, error) {
	r := &Remote{transport: t}

	var peer Hello
	if err := r.Call(ctx, ConnObject, "hello", Hello{Version: local, OS: runtime.GOOS}, &peer); err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}
	version, err := protocol.Negotiate(local, peer.Version)
	if err != nil {
		return nil, err
	}
	r.os = peer.OS
	r.peerVersion = peer.Version
	r.version = version
	return r, nil
}

func (r *Remote) IsLocal() bool             { return false }
func (r *Remote) OS() string                { return r.os }
func (r *Remote) Version() protocol.Version { return r.version }

// PeerVersion is the highest version the peer offered.
func (r *Remote) PeerVersion() protocol.Version { return r.peerVersion }

// Calls returns how many calls have been forwarded, the hello included.
func (r *Remote) Calls() int64 {
	return r.calls.Load()
}

// Has asks the peer whether it exposes the named object.
func (r *Remote) Has(ctx context.Context, object string) (bool, error) {
	var ok bool
	if err := r.Call(ctx, ConnObject, "has", object, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Remote) Call(ctx context.Context, object, method string, args, reply any) error {
	raw, err := Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s.%s arguments: %w", object, method, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	req := &Request{ID: r.nextID, Object: object, Method: method, Args: raw}
	r.calls.Add(1)

	resp, err := r.transport.RoundTrip(ctx, req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", object, method, err)
	}
	if resp.ID != req.ID {
		return &protocol.ProtocolError{
			Op:  object + "." + method,
			Err: fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID),
		}
	}
	if resp.Error != nil {
		return resp.Error.err(object, method)
	}
	if reply != nil && len(resp.Result) > 0 {
		if err := Unmarshal(resp.Result, reply); err != nil {
			return fmt.Errorf("decode %s.%s result: %w", object, method, err)
		}
	}
	return nil
}

// Close closes the underlying transport.
func (r *Remote) Close() error {
	return r.transport.Close()
}
