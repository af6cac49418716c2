package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/goccy/go-json"

	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

var (
	ErrUnknownObject = errors.New("unknown object")
	ErrUnknownMethod = errors.New("unknown method")
)

// Handler executes the methods of one named object.
type Handler interface {
	Handle(ctx context.Context, method string, args json.RawMessage) (any, error)
}

// MethodFunc is one method of an object.
type MethodFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Methods is a Handler dispatching on the method name.
type Methods map[string]MethodFunc

func (m Methods) Handle(ctx context.Context, method string, args json.RawMessage) (any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, &protocol.ProtocolError{Op: method, Err: ErrUnknownMethod}
	}
	return fn(ctx, args)
}

// Method adapts a typed function into a MethodFunc that decodes its
// arguments first.
func Method[A, R any](fn func(ctx context.Context, args A) (R, error)) MethodFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := Unmarshal(raw, &args); err != nil {
				return nil, &protocol.ProtocolError{Op: "decode arguments", Err: err}
			}
		}
		return fn(ctx, args)
	}
}

// Observer is told about every call a server executes.
type Observer func(object, method string, err error)

// Server is the object registry of a peer process.
type Server struct {
	version protocol.Version
	os      string

	mu       sync.RWMutex
	objects  map[string]Handler
	observer Observer
}

type ServerOption func(*Server)

// WithOS overrides the operating system the server reports.
func WithOS(os string) ServerOption {
	return func(s *Server) { s.os = os }
}

// WithObserver installs a call observer.
func WithObserver(o Observer) ServerOption {
	return func(s *Server) { s.observer = o }
}

// NewServer creates a server offering version.
func NewServer(version protocol.Version, opts ...ServerOption) *Server {
	s := &Server{
		version: version,
		os:      runtime.GOOS,
		objects: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.objects[ConnObject] = Methods{
		"hello": Method(s.hello),
		"has":   Method(s.has),
	}
	return s
}

// Register exposes h under name, replacing any previous object.
func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = h
}

// Version is the highest version the server offers.
func (s *Server) Version() protocol.Version {
	return s.version
}

func (s *Server) hello(ctx context.Context, peer Hello) (Hello, error) {
	slog.Debug("peer connected", "version", peer.Version, "os", peer.OS)
	return Hello{Version: s.version, OS: s.os}, nil
}

func (s *Server) has(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[name]
	return ok, nil
}

// Serve executes one request.
func (s *Server) Serve(ctx context.Context, req *Request) *Response {
	resp := &Response{ID: req.ID}

	result, err := s.dispatch(ctx, req)
	if err == nil {
		resp.Result, err = Marshal(result)
		if err != nil {
			err = fmt.Errorf("encode result: %w", err)
		}
	}
	if err != nil {
		slog.Debug("call failed", "object", req.Object, "method", req.Method, "error", err)
		resp.Result = nil
		resp.Error = NewWireError(err)
	}
	if s.observer != nil {
		s.observer(req.Object, req.Method, err)
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	s.mu.RLock()
	h, ok := s.objects[req.Object]
	s.mu.RUnlock()
	if !ok {
		return nil, &protocol.ProtocolError{Op: req.Object, Err: ErrUnknownObject}
	}
	return h.Handle(ctx, req.Method, req.Args)
}
