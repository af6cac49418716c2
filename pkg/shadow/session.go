package shadow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

// BatchSize is the most items moved by one push or pull.
const BatchSize = 64

// BatchBytes bounds the encoded items of one push or pull. A batch stops at
// the first item that reaches it, so it stays well below
// connection.MaxFrameSize as long as single items do.
const BatchBytes = 8 << 20

// ErrUnknownSession is returned for a session id the peer does not hold.
var ErrUnknownSession = errors.New("unknown session")

type pullReply[T any] struct {
	Items     []T  `json:"items,omitempty"`
	NeedInput bool `json:"need_input,omitempty"`
	Done      bool `json:"done,omitempty"`
}

type pushArgs struct {
	ID    string          `json:"id"`
	Items json.RawMessage `json:"items,omitempty"`
	EOF   bool            `json:"eof,omitempty"`
}

// none is the input type of sessions that take no input.
type none struct{}

type handle interface {
	pull() (any, bool, error)
	push(items json.RawMessage, eof bool) error
	close()
}

// session runs an iterator on the peer. Its input is fed by pushes from the
// controller and its output is drained by pulls. The producing goroutine
// encodes items as they come and stays at most two batches ahead of the
// puller.
type session[In, Out any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cancel   context.CancelFunc
	in       []In
	inEOF    bool
	out      []json.RawMessage
	outBytes int
	done     bool
	err      error
	starved  bool
	closed   bool
}

func (s *session[In, Out]) Next(ctx context.Context) (In, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero In
	for len(s.in) == 0 && !s.inEOF && !s.closed {
		s.starved = true
		s.cond.Broadcast()
		s.cond.Wait()
	}
	if s.closed {
		return zero, context.Canceled
	}
	if len(s.in) == 0 {
		return zero, io.EOF
	}
	v := s.in[0]
	s.in = s.in[1:]
	return v, nil
}

func (s *session[In, Out]) produce(ctx context.Context, out entry.Iter[Out]) {
	for {
		v, err := out.Next(ctx)
		var raw json.RawMessage
		if err == nil {
			if raw, err = json.Marshal(v); err != nil {
				err = fmt.Errorf("encode session output: %w", err)
			}
		}

		s.mu.Lock()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.done = true
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		for (len(s.out) >= 2*BatchSize || s.outBytes >= 2*BatchBytes) && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.out = append(s.out, raw)
		s.outBytes += len(raw)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// pull returns the next batch and whether the session is finished.
func (s *session[In, Out]) pull() (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.out) < BatchSize && s.outBytes < BatchBytes && !s.done && !s.starved {
		s.cond.Wait()
	}

	n, size := 0, 0
	for n < len(s.out) && n < BatchSize && size < BatchBytes {
		size += len(s.out[n])
		n++
	}
	reply := pullReply[json.RawMessage]{Items: append([]json.RawMessage(nil), s.out[:n]...)}
	s.out = s.out[n:]
	s.outBytes -= size
	s.cond.Broadcast()

	if len(s.out) > 0 {
		return reply, false, nil
	}
	if s.done {
		if s.err != nil {
			if n > 0 {
				return reply, false, nil
			}
			return nil, true, s.err
		}
		reply.Done = true
		return reply, true, nil
	}
	reply.NeedInput = s.starved
	return reply, false, nil
}

func (s *session[In, Out]) push(raw json.RawMessage, eof bool) error {
	var items []In
	if len(raw) > 0 {
		if err := connection.Unmarshal(raw, &items); err != nil {
			return &protocol.ProtocolError{Op: "push", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inEOF && (len(items) > 0 || !eof) {
		return &protocol.ProtocolError{Op: "push", Err: errors.New("input after end of stream")}
	}
	s.in = append(s.in, items...)
	s.inEOF = eof
	s.starved = false
	s.cond.Broadcast()
	return nil
}

func (s *session[In, Out]) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.cancel()
}

// Sessions holds the streaming sessions open on one server.
type Sessions struct {
	mu   sync.Mutex
	open map[string]handle
}

func NewSessions() *Sessions {
	return &Sessions{open: make(map[string]handle)}
}

// Open starts run on a new session and returns its id. run receives the
// session's input iterator; it is called synchronously so that setup errors
// surface to the caller.
func Open[In, Out any](s *Sessions, run func(ctx context.Context, in entry.Iter[In]) (entry.Iter[Out], error)) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session[In, Out]{cancel: cancel}
	sess.cond = sync.NewCond(&sess.mu)

	out, err := run(ctx, sess)
	if err != nil {
		cancel()
		return "", err
	}
	go sess.produce(ctx, out)

	id := uuid.NewString()
	s.mu.Lock()
	s.open[id] = sess
	s.mu.Unlock()
	return id, nil
}

func (s *Sessions) get(id string) (handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.open[id]
	if !ok {
		return nil, &protocol.ProtocolError{Op: "session " + id, Err: ErrUnknownSession}
	}
	return h, nil
}

func (s *Sessions) remove(id string) {
	s.mu.Lock()
	h, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if ok {
		h.close()
	}
}

// Len is the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Close ends every open session.
func (s *Sessions) Close() error {
	s.mu.Lock()
	open := s.open
	s.open = make(map[string]handle)
	s.mu.Unlock()
	for _, h := range open {
		h.close()
	}
	return nil
}

// AddTo registers the session methods pull, push and close on an object.
func (s *Sessions) AddTo(m connection.Methods) connection.Methods {
	m["pull"] = connection.Method(func(ctx context.Context, id string) (any, error) {
		h, err := s.get(id)
		if err != nil {
			return nil, err
		}
		reply, finished, err := h.pull()
		if finished {
			s.remove(id)
		}
		return reply, err
	})
	m["push"] = connection.Method(func(ctx context.Context, a pushArgs) (any, error) {
		h, err := s.get(a.ID)
		if err != nil {
			return nil, err
		}
		return nil, h.push(a.Items, a.EOF)
	})
	m["close"] = connection.Method(func(ctx context.Context, id string) (any, error) {
		s.remove(id)
		return nil, nil
	})
	return m
}

// RemoteIter is the controller side of a session.
type RemoteIter[In, Out any] struct {
	conn   connection.Connection
	object string
	id     string
	input  entry.Iter[In]
	inEOF  bool
	buf    []Out
	done   bool
}

// OpenRemote calls method on object, which must answer with a session id,
// and returns an iterator over the session's output. input feeds the
// session when the peer asks for it; nil means no input.
func OpenRemote[In, Out any](ctx context.Context, conn connection.Connection, object, method string, args any, input entry.Iter[In]) (*RemoteIter[In, Out], error) {
	var id string
	if err := conn.Call(ctx, object, method, args, &id); err != nil {
		return nil, err
	}
	return &RemoteIter[In, Out]{conn: conn, object: object, id: id, input: input, inEOF: input == nil}, nil
}

func (r *RemoteIter[In, Out]) Next(ctx context.Context) (Out, error) {
	var zero Out
	for {
		if len(r.buf) > 0 {
			v := r.buf[0]
			r.buf = r.buf[1:]
			return v, nil
		}
		if r.done {
			return zero, io.EOF
		}

		var reply pullReply[Out]
		if err := r.conn.Call(ctx, r.object, "pull", r.id, &reply); err != nil {
			r.done = true
			return zero, err
		}
		r.buf = reply.Items
		if reply.Done {
			r.done = true
			continue
		}
		if reply.NeedInput {
			if err := r.push(ctx); err != nil {
				r.Close(ctx)
				return zero, err
			}
		}
	}
}

func (r *RemoteIter[In, Out]) push(ctx context.Context) error {
	items := make([]json.RawMessage, 0, BatchSize)
	size := 0
	for !r.inEOF && len(items) < BatchSize && size < BatchBytes {
		v, err := r.input.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.inEOF = true
			break
		}
		if err != nil {
			return fmt.Errorf("read session input: %w", err)
		}
		item, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode session input: %w", err)
		}
		items = append(items, item)
		size += len(item)
	}
	raw, err := connection.Marshal(items)
	if err != nil {
		return err
	}
	return r.conn.Call(ctx, r.object, "push", pushArgs{ID: r.id, Items: raw, EOF: r.inEOF}, nil)
}

// Close abandons the session before its end.
func (r *RemoteIter[In, Out]) Close(ctx context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	r.buf = nil
	return r.conn.Call(ctx, r.object, "close", r.id, nil)
}
