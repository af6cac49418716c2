package connection

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MaxFrameSize bounds a single frame on a stream transport.
const MaxFrameSize = 256 << 20

// frameLimit is the bound in effect, lowered by tests.
var frameLimit = MaxFrameSize

// ErrFrameTooLarge is returned for a message that does not fit in a frame.
// An outgoing message that is too large is not sent and leaves the stream
// usable; an incoming one breaks it.
var ErrFrameTooLarge = errors.New("message exceeds frame size limit")

// Stream is a transport over a byte stream such as the stdio of an ssh
// session. Each message is a 4 byte big endian length followed by its
// encoding.
type Stream struct {
	mu     sync.Mutex
	r      *bufio.Reader
	w      *bufio.Writer
	closer io.Closer
	broken error
}

// NewStream wraps r and w. closer, if not nil, is called by Close and when
// the stream breaks.
func NewStream(r io.Reader, w io.Writer, closer io.Closer) *Stream {
	return &Stream{
		r:      bufio.NewReader(r),
		w:      bufio.NewWriter(w),
		closer: closer,
	}
}

func (s *Stream) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, s.broken
	}
	b, err := encodeFrame(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := writeFrame(s.w, b); err != nil {
		return nil, s.fail(fmt.Errorf("send request: %w", err))
	}
	var resp Response
	if err := readFrame(s.r, &resp); err != nil {
		return nil, s.fail(fmt.Errorf("receive response: %w", err))
	}
	return &resp, nil
}

// fail tears the stream down after an error that leaves it out of step
// with the peer. Later calls return err.
func (s *Stream) fail(err error) error {
	s.broken = fmt.Errorf("stream broken: %w", err)
	if s.closer != nil {
		s.closer.Close()
	}
	return err
}

func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ServeStream answers requests read from r on w until r is exhausted or ctx
// is done. A frame that cannot be read ends the loop with an error; w is
// closed then if it is an io.Closer, so that the peer does not wait for an
// answer. A response too large for a frame is answered with an error.
func ServeStream(ctx context.Context, server *Server, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	abort := func(err error) error {
		if c, ok := w.(io.Closer); ok {
			c.Close()
		}
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Request
		if err := readFrame(br, &req); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("stream closed by peer")
				return nil
			}
			return abort(fmt.Errorf("receive request: %w", err))
		}
		resp := server.Serve(ctx, &req)
		b, err := encodeFrame(resp)
		if err != nil {
			slog.Error("cannot send response", "object", req.Object, "method", req.Method, "error", err)
			resp = &Response{ID: req.ID, Error: NewWireError(fmt.Errorf("%s.%s response: %w", req.Object, req.Method, err))}
			if b, err = encodeFrame(resp); err != nil {
				return abort(fmt.Errorf("send response: %w", err))
			}
		}
		if err := writeFrame(bw, b); err != nil {
			return abort(fmt.Errorf("send response: %w", err))
		}
	}
}

func encodeFrame(v any) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > frameLimit {
		return nil, fmt.Errorf("%d bytes: %w", len(b), ErrFrameTooLarge)
	}
	return b, nil
}

func writeFrame(w *bufio.Writer, b []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	if int64(n) > int64(frameLimit) {
		return fmt.Errorf("frame of %d bytes: %w", n, ErrFrameTooLarge)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := Unmarshal(b, v); err != nil {
		return fmt.Errorf("corrupt frame: %w", err)
	}
	return nil
}
