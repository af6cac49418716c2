// Package wsconn carries connection requests over a websocket.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
)

// Encoding selects the frame encoding a client sends. The server answers in
// whatever encoding the request came in.
type Encoding uint8

const (
	// EncodingJSON sends text frames.
	EncodingJSON Encoding = iota
	// EncodingMsgPack sends binary frames.
	EncodingMsgPack
)

func (e Encoding) String() string {
	if e == EncodingMsgPack {
		return "msgpack"
	}
	return "json"
}

func marshal(v any, enc Encoding) (websocket.MessageType, []byte, error) {
	if enc == EncodingMsgPack {
		b, err := msgpack.Marshal(v)
		return websocket.MessageBinary, b, err
	}
	b, err := connection.Marshal(v)
	return websocket.MessageText, b, err
}

func unmarshal(typ websocket.MessageType, data []byte, v any) (Encoding, error) {
	switch typ {
	case websocket.MessageBinary:
		return EncodingMsgPack, msgpack.Unmarshal(data, v)
	case websocket.MessageText:
		return EncodingJSON, connection.Unmarshal(data, v)
	}
	return EncodingJSON, fmt.Errorf("unsupported websocket message type: %v", typ)
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	enc  Encoding
}

// Dial connects to a peer serving Handler at url.
func Dial(ctx context.Context, url string, enc Encoding) (connection.Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(connection.MaxFrameSize)
	return &client{conn: conn, enc: enc}, nil
}

func (c *client) RoundTrip(ctx context.Context, req *connection.Request) (*connection.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	typ, data, err := marshal(req, c.enc)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if len(data) > connection.MaxFrameSize {
		return nil, fmt.Errorf("send request of %d bytes: %w", len(data), connection.ErrFrameTooLarge)
	}
	if err := c.conn.Write(ctx, typ, data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	typ, data, err = c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	var resp connection.Response
	if _, err := unmarshal(typ, data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (c *client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// NewServerFunc builds the server state for one websocket. release runs
// when the websocket goes away.
type NewServerFunc func() (server *connection.Server, release func())

// Shared serves the same server to every websocket.
func Shared(server *connection.Server) NewServerFunc {
	return func() (*connection.Server, func()) { return server, func() {} }
}

// Handler serves connection servers to websocket clients. Each websocket
// is one connection with its own server; calls on it are answered in order.
func Handler(newServer NewServerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Error("websocket accept", "error", err)
			return
		}
		conn.SetReadLimit(connection.MaxFrameSize)
		defer conn.CloseNow()

		server, release := newServer()
		defer release()

		ctx := r.Context()
		slog.Info("peer connected", "remote", r.RemoteAddr)
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusNoStatusRcvd && !errors.Is(err, context.Canceled) {
					slog.Error("websocket read", "remote", r.RemoteAddr, "error", err)
				}
				return
			}
			var req connection.Request
			enc, err := unmarshal(typ, data, &req)
			if err != nil {
				slog.Error("websocket decode", "remote", r.RemoteAddr, "error", err)
				conn.Close(websocket.StatusUnsupportedData, "bad request")
				return
			}
			resp := server.Serve(ctx, &req)
			typ, data, err = marshal(resp, enc)
			if err == nil && len(data) > connection.MaxFrameSize {
				err = fmt.Errorf("%s.%s response of %d bytes: %w", req.Object, req.Method, len(data), connection.ErrFrameTooLarge)
				slog.Error("websocket encode", "remote", r.RemoteAddr, "error", err)
				typ, data, err = marshal(&connection.Response{ID: req.ID, Error: connection.NewWireError(err)}, enc)
			}
			if err != nil {
				slog.Error("websocket encode", "error", err)
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				slog.Error("websocket write", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	})
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
