package connection

import (
	"context"
	"fmt"
)

type pipe struct {
	server *Server
}

// Pipe returns a transport delivering requests to an in-process server.
// Requests and responses still go through the wire encoding so that the
// peer sees exactly what a real transport would carry.
func Pipe(server *Server) Transport {
	return &pipe{server: server}
}

func (p *pipe) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var in Request
	if err := roundTripCodec(req, &in); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp := p.server.Serve(ctx, &in)

	var out Response
	if err := roundTripCodec(resp, &out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &out, nil
}

func (p *pipe) Close() error {
	return nil
}

func roundTripCodec(in, out any) error {
	b, err := Marshal(in)
	if err != nil {
		return err
	}
	return Unmarshal(b, out)
}
