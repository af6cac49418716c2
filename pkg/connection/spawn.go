package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// DefaultRemoteSchema starts the peer over ssh. {h} is replaced by the host.
const DefaultRemoteSchema = "ssh -C {h} strict-backup-server --stdio"

// Spawn runs the remote schema command for host and returns a stream
// transport over its stdin and stdout. Closing the transport closes stdin
// and waits for the command.
func Spawn(ctx context.Context, schema, host string) (*Stream, error) {
	if schema == "" {
		schema = DefaultRemoteSchema
	}
	args := strings.Fields(strings.ReplaceAll(schema, "{h}", host))
	if len(args) == 0 {
		return nil, errors.New("empty remote schema")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", args[0], err)
	}
	return NewStream(stdout, stdin, &process{cmd: cmd, stdin: stdin}), nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

func (p *process) Close() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

// Spec is a parsed location argument.
type Spec struct {
	// Host is set for peers started through the remote schema.
	Host string
	// URL is set for websocket peers.
	URL string
	// Path is the directory on whichever side holds it.
	Path string
}

func (s Spec) IsLocal() bool {
	return s.Host == "" && s.URL == ""
}

func (s Spec) String() string {
	switch {
	case s.URL != "":
		return s.URL + "::" + s.Path
	case s.Host != "":
		return s.Host + "::" + s.Path
	}
	return s.Path
}

// ParseSpec splits "path", "host::path" and "ws://host:port::path".
func ParseSpec(arg string) (Spec, error) {
	i := strings.LastIndex(arg, "::")
	if i < 0 {
		if arg == "" {
			return Spec{}, errors.New("empty location")
		}
		return Spec{Path: arg}, nil
	}
	where, path := arg[:i], arg[i+2:]
	if path == "" {
		return Spec{}, fmt.Errorf("location %q has no path", arg)
	}
	if strings.HasPrefix(where, "ws://") || strings.HasPrefix(where, "wss://") {
		return Spec{URL: where, Path: path}, nil
	}
	if where == "" {
		return Spec{}, fmt.Errorf("location %q has no host", arg)
	}
	return Spec{Host: where, Path: path}, nil
}
