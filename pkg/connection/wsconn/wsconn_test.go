package wsconn

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

type upperArgs struct {
	Text string `json:"text" msgpack:"text"`
}

func TestRoundTrip(t *testing.T) {
	server := connection.NewServer(protocol.Current)
	server.Register("text", connection.Methods{
		"upper": connection.Method(func(ctx context.Context, a upperArgs) (string, error) {
			return strings.ToUpper(a.Text), nil
		}),
		"fail": connection.Method(func(ctx context.Context, a upperArgs) (any, error) {
			return nil, errors.New("nope")
		}),
	})
	ts := httptest.NewServer(Handler(Shared(server)))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	for _, enc := range []Encoding{EncodingJSON, EncodingMsgPack} {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			transport, err := Dial(ctx, url, enc)
			require.NoError(t, err)

			r, err := connection.Dial(ctx, transport, protocol.Current)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, protocol.Current, r.Version())

			var got string
			require.NoError(t, r.Call(ctx, "text", "upper", upperArgs{"abc"}, &got))
			assert.Equal(t, "ABC", got)

			var remote *connection.RemoteError
			assert.ErrorAs(t, r.Call(ctx, "text", "fail", upperArgs{}, nil), &remote)
		})
	}
}

func TestServerPerConnection(t *testing.T) {
	released := make(chan int, 2)
	built := 0
	newServer := func() (*connection.Server, func()) {
		built++
		id := built
		server := connection.NewServer(protocol.Current)
		server.Register("id", connection.Methods{
			"get": connection.Method(func(ctx context.Context, _ struct{}) (int, error) { return id, nil }),
		})
		return server, func() { released <- id }
	}
	ts := httptest.NewServer(Handler(newServer))
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx := context.Background()
	var ids []int
	for range 2 {
		transport, err := Dial(ctx, url, EncodingJSON)
		require.NoError(t, err)
		r, err := connection.Dial(ctx, transport, protocol.Current)
		require.NoError(t, err)
		var id int
		require.NoError(t, r.Call(ctx, "id", "get", struct{}{}, &id))
		ids = append(ids, id)
		require.NoError(t, r.Close())
		assert.Equal(t, id, <-released)
	}
	assert.Equal(t, []int{1, 2}, ids)
}
