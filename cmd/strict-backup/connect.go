package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuya-takeyama/strict-backup/pkg/connection"
	"github.com/yuya-takeyama/strict-backup/pkg/connection/wsconn"
	"github.com/yuya-takeyama/strict-backup/pkg/protocol"
)

// offeredVersion is the highest protocol version this process speaks,
// lowered by --api-version to force the legacy convention.
func offeredVersion() (protocol.Version, error) {
	if cfg.APIVersion == 0 {
		return protocol.Current, nil
	}
	v := protocol.Version(cfg.APIVersion)
	if _, err := protocol.Negotiate(v, protocol.Current); err != nil {
		return 0, err
	}
	if v > protocol.Current {
		return 0, fmt.Errorf("api version %d is newer than %d", v, protocol.Current)
	}
	return v, nil
}

// connect opens the connection a location argument asks for. The returned
// func closes it.
func connect(ctx context.Context, spec connection.Spec) (connection.Connection, func() error, error) {
	v, err := offeredVersion()
	if err != nil {
		return nil, nil, err
	}
	if spec.IsLocal() {
		return connection.Local(v), func() error { return nil }, nil
	}

	var t connection.Transport
	if spec.URL != "" {
		t, err = wsconn.Dial(ctx, spec.URL, wsconn.EncodingMsgPack)
	} else {
		t, err = connection.Spawn(ctx, cfg.RemoteSchema, spec.Host)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", spec, err)
	}
	remote, err := connection.Dial(ctx, t, v)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("connect to %s: %w", spec, err), t.Close())
	}
	return remote, remote.Close, nil
}
