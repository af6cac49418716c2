// Package protocol decides which calling convention is active between the
// controller and a peer, based on the protocol version both sides agreed on.
package protocol

import (
	"errors"
	"fmt"
)

// Version is the protocol version negotiated once per connection pair.
type Version int

const (
	// Minimum is the oldest version a peer may speak.
	Minimum Version = 200

	// Cutoff is the first version using the modern convention.
	Cutoff Version = 201

	// Current is the version spoken by this build.
	Current Version = 201
)

type Convention string

const (
	// Legacy forwards calls to the fixed "source" and "target" roles.
	Legacy Convention = "legacy"

	// Modern routes every operation through a per-role shadow and requires
	// capability negotiation.
	Modern Convention = "modern"
)

// Gate is the outcome of Decide.
type Gate struct {
	Version              Version
	Convention           Convention
	CapabilitiesRequired bool
}

// Decide maps a version onto its calling convention.
func Decide(v Version) Gate {
	if v < Cutoff {
		return Gate{Version: v, Convention: Legacy}
	}
	return Gate{Version: v, Convention: Modern, CapabilitiesRequired: true}
}

func (g Gate) Modern() bool {
	return g.Convention == Modern
}

func (g Gate) String() string {
	return fmt.Sprintf("%s (api %d)", g.Convention, g.Version)
}

// Negotiate returns the version both sides can speak.
func Negotiate(local, peer Version) (Version, error) {
	v := local
	if peer < v {
		v = peer
	}
	if v < Minimum {
		return 0, &ProtocolError{Op: "negotiate", Err: fmt.Errorf("version %d is older than minimum %d", v, Minimum)}
	}
	return v, nil
}

// ErrOrderViolation reports that two sides of a positional stream disagree on
// traversal order.
var ErrOrderViolation = errors.New("traversal order violation")

// ProtocolError reports a peer answering in a way inconsistent with the
// negotiated protocol, or unable to supply a requested object.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
