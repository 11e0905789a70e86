package rcon

import (
	"errors"
	"fmt"
)

// ErrAuthFailed reports rejected credentials. Retrying with the same password
// will not help; callers should surface it rather than loop.
var ErrAuthFailed = errors.New("rcon: authentication failed")

// ConnectionError reports a transport-level failure (dial, read, write). It is
// distinct from ErrAuthFailed so callers can treat it as transient.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rcon: connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "rcon: protocol error: " + e.Reason }
