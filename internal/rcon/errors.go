package rcon

import "errors"

// Error taxonomy for the RCON client. Callers classify failures with
// errors.Is; everything connection-level is retried by the supervisor,
// ErrAuth is terminal until credentials change.
var (
	// ErrProtocol indicates a malformed frame. Fatal to the connection.
	ErrProtocol = errors.New("rcon: protocol error")

	// ErrAuth indicates the server rejected the password.
	ErrAuth = errors.New("rcon: authentication failed")

	// ErrTimeout indicates no complete response assembled within the
	// command timeout. The session is broken and must be closed.
	ErrTimeout = errors.New("rcon: command timed out")

	// ErrConnectionLost indicates an I/O failure on the underlying stream.
	ErrConnectionLost = errors.New("rcon: connection lost")

	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("rcon: session closed")

	// ErrNotAuthenticated indicates Execute was called before a
	// successful Authenticate.
	ErrNotAuthenticated = errors.New("rcon: not authenticated")
)
