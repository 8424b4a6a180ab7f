package rcon

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"grimm.is/zedctl/internal/logging"
)

// DefaultCommandTimeout bounds Execute when the caller passes no timeout.
const DefaultCommandTimeout = 5 * time.Second

// Session owns one authenticated transport and serializes command
// execution over it: exactly one request may be outstanding at a time, and
// concurrent callers queue on the session lock. This avoids response/id
// ambiguity given the quiet-period reassembly heuristic.
//
// A session that returns ErrTimeout or ErrConnectionLost is broken and must
// be closed and replaced by the caller; it never retries internally.
type Session struct {
	tr  *Transport
	log *logging.Logger

	execMu chan struct{} // FIFO admission ticket for Execute/Authenticate

	nextID        int32
	authenticated bool
	broken        atomic.Bool
	closed        atomic.Bool
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// QuietPeriod overrides the fragment reassembly quiet period.
	QuietPeriod time.Duration
	// Logger receives debug-level wire activity. Defaults to the package
	// default logger.
	Logger *logging.Logger
}

// NewSession wraps an established connection. The caller must call
// Authenticate before Execute.
func NewSession(conn net.Conn, opts SessionOptions) *Session {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	s := &Session{
		tr:     NewTransport(conn, opts.QuietPeriod),
		log:    log.WithComponent("rcon"),
		execMu: make(chan struct{}, 1),
	}
	s.execMu <- struct{}{}
	return s
}

// acquire takes the single-flight slot, honoring context cancellation.
// Waiters are served in FIFO order by the channel.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case <-s.execMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	s.execMu <- struct{}{}
}

// Authenticate performs the AUTH handshake. A response with id -1 signals
// a rejected password (ErrAuth); a response echoing the request id signals
// success.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.closed.Load() {
		return ErrClosed
	}

	id := s.allocID()
	if err := s.tr.Send(Packet{ID: id, Type: TypeAuth, Body: []byte(password)}); err != nil {
		s.broken.Store(true)
		return err
	}

	deadline := s.deadlineFor(ctx, DefaultCommandTimeout)

	// Some servers emit an empty ResponseValue ahead of the auth
	// response; tolerate at most one.
	for i := 0; i < 2; i++ {
		resp, err := s.tr.ReadPacket(deadline)
		if err != nil {
			s.broken.Store(true)
			return err
		}
		if resp.ID == -1 {
			return fmt.Errorf("%w: server rejected password", ErrAuth)
		}
		if resp.ID != id {
			s.broken.Store(true)
			return fmt.Errorf("%w: auth response id %d does not match request %d", ErrProtocol, resp.ID, id)
		}
		if resp.Type == TypeResponseValue && i == 0 {
			continue
		}
		s.authenticated = true
		s.log.Debug("authenticated")
		return nil
	}

	s.broken.Store(true)
	return fmt.Errorf("%w: no auth response", ErrProtocol)
}

// Execute sends a command and returns the reassembled response body.
// Commands are strictly serialized; concurrent callers queue in FIFO
// order. A timeout breaks the session.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()

	switch {
	case s.closed.Load():
		return "", ErrClosed
	case s.broken.Load():
		return "", fmt.Errorf("%w: session is broken", ErrConnectionLost)
	case !s.authenticated:
		return "", ErrNotAuthenticated
	}

	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	id := s.allocID()
	s.log.Debug("execute", "id", id, "command", command)

	if err := s.tr.Send(Packet{ID: id, Type: TypeExecCommand, Body: []byte(command)}); err != nil {
		s.broken.Store(true)
		return "", err
	}

	body, err := s.tr.ReadResponse(id, s.deadlineFor(ctx, timeout))
	if err != nil {
		s.broken.Store(true)
		return "", err
	}
	return string(body), nil
}

// Close closes the session and its connection. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.tr.Close()
}

// Broken reports whether the session has failed and must be replaced.
func (s *Session) Broken() bool {
	return s.broken.Load()
}

func (s *Session) allocID() int32 {
	s.nextID++
	return s.nextID
}

// deadlineFor combines the per-command timeout with any context deadline,
// whichever is earlier.
func (s *Session) deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}
