// Package supervisor keeps one authenticated RCON session per game
// server alive: it dials, authenticates, health-polls, and reconnects
// with backoff when the session breaks. State transitions and player
// samples are published to an event hub.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/events"
	"grimm.is/zedctl/internal/logging"
	"grimm.is/zedctl/internal/rcon"
)

// State is the connection lifecycle state of a supervised server.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	// ErrNotConnected means no authenticated session is available.
	ErrNotConnected = errors.New("supervisor: not connected")

	errSessionBroken = errors.New("supervisor: session broken")
)

// DialFunc opens the TCP connection to a server. Tests inject pipes here.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

const (
	defaultPollInterval   = 10 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultCommandTimeout = rcon.DefaultCommandTimeout
)

// Config describes one supervised server.
type Config struct {
	ServerID string
	Host     string
	Port     int

	// Username triggers the game's in-game login command after the
	// protocol-level auth; empty skips it.
	Username string
	Password string

	PollInterval   time.Duration
	CommandTimeout time.Duration
	DialTimeout    time.Duration
	QuietPeriod    time.Duration

	Dial  DialFunc
	Clock clock.Clock
	Hub   *events.Hub
}

// Snapshot is a point-in-time view of a supervisor for status APIs.
type Snapshot struct {
	ServerID  string      `json:"server_id"`
	State     State       `json:"state"`
	LastError string      `json:"last_error,omitempty"`
	Failures  int         `json:"consecutive_failures,omitempty"`
	Players   PlayersInfo `json:"players"`
	Uptime    float64     `json:"uptime_seconds,omitempty"`
}

// Supervisor runs the connection state machine for one server.
type Supervisor struct {
	cfg Config
	clk clock.Clock
	hub *events.Hub
	log *logging.Logger

	mu          sync.Mutex
	state       State
	lastErr     error
	session     *rcon.Session
	failures    int
	lastPlayers PlayersInfo
	maxPlayers  int
	connectedAt time.Time
	running     bool
	runCancel   context.CancelFunc
	done        chan struct{}

	reconnectNow chan struct{}
	kick         chan struct{}
}

// New creates a supervisor. It does nothing until Connect is called.
func New(cfg Config) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	hub := cfg.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	return &Supervisor{
		cfg:          cfg,
		clk:          clk,
		hub:          hub,
		log:          logging.WithComponent("supervisor").WithFields(map[string]any{"server": cfg.ServerID}),
		state:        StateDisconnected,
		reconnectNow: make(chan struct{}, 1),
		kick:         make(chan struct{}, 1),
	}
}

// Hub returns the event hub this supervisor publishes to.
func (s *Supervisor) Hub() *events.Hub { return s.hub }

// Connect starts the supervision loop and waits for the outcome of the
// first connection attempt. A non-auth failure leaves the loop running
// in the background with backoff; ErrAuth parks the supervisor until
// Connect is called again. Calling Connect on a running supervisor is a
// no-op.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.runCancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil
	done := s.done
	s.mu.Unlock()

	first := make(chan error, 1)
	go s.run(runCtx, first)

	select {
	case err := <-first:
		return err
	case <-done:
		select {
		case err := <-first:
			return err
		default:
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops supervision and closes any live session. Pending
// backoff timers are cancelled. Safe to call repeatedly.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	cancel := s.runCancel
	done := s.done
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ReconnectNow skips a pending backoff wait. Outside Reconnecting there
// is no wait to skip, and a token queued then would silently swallow a
// later backoff, so the request is dropped in every other state.
func (s *Supervisor) ReconnectNow() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateReconnecting {
		return
	}
	select {
	case s.reconnectNow <- struct{}{}:
	default:
	}
}

// Execute runs a command on the live session. It satisfies
// reconcile.Executor. A transport-level failure wakes the supervision
// loop so reconnection starts without waiting for the next poll.
func (s *Supervisor) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	sess := s.session
	st := s.state
	s.mu.Unlock()

	if sess == nil || st != StateConnected {
		return "", fmt.Errorf("%w: server %s is %s", ErrNotConnected, s.cfg.ServerID, st)
	}
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}

	start := s.clk.Now()
	out, err := sess.Execute(ctx, command, timeout)
	took := s.clk.Since(start)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		if sess.Broken() {
			s.signalKick()
		}
	}
	s.hub.EmitCommand(s.cfg.ServerID, command, out, errMsg, took)
	return out, err
}

// Status returns a snapshot for status endpoints.
func (s *Supervisor) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ServerID: s.cfg.ServerID,
		State:    s.state,
		Failures: s.failures,
		Players:  s.lastPlayers,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	if s.state == StateConnected && !s.connectedAt.IsZero() {
		snap.Uptime = s.clk.Since(s.connectedAt).Seconds()
	}
	return snap
}

// Players returns the latest health poll sample. Only the most recent
// value is retained.
func (s *Supervisor) Players() PlayersInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return PlayersInfo{}
	}
	return s.lastPlayers
}

// InvalidateOptionsCache drops the cached MaxPlayers value so the next
// poll re-reads showoptions. Call after changing server options.
func (s *Supervisor) InvalidateOptionsCache() {
	s.mu.Lock()
	s.maxPlayers = 0
	s.mu.Unlock()
}

func (s *Supervisor) signalKick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) run(ctx context.Context, first chan<- error) {
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
	}()

	for {
		s.transition(StateConnecting, nil)

		sess, err := s.connectOnce(ctx)
		if err != nil {
			if errors.Is(err, rcon.ErrAuth) {
				// Bad credentials never fix themselves; park until the
				// operator changes them and reconnects explicitly.
				s.transition(StateDisconnected, err)
				report(err)
				return
			}
			if ctx.Err() != nil {
				s.transition(StateDisconnected, nil)
				report(ctx.Err())
				return
			}

			n := s.recordFailure()
			s.transition(StateReconnecting, err)
			report(err)
			if !s.waitBackoff(ctx, backoffFor(n)) {
				s.transition(StateDisconnected, nil)
				return
			}
			continue
		}

		s.mu.Lock()
		s.session = sess
		s.failures = 0
		s.lastErr = nil
		s.connectedAt = s.clk.Now()
		s.mu.Unlock()
		// A token raced in while the backoff was already ending; it has
		// nothing left to skip.
		select {
		case <-s.reconnectNow:
		default:
		}
		s.transition(StateConnected, nil)
		report(nil)

		pollErr := s.pollLoop(ctx, sess)

		s.mu.Lock()
		s.session = nil
		s.lastPlayers = PlayersInfo{}
		s.mu.Unlock()
		sess.Close()

		if ctx.Err() != nil {
			s.transition(StateDisconnected, nil)
			return
		}

		s.hub.EmitPlayerUnavailable(s.cfg.ServerID, pollErr.Error())
		n := s.recordFailure()
		s.transition(StateReconnecting, pollErr)
		if !s.waitBackoff(ctx, backoffFor(n)) {
			s.transition(StateDisconnected, nil)
			return
		}
	}
}

func (s *Supervisor) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

func (s *Supervisor) connectOnce(ctx context.Context) (*rcon.Session, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.cfg.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", rcon.ErrConnectionLost, addr, err)
	}

	sess := rcon.NewSession(conn, rcon.SessionOptions{
		QuietPeriod: s.cfg.QuietPeriod,
		Logger:      s.log,
	})

	if err := sess.Authenticate(ctx, s.cfg.Password); err != nil {
		sess.Close()
		return nil, err
	}

	// The game ignores RCON commands until an in-game admin login is
	// performed on top of the protocol auth.
	if s.cfg.Username != "" {
		cmd := fmt.Sprintf("login %s %s", s.cfg.Username, s.cfg.Password)
		if _, err := sess.Execute(ctx, cmd, s.cfg.CommandTimeout); err != nil {
			sess.Close()
			return nil, fmt.Errorf("supervisor: login: %w", err)
		}
	}

	return sess, nil
}

func (s *Supervisor) waitBackoff(ctx context.Context, d time.Duration) bool {
	s.log.Info("waiting before reconnect", "backoff", d)
	t := s.clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.reconnectNow:
		s.log.Info("reconnect requested, skipping backoff")
		return true
	case <-t.C():
		return true
	}
}

func (s *Supervisor) pollLoop(ctx context.Context, sess *rcon.Session) error {
	for {
		t := s.clk.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.kick:
			t.Stop()
			return errSessionBroken
		case <-t.C():
		}

		if sess.Broken() {
			return errSessionBroken
		}
		if err := s.pollOnce(ctx, sess); err != nil {
			return fmt.Errorf("supervisor: health poll: %w", err)
		}
	}
}

func (s *Supervisor) pollOnce(ctx context.Context, sess *rcon.Session) error {
	out, err := sess.Execute(ctx, "players", s.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	count, names := parsePlayers(out)

	max := s.cachedMaxPlayers()
	if max == 0 {
		if opts, err := sess.Execute(ctx, "showoptions", s.cfg.CommandTimeout); err == nil {
			max = parseMaxPlayers(opts)
			if max > 0 {
				s.mu.Lock()
				s.maxPlayers = max
				s.mu.Unlock()
			}
		} else if sess.Broken() {
			return err
		} else {
			s.log.Warn("showoptions failed, max players unknown", "error", err)
		}
	}

	sample := PlayersInfo{Connected: true, Online: count, Max: max, Names: names}
	s.mu.Lock()
	s.lastPlayers = sample
	s.mu.Unlock()

	s.hub.EmitPlayerCount(s.cfg.ServerID, count, max, names)
	return nil
}

func (s *Supervisor) cachedMaxPlayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPlayers
}

func (s *Supervisor) transition(to State, cause error) {
	s.mu.Lock()
	prev := s.state
	if prev == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	if cause != nil {
		s.lastErr = cause
	}
	attempt := s.failures
	s.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	s.log.Info("connection state changed", "from", prev, "to", to, "reason", reason)
	s.hub.EmitServerState(s.cfg.ServerID, string(to), string(prev), reason, attempt)
}
