package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeServer speaks just enough of the protocol to drive a Session.
type fakeServer struct {
	conn     net.Conn
	t        *testing.T
	password string

	mu      sync.Mutex
	handler func(cmd string, id int32) []Packet
}

func newFakeServer(t *testing.T, conn net.Conn, password string) *fakeServer {
	f := &fakeServer{conn: conn, t: t, password: password}
	go f.serve()
	return f
}

func (f *fakeServer) setHandler(h func(cmd string, id int32) []Packet) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeServer) serve() {
	for {
		var req Packet
		if _, err := req.ReadFrom(f.conn); err != nil {
			return
		}

		switch req.Type {
		case TypeAuth:
			if string(req.Body) == f.password {
				f.reply(Packet{ID: req.ID, Type: TypeAuthResponse})
			} else {
				f.reply(Packet{ID: -1, Type: TypeAuthResponse})
			}
		default:
			f.mu.Lock()
			h := f.handler
			f.mu.Unlock()
			if h == nil {
				f.reply(Packet{ID: req.ID, Type: TypeResponseValue, Body: []byte("ok")})
				continue
			}
			for _, p := range h(string(req.Body), req.ID) {
				f.reply(p)
			}
		}
	}
}

func (f *fakeServer) reply(p Packet) {
	b, err := p.Encode()
	if err != nil {
		f.t.Error(err)
		return
	}
	f.conn.Write(b)
}

func newTestSession(t *testing.T, password string) (*Session, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	fs := newFakeServer(t, server, password)
	s := NewSession(client, SessionOptions{QuietPeriod: testQuiet})
	return s, fs
}

func TestSession_Authenticate(t *testing.T) {
	s, _ := newTestSession(t, "sekrit")
	if err := s.Authenticate(context.Background(), "sekrit"); err != nil {
		t.Fatal(err)
	}
}

func TestSession_AuthenticateRejected(t *testing.T) {
	s, _ := newTestSession(t, "sekrit")
	err := s.Authenticate(context.Background(), "wrong")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}

	// A failed auth is not a broken connection; auth errors are terminal
	// for the credentials, not the transport.
	if s.Broken() {
		t.Error("auth rejection should not mark the session broken")
	}
}

func TestSession_ExecuteRequiresAuth(t *testing.T) {
	s, _ := newTestSession(t, "sekrit")
	_, err := s.Execute(context.Background(), "players", time.Second)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSession_Execute(t *testing.T) {
	s, fs := newTestSession(t, "sekrit")
	fs.setHandler(func(cmd string, id int32) []Packet {
		if cmd != "players" {
			t.Errorf("unexpected command %q", cmd)
		}
		return []Packet{{ID: id, Type: TypeResponseValue, Body: []byte("Players connected (0):")}}
	})

	if err := s.Authenticate(context.Background(), "sekrit"); err != nil {
		t.Fatal(err)
	}
	out, err := s.Execute(context.Background(), "players", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Players connected (0):" {
		t.Errorf("got %q", out)
	}
}

func TestSession_ExecuteReassemblesFragments(t *testing.T) {
	s, fs := newTestSession(t, "sekrit")
	fs.setHandler(func(cmd string, id int32) []Packet {
		return []Packet{
			{ID: id, Type: TypeResponseValue, Body: []byte("alpha ")},
			{ID: id, Type: TypeResponseValue, Body: []byte("beta")},
		}
	})

	if err := s.Authenticate(context.Background(), "sekrit"); err != nil {
		t.Fatal(err)
	}
	out, err := s.Execute(context.Background(), "showoptions", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out != "alpha beta" {
		t.Errorf("got %q", out)
	}
}

func TestSession_ExecuteTimeoutBreaksSession(t *testing.T) {
	s, fs := newTestSession(t, "sekrit")
	fs.setHandler(func(cmd string, id int32) []Packet {
		return nil // never answer
	})

	if err := s.Authenticate(context.Background(), "sekrit"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Execute(context.Background(), "players", 200*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !s.Broken() {
		t.Error("timeout must break the session")
	}

	// A broken session refuses further commands rather than retrying.
	_, err = s.Execute(context.Background(), "players", time.Second)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost on broken session, got %v", err)
	}
}

func TestSession_SerializesConcurrentCallers(t *testing.T) {
	s, fs := newTestSession(t, "sekrit")

	fs.setHandler(func(cmd string, id int32) []Packet {
		// Echo the command so each caller can verify it got its own
		// response and not one belonging to another request.
		return []Packet{{ID: id, Type: TypeResponseValue, Body: []byte(cmd)}}
	})

	if err := s.Authenticate(context.Background(), "sekrit"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cmd := fmt.Sprintf("command-%d", n)
			out, err := s.Execute(context.Background(), cmd, 10*time.Second)
			if err != nil {
				t.Errorf("execute %s: %v", cmd, err)
				return
			}
			if out != cmd {
				t.Errorf("response crosstalk: sent %q, got %q", cmd, out)
			}
		}(i)
	}
	wg.Wait()
}

func TestSession_ClosedRefusesWork(t *testing.T) {
	s, _ := newTestSession(t, "sekrit")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := s.Authenticate(context.Background(), "sekrit"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
