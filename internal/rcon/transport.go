package rcon

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultQuietPeriod is how long the transport waits for further bytes
// after at least one response packet has arrived. The protocol has no
// terminator packet, so end-of-response is inferred from silence. This is a
// known limitation of the protocol, not of this implementation.
const DefaultQuietPeriod = 100 * time.Millisecond

// Transport frames and deframes RCON packets over a byte stream and
// reassembles logical responses that arrive split across several packets.
// It is not safe for concurrent use; Session serializes access.
type Transport struct {
	conn  net.Conn
	src   *idleReader
	br    *bufio.Reader
	quiet time.Duration

	// pending holds packets observed while assembling a response for a
	// different request id. They belong to a later exchange and are
	// consumed first on the next read. Request ids are monotonically
	// increasing within a session, which lets stale entries be pruned.
	pending []Packet
}

// idleReader reads from conn and, when an idle window is set, pushes the
// read deadline forward before every read. Each arriving chunk therefore
// restarts the window, so silence is measured between bytes rather than
// between whole packets.
type idleReader struct {
	conn net.Conn
	idle time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.idle > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}

// NewTransport wraps conn. A quiet period of zero selects the default.
func NewTransport(conn net.Conn, quiet time.Duration) *Transport {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	src := &idleReader{conn: conn}
	return &Transport{
		conn:  conn,
		src:   src,
		br:    bufio.NewReader(src),
		quiet: quiet,
	}
}

// Send writes a single packet to the stream.
func (t *Transport) Send(p Packet) error {
	b, err := p.Encode()
	if err != nil {
		return err
	}
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// ReadPacket reads one packet, blocking until the deadline. A zero deadline
// blocks indefinitely. A deadline expiring before any byte of the frame was
// consumed returns a timeout error; expiring mid-frame desynchronizes the
// stream and is reported as a protocol error.
func (t *Transport) ReadPacket(deadline time.Time) (Packet, error) {
	t.src.idle = 0
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return t.readPacket()
}

// readPacketQuiet reads one packet with the idle window armed: the
// deadline restarts on every chunk, and only a full quiet period of
// silence times the read out.
func (t *Transport) readPacketQuiet() (Packet, error) {
	t.src.idle = t.quiet
	defer func() { t.src.idle = 0 }()
	return t.readPacket()
}

func (t *Transport) readPacket() (Packet, error) {
	var p Packet
	n, err := p.ReadFrom(t.br)
	if err == nil {
		return p, nil
	}

	if isTimeout(err) {
		if n > 0 || t.br.Buffered() > 0 {
			return Packet{}, fmt.Errorf("%w: read timed out mid-frame", ErrProtocol)
		}
		return Packet{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, ErrProtocol) {
		return Packet{}, err
	}
	return Packet{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// ReadResponse assembles the logical response for the given request id.
// Fragments are concatenated in arrival order. The response is complete
// once a full quiet period passes with no bytes on the wire, or a packet
// with a different id arrives (it is buffered for the next exchange). The
// deadline bounds only the wait for the first byte of the response; once
// data is flowing, completion is governed by the quiet period alone.
func (t *Transport) ReadResponse(id int32, deadline time.Time) ([]byte, error) {
	var body bytes.Buffer
	got := false

	// Consume anything buffered from an earlier overlapping read.
	remaining := t.pending[:0]
	for _, p := range t.pending {
		switch {
		case p.ID == id:
			body.Write(p.Body)
			got = true
		case p.ID > id:
			remaining = append(remaining, p)
		default:
			// Stale fragment from a completed exchange.
		}
	}
	t.pending = remaining

	for {
		var p Packet
		var err error
		if got {
			p, err = t.readPacketQuiet()
		} else {
			p, err = t.ReadPacket(deadline)
		}
		if err != nil {
			if got && errors.Is(err, ErrTimeout) {
				// Quiet period elapsed: response is complete.
				return body.Bytes(), nil
			}
			return nil, err
		}

		if p.ID == id {
			body.Write(p.Body)
			got = true
			continue
		}

		// A packet for another exchange marks this response complete.
		// It must be buffered, never discarded.
		t.pending = append(t.pending, p)
		if got {
			return body.Bytes(), nil
		}
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
