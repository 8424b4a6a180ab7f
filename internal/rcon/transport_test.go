package rcon

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

const testQuiet = 150 * time.Millisecond

func encodeOrFail(t *testing.T, p Packet) []byte {
	t.Helper()
	b, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// writeChunked writes b in pieces of at most chunk bytes with a small delay
// between pieces, staying well under the quiet period.
func writeChunked(t *testing.T, conn net.Conn, b []byte, chunk int) {
	t.Helper()
	for len(b) > 0 {
		n := chunk
		if n > len(b) {
			n = len(b)
		}
		if _, err := conn.Write(b[:n]); err != nil {
			t.Errorf("chunked write: %v", err)
			return
		}
		b = b[n:]
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTransport_ReassemblesChunkedPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte("Players connected (2):\n-alice\n-bob")
	wire := encodeOrFail(t, Packet{ID: 5, Type: TypeResponseValue, Body: body})

	go writeChunked(t, server, wire, 3)

	tr := NewTransport(client, testQuiet)
	got, err := tr.ReadResponse(5, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("got %q, want %q", got, body)
	}
}

func TestTransport_SlowChunkedFragmentStaysAlive(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	first := encodeOrFail(t, Packet{ID: 7, Type: TypeResponseValue, Body: []byte("part one ")})
	second := encodeOrFail(t, Packet{ID: 7, Type: TypeResponseValue, Body: []byte("part two")})

	// The second fragment dribbles in: every inter-chunk gap stays under
	// the quiet period, but the frame as a whole takes longer than it.
	// Silence is measured between bytes, so this must reassemble.
	go func() {
		server.Write(first)
		third := len(second) / 3
		chunks := [][]byte{second[:third], second[third : 2*third], second[2*third:]}
		gaps := []time.Duration{40 * time.Millisecond, 60 * time.Millisecond, 60 * time.Millisecond}
		for i, c := range chunks {
			time.Sleep(gaps[i])
			server.Write(c)
		}
	}()

	tr := NewTransport(client, 100*time.Millisecond)
	got, err := tr.ReadResponse(7, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if want := "part one part two"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTransport_ConcatenatesFragments(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var frames [][]byte
	for _, f := range []string{"part one ", "part two ", "part three"} {
		frames = append(frames, encodeOrFail(t, Packet{ID: 9, Type: TypeResponseValue, Body: []byte(f)}))
	}
	go func() {
		for _, f := range frames {
			server.Write(f)
			time.Sleep(20 * time.Millisecond)
		}
	}()

	tr := NewTransport(client, testQuiet)
	got, err := tr.ReadResponse(9, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if want := "part one part two part three"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTransport_ForeignIDCompletesAndBuffers(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	first := encodeOrFail(t, Packet{ID: 1, Type: TypeResponseValue, Body: []byte("first")})
	second := encodeOrFail(t, Packet{ID: 2, Type: TypeResponseValue, Body: []byte("second")})
	go func() {
		server.Write(first)
		server.Write(second)
	}()

	tr := NewTransport(client, testQuiet)

	got, err := tr.ReadResponse(1, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}

	// The id-2 packet must have been buffered, not discarded: this read
	// completes without any further data on the wire.
	got, err = tr.ReadResponse(2, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestTransport_NoResponseTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := NewTransport(client, testQuiet)
	_, err := tr.ReadResponse(1, time.Now().Add(200*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestTransport_EmptyResponseAfterQuietPeriod(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	empty := encodeOrFail(t, Packet{ID: 4, Type: TypeResponseValue, Body: nil})
	go func() {
		server.Write(empty)
	}()

	tr := NewTransport(client, testQuiet)
	got, err := tr.ReadResponse(4, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty body, got %q", got)
	}
}

func TestTransport_PeerCloseIsConnectionLost(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go server.Close()

	tr := NewTransport(client, testQuiet)
	_, err := tr.ReadResponse(1, time.Now().Add(time.Second))
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}
