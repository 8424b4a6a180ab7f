// Package rcon implements the Source-style remote console protocol spoken
// by Project Zomboid servers: binary packet framing, response reassembly,
// and an authenticated command session.
package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// wrapperSize is the number of non-body bytes counted by the size field
// that precedes each packet: four bytes each for ID and type, one NUL
// terminating the body and one terminating the packet. The size field
// itself is excluded.
const wrapperSize = 4 + 4 + 2

// MaxPacketSize is the largest size field the protocol allows.
const MaxPacketSize = 4096

// Packet type values. Note that AuthResponse and ExecCommand share the
// value 2; direction disambiguates them.
const (
	TypeAuth          int32 = 3
	TypeAuthResponse  int32 = 2
	TypeExecCommand   int32 = 2
	TypeResponseValue int32 = 0
)

// Packet is a single RCON protocol packet, request or response.
type Packet struct {
	// ID correlates requests with responses. The server echoes it back,
	// except on auth failure where the response carries -1.
	ID int32

	// Type is one of the Type* constants.
	Type int32

	// Body carries the password, the command text, or response output.
	Body []byte
}

// Encode returns the wire representation of the packet: little-endian
// int32 size (excluding itself), id, type, body, and two NUL bytes.
func (p Packet) Encode() ([]byte, error) {
	size := int32(len(p.Body) + wrapperSize)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet too large (%d bytes)", ErrProtocol, size)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size+4))
	for _, v := range []int32{size, p.ID, p.Type} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	buf.Write(p.Body)
	buf.Write([]byte{0, 0})
	return buf.Bytes(), nil
}

// WriteTo writes the encoded packet to w.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	b, err := p.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom decodes one packet from r. The size field must account for
// exactly the id, type, body, and the two trailing NUL bytes; anything
// else is a protocol error.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var n int64

	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return n, err
	}
	n += 4

	if size < wrapperSize {
		return n, fmt.Errorf("%w: declared size %d below minimum %d", ErrProtocol, size, wrapperSize)
	}
	if size > MaxPacketSize {
		return n, fmt.Errorf("%w: declared size %d exceeds maximum %d", ErrProtocol, size, MaxPacketSize)
	}

	if err := binary.Read(r, binary.LittleEndian, &p.ID); err != nil {
		return n, err
	}
	n += 4
	if err := binary.Read(r, binary.LittleEndian, &p.Type); err != nil {
		return n, err
	}
	n += 4

	p.Body = make([]byte, size-wrapperSize)
	read, err := io.ReadFull(r, p.Body)
	n += int64(read)
	if err != nil {
		return n, err
	}

	var term [2]byte
	read, err = io.ReadFull(r, term[:])
	n += int64(read)
	if err != nil {
		return n, err
	}
	if term[0] != 0 || term[1] != 0 {
		return n, fmt.Errorf("%w: packet not NUL-terminated", ErrProtocol)
	}

	return n, nil
}

// Equal reports whether two packets carry identical content.
func (p Packet) Equal(other Packet) bool {
	return p.ID == other.ID && p.Type == other.Type && bytes.Equal(p.Body, other.Body)
}
