// Package wire implements the length-prefixed binary frame format shared by
// every connection in the multiplexer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Class is the high byte of a frame's command field; it determines the
// routing prefix carried at the start of the body.
type Class byte

const (
	ClassPlain  Class = 0x00
	ClassServer Class = 0x01
	ClassTerm   Class = 0x02
	ClassClient Class = 0x03
)

// Routing prefix sizes in bytes.
const (
	ServerPrefixLen = 16 + 16 // destination server uuid, sender uuid
	TermPrefixLen   = 16 + 16 // destination terminal uuid, sender client uuid
	ClientPrefixLen = 16      // client uuid
)

// MaxBodyLen bounds the body length header to defend against a malformed or
// hostile peer claiming an enormous frame.
const MaxBodyLen = 64 * 1024 * 1024

// Error is a protocol framing failure.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "wire: " + e.Reason }

func protoErr(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Frame is one fully-assembled protocol message.
type Frame struct {
	Command uint32 // high byte is the Class
	Body    []byte
}

// Class returns the command class (high byte) of the frame.
func (f Frame) Class() Class {
	return Class(f.Command >> 24)
}

// NewFrame builds a frame from a class, a 24-bit command-specific value and
// a body. cmd must fit in 24 bits.
func NewFrame(class Class, cmd uint32, body []byte) Frame {
	return Frame{Command: uint32(class)<<24 | (cmd & 0x00ffffff), Body: body}
}

// Encode writes the frame's on-wire representation: u32 command, u32
// length, body — little-endian throughout.
func Encode(w io.Writer, f Frame) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], f.Command)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(f.Body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Body) == 0 {
		return nil
	}
	_, err := w.Write(f.Body)
	return err
}

// Decode reads one frame from r, enforcing MaxBodyLen.
func Decode(r io.Reader) (Frame, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	cmd := binary.LittleEndian.Uint32(hdr[0:4])
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length > MaxBodyLen {
		return Frame{}, protoErr("body length %d exceeds max %d", length, MaxBodyLen)
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Command: cmd, Body: body}, nil
}

// RoutingPrefix describes the recipient/sender ids carried at the start of
// a Server or Term class frame's body, or the single id carried by a
// Client class frame.
type RoutingPrefix struct {
	Dest   [16]byte
	Sender [16]byte
}

// ParsePrefix extracts the routing prefix for class from body, returning
// the remaining payload bytes after the prefix. Plain frames have no
// prefix and are returned unchanged.
func ParsePrefix(class Class, body []byte) (RoutingPrefix, []byte, error) {
	var p RoutingPrefix
	switch class {
	case ClassPlain:
		return p, body, nil
	case ClassServer, ClassTerm:
		if len(body) < ServerPrefixLen {
			return p, nil, protoErr("body too short for class %d prefix: %d bytes", class, len(body))
		}
		copy(p.Dest[:], body[0:16])
		copy(p.Sender[:], body[16:32])
		return p, body[ServerPrefixLen:], nil
	case ClassClient:
		if len(body) < ClientPrefixLen {
			return p, nil, protoErr("body too short for client prefix: %d bytes", len(body))
		}
		copy(p.Dest[:], body[0:16])
		return p, body[ClientPrefixLen:], nil
	default:
		return p, nil, protoErr("unknown command class %d", class)
	}
}

// BuildPrefix renders the routing prefix bytes for class.
func BuildPrefix(class Class, dest, sender [16]byte) []byte {
	switch class {
	case ClassServer, ClassTerm:
		out := make([]byte, ServerPrefixLen)
		copy(out[0:16], dest[:])
		copy(out[16:32], sender[:])
		return out
	case ClassClient:
		out := make([]byte, ClientPrefixLen)
		copy(out, dest[:])
		return out
	default:
		return nil
	}
}

// ErrUnderrun is returned by higher-level decoders when a frame body is
// shorter than the fields it must contain.
var ErrUnderrun = errors.New("wire: body underrun")
