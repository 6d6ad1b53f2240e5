// Package protocol implements the three frame-machine variants
// (Server, Client, Raw): each consumes raw bytes off a
// connection's descriptor, runs a handshake, then assembles length-framed
// messages and dispatches each fully-assembled frame to the owning
// worker.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ptyhub/termd/internal/wire"
)

// State is the connection lifecycle state shared by all three variants.
type State int

const (
	Handshaking State = iota
	Attributing
	Running
	Closing
	Gone
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Attributing:
		return "attributing"
	case Running:
		return "running"
	case Closing:
		return "closing"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// ErrProtocol is returned for any malformed-input condition: oversized
// length header, malformed handshake, or a body too short for its
// required routing prefix.
var ErrProtocol = errors.New("protocol violation")

// Dispatcher receives one fully-assembled frame. body is valid only for
// the duration of the call; the machine reuses its backing buffer
// immediately after Dispatch returns.
type Dispatcher func(command uint32, body []byte) error

// Variant selects which handshake behavior a Machine runs.
type Variant int

const (
	VariantServer Variant = iota
	VariantClient
	VariantRaw
)

// Handshake is the fixed magic both ends exchange before framed traffic
// begins. Server and Client machines require it; Raw skips straight to
// framing.
var Handshake = []byte("TERMD1\x00")

// Machine incrementally decodes a byte stream into frames, running a
// handshake first unless Variant is Raw.
type Machine struct {
	variant  Variant
	state    State
	dispatch Dispatcher
	maxBody  uint32
	buf      bytes.Buffer
}

// New creates a Machine. maxBody bounds the length header per
// wire.MaxBodyLen-style configuration; dispatch receives assembled
// frames.
func New(variant Variant, maxBody uint32, dispatch Dispatcher) *Machine {
	state := Handshaking
	if variant == VariantRaw {
		state = Attributing
	}
	return &Machine{variant: variant, state: state, dispatch: dispatch, maxBody: maxBody}
}

// State returns the machine's current lifecycle state.
func (m *Machine) State() State { return m.state }

// SetState forces a state transition (used by the owning worker to enter
// Running once attribute exchange completes, or Closing/Gone on
// shutdown).
func (m *Machine) SetState(s State) { m.state = s }

// Feed appends newly read bytes and assembles as many frames as possible,
// invoking dispatch for each. It returns ErrProtocol (wrapped) on any
// malformed input; the caller should treat this as fatal to the
// connection.
func (m *Machine) Feed(data []byte) error {
	m.buf.Write(data)

	if m.state == Handshaking {
		if err := m.consumeHandshake(); err != nil {
			return err
		}
		if m.state == Handshaking {
			return nil // still waiting for more handshake bytes
		}
	}

	for {
		ok, err := m.consumeFrame()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

func (m *Machine) consumeHandshake() error {
	need := len(Handshake)
	if m.buf.Len() < need {
		return nil
	}
	peek := m.buf.Bytes()[:need]
	if !bytes.Equal(peek, Handshake) {
		return fmt.Errorf("%w: malformed handshake", ErrProtocol)
	}
	m.buf.Next(need)
	m.state = Attributing
	return nil
}

const frameHeaderLen = 8

func (m *Machine) consumeFrame() (bool, error) {
	available := m.buf.Bytes()
	if len(available) < frameHeaderLen {
		return false, nil
	}
	length := binary.LittleEndian.Uint32(available[4:8])
	if length > m.maxBody {
		return false, fmt.Errorf("%w: body length %d exceeds max %d", ErrProtocol, length, m.maxBody)
	}
	if uint32(len(available)) < frameHeaderLen+length {
		return false, nil
	}

	command := binary.LittleEndian.Uint32(available[0:4])
	body := available[frameHeaderLen : frameHeaderLen+length]

	class := wire.Class(command >> 24)
	if _, _, err := wire.ParsePrefix(class, body); err != nil {
		return false, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if err := m.dispatch(command, body); err != nil {
		return false, err
	}

	m.buf.Next(int(frameHeaderLen + length))
	return true, nil
}

// EncodeFrame serializes a complete frame (header plus body) ready to
// submit to an output scheduler's command queue.
func EncodeFrame(command uint32, body []byte) []byte {
	var out bytes.Buffer
	wire.Encode(&out, wire.Frame{Command: command, Body: body})
	return out.Bytes()
}

// HandshakeBytes returns the literal handshake payload a Server/Client
// machine must write before any framed traffic.
func HandshakeBytes() []byte {
	return append([]byte(nil), Handshake...)
}
