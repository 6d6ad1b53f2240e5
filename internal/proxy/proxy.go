// Package proxy implements the Proxy handle: a stand-in for a remote
// terminal reachable through a peer server. It has no descriptor of its
// own — it shares its owning peer's
// connection — so, unlike a Term or Conn connection worker, it carries no
// event loop. Its only job is translating the Server-class announcement
// frames peers exchange into Listener registry calls, keeping loop-free
// cross-server forwarding correct.
package proxy

import (
	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// Registry is the subset of *listener.Listener a Tracker needs. Declared
// here (rather than importing internal/listener) so a Tracker depends only
// on the two registry calls it makes; *listener.Listener satisfies it.
type Registry interface {
	RegisterProxy(id, peerID ident.ID)
	UnregisterProxy(id ident.ID)
}

// Tracker watches the frames exchanged with one peer server and keeps the
// Listener's proxy map in sync with that peer's announcements.
type Tracker struct {
	peerID ident.ID
	reg    Registry
}

// NewTracker builds a Tracker for frames arriving from peerID.
func NewTracker(peerID ident.ID, reg Registry) *Tracker {
	return &Tracker{peerID: peerID, reg: reg}
}

// HandleFrame inspects command and, for CmdAnnounceTerm/CmdRevokeTerm,
// updates the proxy registry; it returns false for any other command so
// the caller's normal dispatch continues to handle it.
func (t *Tracker) HandleFrame(command uint32, body []byte) bool {
	class := wire.Class(command >> 24)
	cmd := command & 0x00ffffff
	if class != wire.ClassServer {
		return false
	}
	switch cmd {
	case wire.CmdAnnounceTerm:
		if termID, ok := decodeAnnounce(body); ok {
			t.reg.RegisterProxy(termID, t.peerID)
		}
		return true
	case wire.CmdRevokeTerm:
		if termID, ok := decodeAnnounce(body); ok {
			t.reg.UnregisterProxy(termID)
		}
		return true
	default:
		return false
	}
}

// EncodeAnnounce builds the Server-class body identifying termID, used for
// both CmdAnnounceTerm and CmdRevokeTerm frames.
func EncodeAnnounce(termID ident.ID) []byte {
	return termID.Bytes()
}

func decodeAnnounce(body []byte) (ident.ID, bool) {
	if len(body) < 16 {
		return ident.ID{}, false
	}
	id, err := ident.FromBytes(body[:16])
	if err != nil {
		return ident.ID{}, false
	}
	return id, true
}
