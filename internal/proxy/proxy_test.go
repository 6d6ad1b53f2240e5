package proxy

import (
	"testing"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

type fakeRegistry struct {
	registered   []ident.ID
	unregistered []ident.ID
}

func (r *fakeRegistry) RegisterProxy(id, peerID ident.ID) {
	r.registered = append(r.registered, id)
}

func (r *fakeRegistry) UnregisterProxy(id ident.ID) {
	r.unregistered = append(r.unregistered, id)
}

func TestTrackerHandlesAnnounceAndRevoke(t *testing.T) {
	reg := &fakeRegistry{}
	peerID := ident.New()
	tr := NewTracker(peerID, reg)

	termID := ident.New()
	announceCmd := uint32(wire.ClassServer)<<24 | wire.CmdAnnounceTerm
	if !tr.HandleFrame(announceCmd, EncodeAnnounce(termID)) {
		t.Fatalf("expected HandleFrame to claim the announce command")
	}
	if len(reg.registered) != 1 || !reg.registered[0].Equal(termID) {
		t.Fatalf("expected %s registered, got %+v", termID, reg.registered)
	}

	revokeCmd := uint32(wire.ClassServer)<<24 | wire.CmdRevokeTerm
	if !tr.HandleFrame(revokeCmd, EncodeAnnounce(termID)) {
		t.Fatalf("expected HandleFrame to claim the revoke command")
	}
	if len(reg.unregistered) != 1 || !reg.unregistered[0].Equal(termID) {
		t.Fatalf("expected %s unregistered, got %+v", termID, reg.unregistered)
	}
}

func TestTrackerIgnoresOtherCommands(t *testing.T) {
	reg := &fakeRegistry{}
	tr := NewTracker(ident.New(), reg)

	otherCmd := uint32(wire.ClassClient)<<24 | wire.CmdTaskOutput
	if tr.HandleFrame(otherCmd, nil) {
		t.Fatalf("expected HandleFrame to ignore a non-announce command")
	}
	if tr.HandleFrame(uint32(wire.ClassServer)<<24|wire.CmdGoodbye, nil) {
		t.Fatalf("expected HandleFrame to ignore unrelated Server-class commands")
	}
}
