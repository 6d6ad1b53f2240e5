package listener

import "testing"

func TestPublishAttributesBypassesRestriction(t *testing.T) {
	l := New(false)

	l.PublishAttributes(map[string]string{"server.hostname": "amber", "session.rows": "24"})

	if v, ok := l.Attribute("server.hostname"); !ok || v != "amber" {
		t.Fatalf("expected server.hostname=amber, got %q ok=%v", v, ok)
	}
	if v, ok := l.Attribute("session.rows"); !ok || v != "24" {
		t.Fatalf("expected session.rows=24, got %q ok=%v", v, ok)
	}
}

func TestSetAttributePreservesRestrictedKey(t *testing.T) {
	l := New(false)
	l.PublishAttributes(map[string]string{"server.hostname": "amber"})

	if l.SetAttribute("server.hostname", "intruder") {
		t.Fatal("external write to server.* should be restricted")
	}
	if v, _ := l.Attribute("server.hostname"); v != "amber" {
		t.Fatalf("restricted write must preserve old value, got %q", v)
	}

	if !l.SetAttribute("session.cols", "80") {
		t.Fatal("unrestricted key rejected")
	}
	if v, _ := l.Attribute("session.cols"); v != "80" {
		t.Fatalf("expected session.cols=80, got %q", v)
	}
}
