package filetracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTrackerEmitsCreateEventAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-tr.Events():
		if ev.RelPath != "hello.txt" {
			t.Fatalf("unexpected relpath %q", ev.RelPath)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestTrackerSkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	hidden := filepath.Join(dir, ".hidden")
	if err := os.WriteFile(hidden, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event for hidden file: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSuppressPreventsSelfCausedEvent(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	tr.Suppress("upload.bin")
	path := filepath.Join(dir, "upload.bin")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event while suppressed: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}

	tr.Unsuppress("upload.bin")
	if err := os.WriteFile(path, []byte("data2"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	select {
	case ev := <-tr.Events():
		if ev.RelPath != "upload.bin" {
			t.Fatalf("unexpected relpath %q", ev.RelPath)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for unsuppressed event")
	}
}
