package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ptyhub/termd/internal/ident"
)

func waitResult(t *testing.T, sink *recordingSink) MountResult {
	t.Helper()
	select {
	case <-sink.mu:
		return MountResult(sink.frame[8+52])
	case <-time.After(time.Second):
		t.Fatal("expected a FileMount result before the idle tick deadline")
		return 0
	}
}

func TestFileMountTouchThenStatThenDuplicateExist(t *testing.T) {
	dir := t.TempDir()

	sink := newRecordingSink(true)
	tk := NewFileMount(ident.New(), ident.New(), sink, dir)
	ext := tk.Ext.(*FileMountExt)

	go tk.Run()

	ext.Enqueue(MountRequest{Op: MountTouch, Path: "a.txt"})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess, got %v", got)
	}

	ext.Enqueue(MountRequest{Op: MountStat, Path: "a.txt"})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess, got %v", got)
	}

	ext.Enqueue(MountRequest{Op: MountTouch, Path: "a.txt"})
	if got := waitResult(t, sink); got != MountExist {
		t.Fatalf("expected MountExist, got %v", got)
	}

	tk.Submit(Work{Kind: WorkClose})
	waitDone(t, tk.Done())
}

func TestFileMountOpenWriteReadCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMount(ident.New(), ident.New(), sink, dir)
	ext := tk.Ext.(*FileMountExt)

	go tk.Run()

	ext.Enqueue(MountRequest{Op: MountOpen, Path: "data.txt"})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess on open, got %v", got)
	}

	ext.Enqueue(MountRequest{Op: MountWrite, Path: "data.txt", Data: []byte("hello")})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess on write, got %v", got)
	}

	ext.Enqueue(MountRequest{Op: MountClose, Path: "data.txt"})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess on close, got %v", got)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected file content %q, got %q", "hello", got)
	}

	tk.Submit(Work{Kind: WorkClose})
	waitDone(t, tk.Done())
}

func TestFileMountOpendirRejectsRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notadir.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMount(ident.New(), ident.New(), sink, dir)
	ext := tk.Ext.(*FileMountExt)

	go tk.Run()

	ext.Enqueue(MountRequest{Op: MountOpendir, Path: "notadir.txt"})
	if got := waitResult(t, sink); got != MountFiletype {
		t.Fatalf("expected MountFiletype, got %v", got)
	}

	tk.Submit(Work{Kind: WorkClose})
	waitDone(t, tk.Done())
}

func TestFileMountRootPathRefersToOpenedTarget(t *testing.T) {
	dir := t.TempDir()

	sink := newRecordingSink(true)
	tk := NewFileMount(ident.New(), ident.New(), sink, dir)
	ext := tk.Ext.(*FileMountExt)

	go tk.Run()

	ext.Enqueue(MountRequest{Op: MountStat, Path: ""})
	if got := waitResult(t, sink); got != MountSuccess {
		t.Fatalf("expected MountSuccess statting root, got %v", got)
	}

	tk.Submit(Work{Kind: WorkClose})
	waitDone(t, tk.Done())
}
