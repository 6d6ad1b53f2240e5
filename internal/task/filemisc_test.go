package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ptyhub/termd/internal/ident"
)

func TestFileMiscDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMisc(ident.New(), ident.New(), sink, MiscDelete, path, "", false)

	go tk.Run()
	tk.Submit(Kick())
	waitDone(t, tk.Done())

	if tk.State() != StateFinished {
		t.Fatalf("expected StateFinished, got %v", tk.State())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
}

func TestFileMiscDeleteNonEmptyDirRequiresOverwrite(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMisc(ident.New(), ident.New(), sink, MiscDelete, sub, "", true)

	go tk.Run()
	tk.Submit(Kick())
	waitDone(t, tk.Done())

	if tk.State() != StateFinished {
		t.Fatalf("expected StateFinished, got %v", tk.State())
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Fatalf("expected directory removed, stat err=%v", err)
	}
}

func TestFileMiscRenameAsksQuestionOnExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMisc(ident.New(), ident.New(), sink, MiscRename, src, dst, false)

	go tk.Run()
	tk.Submit(Kick())
	<-sink.mu

	if tk.State() != StateQuestioning {
		t.Fatalf("expected StateQuestioning, got %v", tk.State())
	}
	tk.Submit(Work{Kind: WorkAnswer, Answer: AnswerCancel})
	waitDone(t, tk.Done())
}

func TestFileMiscRenameSucceedsWhenNoConflict(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink(true)
	tk := NewFileMisc(ident.New(), ident.New(), sink, MiscRename, src, dst, false)

	go tk.Run()
	tk.Submit(Kick())
	waitDone(t, tk.Done())

	if tk.State() != StateFinished {
		t.Fatalf("expected StateFinished, got %v", tk.State())
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected rename target to exist: %v", err)
	}
}
