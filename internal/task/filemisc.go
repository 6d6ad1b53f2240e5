package task

import (
	"os"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// MiscOp selects the single-shot operation a FileMisc task performs.
type MiscOp int

const (
	MiscDelete MiscOp = iota
	MiscRename
)

// FileMiscExt is the Ext payload for KindFileMisc — delete/rename,
// single-shot, potentially asking a question before completing.
type FileMiscExt struct {
	Op        MiscOp
	Path      string
	NewPath   string // rename target
	Overwrite bool   // config: recursive delete of a non-empty directory
}

// NewFileMisc wires a single-shot delete or rename task. It runs entirely
// from its TaskPrivate kick (the first HandleWork call after Starting) and
// never blocks on a work-queue event besides a possible question answer.
func NewFileMisc(clientID, serverID ident.ID, sink Sink, op MiscOp, path, newPath string, overwrite bool) *Task {
	t := New(KindFileMisc, clientID, serverID, sink, Dispatch{
		HandleWork: handleFileMiscWork,
	}, 0, 0)
	t.Ext = &FileMiscExt{Op: op, Path: path, NewPath: newPath, Overwrite: overwrite}
	return t
}

// Kick runs the single-shot operation; the caller submits this as the
// task's first (TaskPrivate) work item once Starting completes.
func Kick() Work { return Work{Kind: WorkInput} }

func handleFileMiscWork(t *Task, w Work) error {
	ext := t.Ext.(*FileMiscExt)

	switch w.Kind {
	case WorkAnswer:
		if w.Answer != AnswerOverwrite {
			t.setState(StateCanceled)
			return nil
		}
		return runFileMisc(t, ext, true)
	case WorkClose:
		t.setState(StateCanceled)
		return nil
	default:
		return runFileMisc(t, ext, false)
	}
}

func runFileMisc(t *Task, ext *FileMiscExt, forceOverwrite bool) error {
	switch ext.Op {
	case MiscDelete:
		return runFileMiscDelete(t, ext)
	case MiscRename:
		return runFileMiscRename(t, ext, forceOverwrite)
	default:
		t.setState(StateError)
		return nil
	}
}

func runFileMiscDelete(t *Task, ext *FileMiscExt) error {
	info, err := os.Lstat(ext.Path)
	if err != nil {
		t.Fail(ErrOpenFailed, err)
		return nil
	}
	if info.IsDir() && ext.Overwrite {
		err = os.RemoveAll(ext.Path)
	} else {
		err = os.Remove(ext.Path)
	}
	if err != nil {
		t.Fail(ErrWriteFailed, err)
		return nil
	}
	t.EmitOutput(wire.TaskFinished, nil)
	t.setState(StateFinished)
	return nil
}

func runFileMiscRename(t *Task, ext *FileMiscExt, forceOverwrite bool) error {
	if !forceOverwrite && !ext.Overwrite {
		if _, err := os.Lstat(ext.NewPath); err == nil {
			t.setState(StateQuestioning)
			t.EmitOutput(wire.TaskRunning, []byte("question:overwrite"))
			return nil
		}
	}
	if err := os.Rename(ext.Path, ext.NewPath); err != nil {
		t.Fail(ErrWriteFailed, err)
		return nil
	}
	t.EmitOutput(wire.TaskFinished, nil)
	t.setState(StateFinished)
	return nil
}
