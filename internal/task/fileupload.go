package task

import (
	"errors"
	"os"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// FileUploadExt is the Ext payload for KindFileUpload and KindPipeUpload.
type FileUploadExt struct {
	Path        string
	IsPipe      bool
	Overwrite   bool
	file        *os.File
	received    int64
	chunks      int
	pendingData []byte
}

// NewFileUpload wires the FileUpload/PipeUpload dispatch table. overwrite
// configures whether an existing target is replaced without asking a
// question first.
func NewFileUpload(clientID, serverID ident.ID, sink Sink, chunkSize, windowSize int, path string, isPipe, overwrite bool) *Task {
	kind := KindFileUpload
	if isPipe {
		kind = KindPipeUpload
	}
	t := New(kind, clientID, serverID, sink, Dispatch{
		OpenFD:     openFileUpload,
		HandleWork: handleFileUploadWork,
	}, chunkSize, windowSize)
	t.Ext = &FileUploadExt{Path: path, IsPipe: isPipe, Overwrite: overwrite}
	return t
}

func openFileUpload(t *Task) error {
	ext := t.Ext.(*FileUploadExt)

	flags := os.O_WRONLY | os.O_CREATE
	if ext.Overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(ext.Path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		t.setState(StateQuestioning)
		t.EmitOutput(wire.TaskRunning, []byte("question:overwrite"))
		return nil
	}
	if err != nil {
		return err
	}
	ext.file = f
	return nil
}

func handleFileUploadWork(t *Task, w Work) error {
	ext := t.Ext.(*FileUploadExt)

	switch w.Kind {
	case WorkAnswer:
		return handleUploadAnswer(t, ext, w.Answer)
	case WorkClose:
		return closeFileUpload(t, ext, true)
	case WorkInput:
		if t.State() == StateQuestioning {
			ext.pendingData = append(ext.pendingData, w.Data...)
			return nil
		}
		return writeUploadChunk(t, ext, w.Data)
	default:
		return nil
	}
}

func handleUploadAnswer(t *Task, ext *FileUploadExt, answer AnswerKind) error {
	switch answer {
	case AnswerOverwrite:
		f, err := os.OpenFile(ext.Path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
		if err != nil {
			return failFileUpload(t, ext, ErrOpenFailed, err)
		}
		ext.file = f
		if len(ext.pendingData) > 0 {
			pending := ext.pendingData
			ext.pendingData = nil
			return writeUploadChunk(t, ext, pending)
		}
		return nil
	case AnswerRename:
		renamed, err := openRenamedFile(ext.Path)
		if err != nil {
			return failFileUpload(t, ext, ErrOpenFailed, err)
		}
		ext.file = renamed
		if len(ext.pendingData) > 0 {
			pending := ext.pendingData
			ext.pendingData = nil
			return writeUploadChunk(t, ext, pending)
		}
		return nil
	default:
		t.setState(StateCanceled)
		return nil
	}
}

func openRenamedFile(path string) (*os.File, error) {
	for i := 1; i <= 1000; i++ {
		candidate := renameCandidate(path, i)
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, errors.New("task: exhausted rename candidates")
}

func renameCandidate(path string, n int) string {
	return path + ".rename" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func writeUploadChunk(t *Task, ext *FileUploadExt, data []byte) error {
	n, err := ext.file.Write(data)
	ext.received += int64(n)
	ext.chunks++
	if err != nil {
		return failFileUpload(t, ext, ErrWriteFailed, err)
	}
	t.EmitOutput(wire.TaskRunning, receivedPayload(ext.received))
	return nil
}

func receivedPayload(received int64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(received >> (8 * i))
	}
	return out
}

func closeFileUpload(t *Task, ext *FileUploadExt, success bool) error {
	if ext.file != nil {
		ext.file.Close()
	}
	if !success {
		os.Remove(ext.Path)
		t.EmitOutput(wire.TaskError, nil)
		t.setState(StateError)
		return nil
	}
	t.EmitOutput(wire.TaskFinished, nil)
	t.setState(StateFinished)
	return nil
}

// failFileUpload unlinks the partially-written target and reports the
// failure kind; failure deletes the target, success deletes nothing.
func failFileUpload(t *Task, ext *FileUploadExt, kind ErrorKind, err error) error {
	if ext.file != nil {
		ext.file.Close()
	}
	os.Remove(ext.Path)
	t.Fail(kind, err)
	return nil
}
