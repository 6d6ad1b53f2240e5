package task

import (
	"io"
	"os"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// FileDownloadExt is the Ext payload for KindFileDownload and
// KindPipeDownload — both share dispatch; PipeDownload additionally
// unlinks its path on destruction.
type FileDownloadExt struct {
	Path   string
	IsPipe bool
	file   *os.File
}

// NewFileDownload wires the FileDownload/PipeDownload dispatch table;
// path is opened when Run enters Starting (for a pipe download, the
// caller creates the FIFO first since that step is platform-specific).
func NewFileDownload(clientID, serverID ident.ID, sink Sink, chunkSize, windowSize int, path string, isPipe bool) *Task {
	kind := KindFileDownload
	if isPipe {
		kind = KindPipeDownload
	}
	t := New(kind, clientID, serverID, sink, Dispatch{
		OpenFD:     openFileDownload,
		HandleWork: handleFileDownloadWork,
	}, chunkSize, windowSize)
	t.Ext = &FileDownloadExt{Path: path, IsPipe: isPipe}
	return t
}

func openFileDownload(t *Task) error {
	ext := t.Ext.(*FileDownloadExt)
	f, err := os.Open(ext.Path)
	if err != nil {
		return err
	}
	ext.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	t.EmitOutput(wire.TaskRunning, sizeAndModePayload(info.Size(), info.Mode()))
	return nil
}

func sizeAndModePayload(size int64, mode os.FileMode) []byte {
	out := make([]byte, 9)
	for i := 0; i < 8; i++ {
		out[i] = byte(size >> (8 * i))
	}
	out[8] = byte(mode.Perm())
	return out
}

func handleFileDownloadWork(t *Task, w Work) error {
	ext := t.Ext.(*FileDownloadExt)

	switch w.Kind {
	case WorkInput: // ignored: input carries no ack here; acked advances only on WorkAcking, in task.go
		return nil
	case WorkPause:
		t.setState(StateThrottledRemote)
		return nil
	case WorkResume:
		return pumpFileDownload(t, ext)
	case WorkClose:
		return closeFileDownload(t, ext)
	default:
		return pumpFileDownload(t, ext)
	}
}

func pumpFileDownload(t *Task, ext *FileDownloadExt) error {
	for t.CanSend() {
		buf := make([]byte, t.ChunkSize())
		n, err := ext.file.Read(buf)
		if n > 0 {
			t.EmitOutput(wire.TaskRunning, buf[:n])
		}
		if err == io.EOF {
			return closeFileDownload(t, ext)
		}
		if err != nil {
			t.setState(StateError)
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func closeFileDownload(t *Task, ext *FileDownloadExt) error {
	if ext.file != nil {
		ext.file.Close()
	}
	if ext.IsPipe {
		os.Remove(ext.Path)
	}
	t.EmitOutput(wire.TaskFinished, nil)
	t.setState(StateFinished)
	return nil
}
