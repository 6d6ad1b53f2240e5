package task

import (
	"fmt"
	"io"
	"os"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// ImageResolver maps an image name to the filesystem path holding its
// bytes. The terminal's emulator owns the image registry (it placed the
// images there while decoding the byte stream), so resolution is injected
// rather than performed here.
type ImageResolver func(name string) (path string, ok bool)

// ImageDownloadExt is the Ext payload for KindImageDownload.
type ImageDownloadExt struct {
	Name    string
	Resolve ImageResolver
	file    *os.File
}

// NewImageDownload streams a terminal-held image to the client with the
// same chunk/window backpressure as a file download. A name the resolver
// does not know fails with a NoSuchImage report.
func NewImageDownload(clientID, serverID ident.ID, sink Sink, chunkSize, windowSize int, name string, resolve ImageResolver) *Task {
	t := New(KindImageDownload, clientID, serverID, sink, Dispatch{
		OpenFD:     openImageDownload,
		HandleWork: handleImageDownloadWork,
	}, chunkSize, windowSize)
	t.TargetName = name
	t.Ext = &ImageDownloadExt{Name: name, Resolve: resolve}
	return t
}

func openImageDownload(t *Task) error {
	ext := t.Ext.(*ImageDownloadExt)

	var path string
	var ok bool
	if ext.Resolve != nil {
		path, ok = ext.Resolve(ext.Name)
	}
	if !ok {
		err := fmt.Errorf("no such image %q", ext.Name)
		t.Fail(ErrNoSuchImage, err)
		return err
	}

	f, err := os.Open(path)
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

func handleImageDownloadWork(t *Task, w Work) error {
	ext := t.Ext.(*ImageDownloadExt)

	switch w.Kind {
	case WorkInput: // ignored: input carries no ack here; acked advances only on WorkAcking
		return nil
	case WorkPause:
		t.setState(StateThrottledRemote)
		return nil
	case WorkClose:
		return closeImageDownload(t, ext)
	default:
		return pumpImageDownload(t, ext)
	}
}

func pumpImageDownload(t *Task, ext *ImageDownloadExt) error {
	for t.CanSend() {
		buf := make([]byte, t.ChunkSize())
		n, err := ext.file.Read(buf)
		if n > 0 {
			t.EmitOutput(wire.TaskRunning, buf[:n])
		}
		if err == io.EOF {
			return closeImageDownload(t, ext)
		}
		if err != nil {
			t.Fail(ErrReadFailed, err)
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func closeImageDownload(t *Task, ext *ImageDownloadExt) error {
	if ext.file != nil {
		ext.file.Close()
	}
	t.EmitOutput(wire.TaskFinished, nil)
	t.setState(StateFinished)
	return nil
}
