package task

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

func TestImageDownloadStreamsResolvedImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img-1.png")
	if err := os.WriteFile(path, []byte("pngbytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolve := func(name string) (string, bool) {
		if name == "img-1" {
			return path, true
		}
		return "", false
	}

	sink := newRecordingSink(true)
	tk := NewImageDownload(ident.New(), ident.New(), sink, 4, 16, "img-1", resolve)

	go tk.Run()
	<-sink.mu // size/mode header from openFD

	tk.Submit(Work{Kind: WorkResume})
	waitDone(t, tk.Done())

	if tk.State() != StateFinished {
		t.Fatalf("expected StateFinished, got %v", tk.State())
	}
}

func TestImageDownloadUnknownNameFailsNoSuchImage(t *testing.T) {
	resolve := func(name string) (string, bool) { return "", false }

	sink := newRecordingSink(true)
	tk := NewImageDownload(ident.New(), ident.New(), sink, 4, 16, "missing", resolve)

	go tk.Run()
	waitDone(t, tk.Done())

	if tk.State() != StateError {
		t.Fatalf("expected StateError, got %v", tk.State())
	}

	frame, err := wire.Decode(bytes.NewReader(sink.frame))
	if err != nil {
		t.Fatal(err)
	}
	_, payload, err := wire.DecodeTaskOutputHeader(frame.Body)
	if err != nil {
		t.Fatal(err)
	}
	if kind := ErrorKind(binary.LittleEndian.Uint32(payload)); kind != ErrNoSuchImage {
		t.Fatalf("expected ErrNoSuchImage, got %v", kind)
	}
}

func TestImageDownloadFirstFailWins(t *testing.T) {
	sink := newRecordingSink(true)
	tk := NewImageDownload(ident.New(), ident.New(), sink, 4, 16, "missing", nil)

	go tk.Run()
	waitDone(t, tk.Done())

	// Run's generic ErrOpenFailed must not overwrite the NoSuchImage
	// report openImageDownload already emitted.
	frame, err := wire.Decode(bytes.NewReader(sink.frame))
	if err != nil {
		t.Fatal(err)
	}
	hdr, payload, err := wire.DecodeTaskOutputHeader(frame.Body)
	if err != nil {
		t.Fatal(err)
	}
	if wire.TaskStatus(hdr.Status) != wire.TaskError {
		t.Fatalf("expected TaskError status, got %d", hdr.Status)
	}
	if kind := ErrorKind(binary.LittleEndian.Uint32(payload)); kind != ErrNoSuchImage {
		t.Fatalf("expected ErrNoSuchImage to win, got %v", kind)
	}
}
