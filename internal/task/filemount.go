package task

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/wire"
)

// MountOp enumerates the FileMount request operations.
type MountOp int

const (
	MountStat MountOp = iota
	MountRead
	MountWrite
	MountAppend
	MountChmod
	MountTrunc
	MountTouch
	MountCreate
	MountOpen
	MountClose
	MountOpendir
	MountReaddir
	MountClosedir
	MountLookup
)

// MountResult is the outcome reported for each FileMount request.
type MountResult int

const (
	MountSuccess MountResult = iota
	MountExist
	MountFiletype
	MountFailure
)

// MountRequest is one queued FileMount operation.
type MountRequest struct {
	Op   MountOp
	Path string // relative to the root; "" refers to the originally-opened target
	Data []byte
	Mode os.FileMode
}

type handleRef struct {
	count int
	file  *os.File
}

// FileMountExt is the Ext payload for KindFileMount: a request/response
// handler rooted at the path Root. No descriptor is held for the root
// itself; each request resolves its path against Root. Requests are
// queued and processed one per idle tick; file/dir handles opened by
// Open/Opendir are refcounted per path.
type FileMountExt struct {
	Root    string
	queue   []MountRequest
	mu      sync.Mutex
	handles map[string]*handleRef
}

// NewFileMount wires a FileMount task rooted at root.
func NewFileMount(clientID, serverID ident.ID, sink Sink, root string) *Task {
	t := New(KindFileMount, clientID, serverID, sink, Dispatch{
		HandleWork: handleFileMountWork,
		HandleIdle: handleFileMountIdle,
	}, 0, 0)
	t.Ext = &FileMountExt{Root: root, handles: make(map[string]*handleRef)}
	return t
}

func handleFileMountWork(t *Task, w Work) error {
	_ = t.Ext.(*FileMountExt)
	if w.Kind == WorkClose {
		t.setState(StateCanceled)
		return nil
	}
	// Every other work item, WorkInput included, is ignored: request
	// bytes are not decoded here, and requests reach the queue only
	// through FileMountExt.Enqueue.
	return nil
}

// Enqueue appends req to the task's pending queue; HandleIdle processes
// one request per idle tick.
func (ext *FileMountExt) Enqueue(req MountRequest) {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	ext.queue = append(ext.queue, req)
}

func handleFileMountIdle(t *Task) error {
	ext := t.Ext.(*FileMountExt)

	ext.mu.Lock()
	if len(ext.queue) == 0 {
		ext.mu.Unlock()
		return nil
	}
	req := ext.queue[0]
	ext.queue = ext.queue[1:]
	ext.mu.Unlock()

	result := processMountRequest(ext, req)
	t.EmitOutput(wire.TaskRunning, []byte{byte(result)})
	return nil
}

func (ext *FileMountExt) resolve(relPath string) string {
	if relPath == "" {
		return ext.Root
	}
	return filepath.Join(ext.Root, relPath)
}

func processMountRequest(ext *FileMountExt, req MountRequest) MountResult {
	full := ext.resolve(req.Path)

	switch req.Op {
	case MountStat:
		if _, err := os.Stat(full); err != nil {
			return MountFailure
		}
		return MountSuccess
	case MountTouch, MountCreate:
		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return MountExist
			}
			return MountFailure
		}
		f.Close()
		return MountSuccess
	case MountOpen:
		return mountOpen(ext, req.Path, full)
	case MountClose:
		return mountClose(ext, req.Path)
	case MountRead:
		return mountReadWrite(ext, req.Path)
	case MountWrite, MountAppend:
		return mountWrite(ext, req.Path, full, req.Data, req.Op == MountAppend)
	case MountChmod:
		if err := os.Chmod(full, req.Mode); err != nil {
			return MountFailure
		}
		return MountSuccess
	case MountTrunc:
		if err := os.Truncate(full, 0); err != nil {
			return MountFailure
		}
		return MountSuccess
	case MountOpendir:
		info, err := os.Stat(full)
		if err != nil {
			return MountFailure
		}
		if !info.IsDir() {
			return MountFiletype
		}
		return mountOpen(ext, req.Path, full)
	case MountReaddir:
		if _, err := os.ReadDir(full); err != nil {
			return MountFailure
		}
		return MountSuccess
	case MountClosedir:
		return mountClose(ext, req.Path)
	case MountLookup:
		if _, err := os.Lstat(full); err != nil {
			return MountFailure
		}
		return MountSuccess
	default:
		return MountFailure
	}
}

func mountOpen(ext *FileMountExt, relPath, full string) MountResult {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	if ref, ok := ext.handles[relPath]; ok {
		ref.count++
		return MountSuccess
	}
	f, err := os.OpenFile(full, os.O_RDWR, 0)
	if err != nil {
		// Directories and read-only files are held read-only.
		f, err = os.Open(full)
	}
	if err != nil {
		return MountFailure
	}
	ext.handles[relPath] = &handleRef{count: 1, file: f}
	return MountSuccess
}

func mountClose(ext *FileMountExt, relPath string) MountResult {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	ref, ok := ext.handles[relPath]
	if !ok {
		return MountFailure
	}
	ref.count--
	if ref.count <= 0 {
		ref.file.Close()
		delete(ext.handles, relPath)
	}
	return MountSuccess
}

func mountReadWrite(ext *FileMountExt, relPath string) MountResult {
	ext.mu.Lock()
	_, ok := ext.handles[relPath]
	ext.mu.Unlock()
	if !ok {
		return MountFailure
	}
	return MountSuccess
}

func mountWrite(ext *FileMountExt, relPath, full string, data []byte, append_ bool) MountResult {
	ext.mu.Lock()
	ref, ok := ext.handles[relPath]
	ext.mu.Unlock()
	if !ok {
		return MountFailure
	}
	var at int64
	if !append_ {
		at = 0
	} else {
		info, err := ref.file.Stat()
		if err != nil {
			return MountFailure
		}
		at = info.Size()
	}
	if _, err := ref.file.WriteAt(data, at); err != nil {
		return MountFailure
	}
	_ = full
	return MountSuccess
}
