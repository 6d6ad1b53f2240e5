// Package filetracker implements the per-terminal directory watcher:
// it translates inotify (via fsnotify) into
// debounced protocol-level file-change events, one Tracker per terminal's
// watched root.
package filetracker

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a debounced Event for the protocol layer.
type ChangeKind int

const (
	Created ChangeKind = iota
	Modified
	Removed
	Renamed
)

// Event is a debounced filesystem change ready to be folded into a
// FileMisc/FileMount protocol notification.
type Event struct {
	RelPath string
	AbsPath string
	Kind    ChangeKind
	Time    time.Time
}

// debounceInterval is the quiet period
// before a CREATE/WRITE burst is folded into one event.
const debounceInterval = 2 * time.Second

// Tracker wraps fsnotify with debouncing, hidden/symlink filtering, and
// self-caused-event suppression for files a task is actively writing.
type Tracker struct {
	root string
	fsw  *fsnotify.Watcher

	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	suppressMu sync.RWMutex
	suppressed map[string]bool
}

// New creates a Tracker rooted at root. Call Start to begin watching.
func New(root string) (*Tracker, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Tracker{
		root:           root,
		fsw:            fsw,
		events:         make(chan Event, 100),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
		suppressed:     make(map[string]bool),
	}, nil
}

// Events returns the channel of debounced events.
func (t *Tracker) Events() <-chan Event { return t.events }

// Start recursively watches root, skipping hidden directories.
func (t *Tracker) Start() error {
	if err := t.fsw.Add(t.root); err != nil {
		return err
	}
	err := filepath.Walk(t.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && path != t.root {
			if filepath.Base(path)[0] == '.' {
				return filepath.SkipDir
			}
			if watchErr := t.fsw.Add(path); watchErr != nil {
				log.Printf("filetracker: failed to watch %s: %v", path, watchErr)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("filetracker: walk error during init: %v", err)
	}
	go t.loop()
	return nil
}

// Stop shuts the tracker down and closes the Events channel.
func (t *Tracker) Stop() {
	select {
	case <-t.stop:
		return
	default:
	}
	close(t.stop)
	t.fsw.Close()
	<-t.stopped
}

// Suppress marks relPath as self-caused (e.g. a FileUpload task currently
// writing it) so its own fsnotify events are swallowed.
func (t *Tracker) Suppress(relPath string) {
	t.suppressMu.Lock()
	defer t.suppressMu.Unlock()
	t.suppressed[relPath] = true
}

// Unsuppress removes the self-caused flag for relPath.
func (t *Tracker) Unsuppress(relPath string) {
	t.suppressMu.Lock()
	defer t.suppressMu.Unlock()
	delete(t.suppressed, relPath)
}

func (t *Tracker) isSuppressed(relPath string) bool {
	t.suppressMu.RLock()
	defer t.suppressMu.RUnlock()
	return t.suppressed[relPath]
}

func (t *Tracker) loop() {
	defer close(t.stopped)
	defer close(t.events)

	for {
		select {
		case <-t.stop:
			t.debounceMu.Lock()
			for _, timer := range t.debounceTimers {
				timer.Stop()
			}
			t.debounceTimers = nil
			t.debounceMu.Unlock()
			return

		case ev, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			t.handle(ev)

		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("filetracker: error: %v", err)
		}
	}
}

func (t *Tracker) handle(ev fsnotify.Event) {
	absPath := ev.Name
	relPath, err := filepath.Rel(t.root, absPath)
	if err != nil {
		return
	}

	base := filepath.Base(absPath)
	if len(base) > 0 && base[0] == '.' {
		return
	}

	info, statErr := os.Lstat(absPath)
	if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		return
	}

	if ev.Has(fsnotify.Create) && statErr == nil && info != nil && info.IsDir() {
		if watchErr := t.fsw.Add(absPath); watchErr != nil {
			log.Printf("filetracker: failed to watch new dir %s: %v", absPath, watchErr)
		}
		return
	}

	if t.isSuppressed(relPath) {
		return
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		t.cancelDebounce(relPath)
		kind := Removed
		if ev.Has(fsnotify.Rename) {
			kind = Renamed
		}
		t.emit(Event{RelPath: relPath, AbsPath: absPath, Kind: kind, Time: time.Now()})
		return
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	kind := Modified
	if ev.Has(fsnotify.Create) {
		kind = Created
	}

	t.debounceMu.Lock()
	if timer, ok := t.debounceTimers[relPath]; ok {
		timer.Stop()
	}
	t.debounceTimers[relPath] = time.AfterFunc(debounceInterval, func() {
		t.debounceMu.Lock()
		delete(t.debounceTimers, relPath)
		t.debounceMu.Unlock()
		t.emit(Event{RelPath: relPath, AbsPath: absPath, Kind: kind, Time: time.Now()})
	})
	t.debounceMu.Unlock()
}

func (t *Tracker) cancelDebounce(relPath string) {
	t.debounceMu.Lock()
	defer t.debounceMu.Unlock()
	if timer, ok := t.debounceTimers[relPath]; ok {
		timer.Stop()
		delete(t.debounceTimers, relPath)
	}
}

func (t *Tracker) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.stop:
	default:
		log.Printf("filetracker: event channel full, dropping event for %s", ev.RelPath)
	}
}
