// Package watcher monitors imported local folders and reports changes via callbacks.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/config"
	"github.com/CageChen/markdok/internal/logging"
)

// EventType represents the type of file system event
type EventType int

// File system event types.
const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

func (t EventType) String() string {
	switch t {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	}
	return "unknown"
}

// Event represents a file system change inside one imported folder.
type Event struct {
	Type EventType
	// Path is the absolute local path.
	Path string
	// IsDir is only meaningful for create and write; a removed path can no
	// longer be inspected.
	IsDir  bool
	Folder config.Folder
}

// Callback is a function called when file changes occur
type Callback func(Event)

// Watcher monitors the local (non git_ref) folders of a configuration.
type Watcher struct {
	watcher   *fsnotify.Watcher
	cfg       *config.Config
	log       *zap.Logger
	callbacks []Callback
	mu        sync.RWMutex
	done      chan struct{}
}

// New creates a new file system watcher
func New(cfg *config.Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher: w,
		cfg:     cfg,
		log:     logging.Named("watcher"),
		done:    make(chan struct{}),
	}, nil
}

// OnChange registers a callback for file change events
func (w *Watcher) OnChange(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching all configured local folders.
func (w *Watcher) Start() error {
	// git_ref folders read from the object database, nothing to watch
	for _, folder := range w.cfg.Folders {
		if folder.GitRef != "" {
			continue
		}
		w.addTree(folder.Path)
	}

	go w.eventLoop()
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

// addTree registers root and every non-excluded directory below it.
func (w *Watcher) addTree(root string) {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.cfg.IsExcluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		w.log.Warn("failed to walk folder", zap.String("folder", root), zap.Error(err))
	}
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.cfg.IsExcluded(event.Name) {
		return
	}
	folder, ok := w.folderFor(event.Name)
	if !ok {
		return
	}

	var eventType EventType
	switch {
	case event.Op.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Op.Has(fsnotify.Write):
		eventType = EventWrite
	case event.Op.Has(fsnotify.Remove):
		eventType = EventRemove
	case event.Op.Has(fsnotify.Rename):
		eventType = EventRename
	default:
		return
	}

	dir := false
	if eventType == EventCreate || eventType == EventWrite {
		dir = isDir(event.Name)
		// Only process markdown files
		if !dir && !w.cfg.IsMarkdownFile(event.Name) {
			return
		}
		if dir && eventType == EventCreate {
			w.addTree(event.Name)
		}
	}

	e := Event{
		Type:   eventType,
		Path:   event.Name,
		IsDir:  dir,
		Folder: folder,
	}
	w.log.Debug("file event", zap.Stringer("type", eventType), zap.String("path", event.Name))

	w.mu.RLock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(e)
	}
}

// folderFor returns the most specific local folder containing path.
func (w *Watcher) folderFor(path string) (config.Folder, bool) {
	var (
		best  config.Folder
		found bool
	)
	for _, f := range w.cfg.Folders {
		if f.GitRef != "" || !within(path, f.Path) {
			continue
		}
		if !found || len(f.Path) > len(best.Path) {
			best, found = f, true
		}
	}
	return best, found
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
