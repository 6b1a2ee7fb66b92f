package catalog

import (
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Provider yields the catalog version active at call time. Evaluations grab
// the pointer once and keep it for their whole pass.
type Provider interface {
	Current() *Catalog
}

// Static is a fixed-catalog Provider, used in tests and one-shot CLI runs.
type Static struct {
	Catalog *Catalog
}

// Current returns the fixed catalog.
func (s Static) Current() *Catalog { return s.Catalog }

// Watcher hot-reloads the catalog directory. A failed reload keeps the last
// good catalog in place.
type Watcher struct {
	dir     string
	current atomic.Pointer[Catalog]
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// Watch loads the catalog and starts watching dir for changes.
func Watch(dir string) (*Watcher, error) {
	cat, err := Load(dir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{dir: dir, fsw: fsw, done: make(chan struct{})}
	w.current.Store(cat)
	go w.loop()
	return w, nil
}

// Current returns the active catalog.
func (w *Watcher) Current() *Catalog {
	return w.current.Load()
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			cat, err := Load(w.dir)
			if err != nil {
				log.Printf("catalog reload failed, keeping version %s: %v", w.Current().Version, err)
				continue
			}
			w.current.Store(cat)
			log.Printf("catalog reloaded: version %s (%d requirement rules, %d consistency rules)",
				cat.Version, len(cat.Requirements), len(cat.Consistency))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("catalog watcher: %v", err)
		}
	}
}
