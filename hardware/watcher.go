package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"auria.dev/core/auria"
)

// File is the on-disk profile document read by Watcher:
//
//	profiles:
//	  - node: edge-01
//	    compute: 8
//	    memory_bytes: 17179869184
//	    dtypes: [fp16, int8, int4]
//	    gpu: {vendor: nvidia, vram_bytes: 12884901888, compute_capability: [8, 6]}
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

// ParseFile decodes and checks a profile document.
func ParseFile(b []byte) ([]Profile, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty profile document")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	seen := make(map[auria.NodeID]struct{}, len(f.Profiles))
	for _, p := range f.Profiles {
		if err := auria.CheckID("node", string(p.Node)); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Node]; dup {
			return nil, fmt.Errorf("duplicate profile for node %q", p.Node)
		}
		seen[p.Node] = struct{}{}
	}
	return f.Profiles, nil
}

// Watcher serves profiles from a YAML file and reloads them when the file
// changes. Every successful reload publishes a new snapshot whose profiles
// carry the next version number. A malformed file is logged and the
// previous snapshot is kept.
type Watcher struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	version  uint64
	profiles map[auria.NodeID]*Profile
	loaded   []byte

	// OnReload, if set, is called after each successful reload.
	OnReload func(version uint64)
}

var _ Source = (*Watcher)(nil)

// NewWatcher loads path once. The initial load must succeed.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{path: path, logger: logger.Named("hardware")}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watcher) Profile(node auria.NodeID) (*Profile, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.profiles[node]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Version returns the current snapshot version.
func (w *Watcher) Version() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Reload re-reads the file and swaps in a new snapshot on success.
func (w *Watcher) Reload() error {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("hardware: read %s: %w", w.path, err)
	}
	return w.load(b)
}

// reloadIfChanged reloads only when the file differs from the last
// successfully loaded contents.
func (w *Watcher) reloadIfChanged() error {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("hardware: read %s: %w", w.path, err)
	}
	w.mu.RLock()
	same := bytes.Equal(b, w.loaded)
	w.mu.RUnlock()
	if same {
		return nil
	}
	return w.load(b)
}

func (w *Watcher) load(b []byte) error {
	parsed, err := ParseFile(b)
	if err != nil {
		return fmt.Errorf("hardware: parse %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.version++
	next := make(map[auria.NodeID]*Profile, len(parsed))
	for i := range parsed {
		p := parsed[i].clone()
		p.Version = w.version
		next[p.Node] = p
	}
	w.profiles = next
	w.loaded = b
	version := w.version
	w.mu.Unlock()

	w.logger.Info("hardware profiles loaded",
		zap.String("path", w.path),
		zap.Uint64("version", version),
		zap.Int("profiles", len(next)))
	if w.OnReload != nil {
		w.OnReload(version)
	}
	return nil
}

// Run watches the profile file until ctx is done. It watches the parent
// directory so that editors replacing the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.subscribe()
	if err != nil {
		return err
	}
	defer fw.Close()
	return w.loop(ctx, fw)
}

// Start registers the file watch before returning and runs the event loop
// in the background until ctx is done. Writes made between NewWatcher and
// Start are picked up by a catch-up reload. The returned channel is closed
// when the loop exits.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	fw, err := w.subscribe()
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer fw.Close()
		if err := w.loop(ctx, fw); err != nil {
			w.logger.Warn("hardware watcher stopped", zap.Error(err))
		}
	}()
	return done, nil
}

// subscribe registers the parent directory and then reloads once, so no
// change is lost between the initial load and the first event.
func (w *Watcher) subscribe() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, err
	}
	if err := w.reloadIfChanged(); err != nil {
		w.logger.Warn("hardware profile reload failed; keeping previous snapshot",
			zap.Uint64("version", w.Version()),
			zap.Error(err))
	}
	return fw, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) error {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("hardware: watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("hardware profile reload failed; keeping previous snapshot",
					zap.Uint64("version", w.Version()),
					zap.Error(err))
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("hardware: watcher closed")
			}
			w.logger.Warn("hardware watcher error", zap.Error(err))
		}
	}
}
