package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/KaramelBytes/abverdict/internal/utils"
	"github.com/fsnotify/fsnotify"
)

// DocStore loads configuration documents from a directory and caches them
// until a document changes on disk or is saved through the store.
type DocStore struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Documents
	// gen counts invalidations; a read that started before one is not cached.
	gen uint64

	watcher *fsnotify.Watcher
}

// NewDocStore returns a store reading from dir.
func NewDocStore(dir string, logger *slog.Logger) *DocStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocStore{dir: dir, logger: logger}
}

// Dir returns the directory backing the store.
func (s *DocStore) Dir() string { return s.dir }

// Load returns the cached documents, reading them from disk on a cold cache.
func (s *DocStore) Load() (*Documents, error) {
	d, gen := s.snapshot()
	if d != nil {
		return d, nil
	}
	d, err := s.read()
	if err != nil {
		return nil, err
	}
	s.fill(d, gen)
	return d, nil
}

// snapshot returns the cached documents and the current generation.
func (s *DocStore) snapshot() (*Documents, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached, s.gen
}

// fill caches d unless the store was invalidated since gen was taken.
func (s *DocStore) fill(d *Documents, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cached = d
	}
}

func (s *DocStore) read() (*Documents, error) {
	d := &Documents{}
	for _, name := range DocumentNames {
		data, err := os.ReadFile(filepath.Join(s.dir, name.FileName()))
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("config document not found", "document", name.FileName(), "dir", s.dir)
			continue
		}
		if err != nil {
			return nil, &DocumentError{Name: name, Err: err}
		}
		v, err := ParseDocument(name, data)
		if err != nil {
			return nil, err
		}
		d.set(name, v)
	}
	return d, nil
}

// Invalidate drops the cached documents.
func (s *DocStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

// Save validates data as the named document and writes it atomically.
func (s *DocStore) Save(name DocumentName, data []byte) error {
	return s.SaveAll(map[DocumentName][]byte{name: data})
}

// SaveAll validates every document, stages each one next to its target and
// renames them into place only once all writes succeeded. A failed write
// leaves the existing documents untouched.
func (s *DocStore) SaveAll(docs map[DocumentName][]byte) error {
	for name := range docs {
		if !name.Known() {
			return &DocumentError{Name: name, Err: errors.New("unknown document")}
		}
	}
	for _, name := range DocumentNames {
		data, ok := docs[name]
		if !ok {
			continue
		}
		if _, err := ParseDocument(name, data); err != nil {
			return err
		}
	}
	if err := utils.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	staged := make(map[DocumentName]string, len(docs))
	cleanup := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}
	for _, name := range DocumentNames {
		data, ok := docs[name]
		if !ok {
			continue
		}
		target := filepath.Join(s.dir, name.FileName())
		if fi, err := os.Lstat(target); err == nil && fi.IsDir() {
			cleanup()
			return fmt.Errorf("save %s: %s is a directory", name.FileName(), target)
		}
		tmp, err := stage(s.dir, name, data)
		if err != nil {
			cleanup()
			return fmt.Errorf("save %s: %w", name.FileName(), err)
		}
		staged[name] = tmp
	}
	for _, name := range DocumentNames {
		tmp, ok := staged[name]
		if !ok {
			continue
		}
		if err := os.Rename(tmp, filepath.Join(s.dir, name.FileName())); err != nil {
			cleanup()
			s.Invalidate()
			return fmt.Errorf("save %s: %w", name.FileName(), err)
		}
		delete(staged, name)
		s.logger.Info("config document saved", "document", name.FileName())
	}
	s.Invalidate()
	return nil
}

// stage writes data to a temp file in dir. The name does not end in .yaml so
// the watcher ignores it.
func stage(dir string, name DocumentName, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+string(name)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	return f.Name(), nil
}

// Watch invalidates the cache whenever a YAML file in the directory changes.
// It returns once the watch is installed; events are handled until ctx is done
// or Close is called.
func (s *DocStore) Watch(ctx context.Context) error {
	if err := utils.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.mu.Lock()
	s.watcher = fsw
	s.mu.Unlock()

	go s.processEvents(ctx, fsw)
	s.logger.Info("watching config documents", "dir", s.dir)
	return nil
}

func (s *DocStore) processEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.watcher == fsw {
				s.watcher = nil
			}
			s.mu.Unlock()
			if err := fsw.Close(); err != nil {
				s.logger.Warn("close config watcher", "error", err)
			}
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".yaml") {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.logger.Debug("config document changed", "path", ev.Name, "op", ev.Op.String())
				s.Invalidate()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher, if any.
func (s *DocStore) Close() error {
	s.mu.Lock()
	fsw := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if fsw == nil {
		return nil
	}
	return fsw.Close()
}
