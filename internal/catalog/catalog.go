// Package catalog registers workflow definition files from a directory and
// keeps them registered as the files change.
//
// Each file maps to a stable workflow id derived from its base name, so
// reloading a file replaces the same workflow.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/randalmurphal/toolgraph/internal/service"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
)

// DefaultDebounce is how long changes accumulate before they are reloaded.
const DefaultDebounce = 250 * time.Millisecond

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("toolgraph/catalog"))

// Registrar stores workflows under caller-chosen ids.
type Registrar interface {
	PutWorkflow(ctx context.Context, id string, def *toolgraph.Definition) (service.Workflow, error)
}

// Catalog loads definition files from one directory.
type Catalog struct {
	dir      string
	reg      Registrar
	logger   *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	hashes map[string]string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDebounce sets how long changes accumulate before reloading.
func WithDebounce(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// New creates a catalog for dir.
func New(dir string, reg Registrar, opts ...Option) *Catalog {
	c := &Catalog{
		dir:      dir,
		reg:      reg,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		hashes:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkflowID returns the workflow id used for the file at path.
func WorkflowID(path string) string {
	return uuid.NewSHA1(namespace, []byte(filepath.Base(path))).String()
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(filepath.Base(path), ".")
	}
	return false
}

// LoadAll registers every definition file in the directory. Files that
// fail to load are skipped and reported together in the returned error.
func (c *Catalog) LoadAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read workflows dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isDefinitionFile(e.Name()) {
			paths = append(paths, filepath.Join(c.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var (
		loaded int
		errs   []error
	)
	for _, path := range paths {
		changed, err := c.load(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			loaded++
		}
	}
	return loaded, errors.Join(errs...)
}

// load registers path if its content changed since the last load.
func (c *Catalog) load(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	unchanged := c.hashes[path] == hash
	c.mu.Unlock()
	if unchanged {
		return false, nil
	}

	def, err := toolgraph.ParseDefinitionFile(path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	w, err := c.reg.PutWorkflow(ctx, WorkflowID(path), def)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	c.mu.Lock()
	c.hashes[path] = hash
	c.mu.Unlock()

	c.logger.Info("workflow loaded", "path", path, "workflow_id", w.ID, "name", w.Name)
	return true, nil
}

// Watch reloads changed definition files until ctx is done. Removed files
// are forgotten but their workflows stay registered.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	c.logger.Info("watching workflows", "dir", c.dir, "debounce", c.debounce)

	ticker := time.NewTicker(c.debounce)
	defer ticker.Stop()

	pending := make(map[string]fsnotify.Op)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isDefinitionFile(event.Name) {
				pending[event.Name] |= event.Op
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			for path, op := range pending {
				c.apply(ctx, path, op)
			}
			clear(pending)
		}
	}
}

func (c *Catalog) apply(ctx context.Context, path string, op fsnotify.Op) {
	if _, err := os.Stat(path); err != nil {
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) || errors.Is(err, os.ErrNotExist) {
			c.mu.Lock()
			delete(c.hashes, path)
			c.mu.Unlock()
			c.logger.Info("workflow file removed", "path", path)
		}
		return
	}
	if _, err := c.load(ctx, path); err != nil {
		c.logger.Warn("workflow reload failed", "path", path, "error", err)
	}
}
