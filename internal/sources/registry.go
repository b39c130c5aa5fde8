// Package sources loads the community source descriptors from YAML and keeps
// them current while the file changes.
package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"supporthub/pkg/models"
)

// File is the on-disk layout of the descriptor file.
type File struct {
	Sources []models.SourceDescriptor `yaml:"sources"`
}

// Parse decodes and validates a descriptor file. Unknown keys are errors so a
// typo in a field name does not silently drop a mapping.
func Parse(data []byte) ([]models.SourceDescriptor, error) {
	var f File
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	for i, d := range f.Sources {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	return f.Sources, nil
}

func Load(path string) ([]models.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders descriptors in the file layout; the cli uses it.
func Marshal(descs []models.SourceDescriptor) ([]byte, error) {
	return yaml.Marshal(File{Sources: descs})
}

// Registry holds the current descriptors.
type Registry struct {
	path string

	mu      sync.RWMutex
	sources []models.SourceDescriptor
	loaded  time.Time

	log zerolog.Logger
}

// Open loads path once. Use Watch to follow edits.
func Open(path string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{path: path, log: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Static wraps fixed descriptors; tests and one-shot commands use it.
func Static(descs []models.SourceDescriptor) *Registry {
	return &Registry{sources: descs, loaded: time.Now()}
}

func (r *Registry) Reload() error {
	descs, err := Load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sources = descs
	r.loaded = time.Now()
	r.mu.Unlock()
	return nil
}

// Current returns a copy of the descriptors in declaration order.
func (r *Registry) Current() []models.SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SourceDescriptor, len(r.sources))
	copy(out, r.sources)
	return out
}

// Regions returns the configured regions in first-seen order.
func (r *Registry) Regions() []string {
	regions, _ := models.GroupByRegion(r.Current())
	return regions
}

// Watch reloads the file whenever it changes until ctx is cancelled. A
// file that fails to parse keeps the previous descriptors.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// watch the directory; editors replace files by rename
	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		const settle = 250 * time.Millisecond
		var timer *time.Timer
		var fire <-chan time.Time
		target := filepath.Clean(r.path)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(settle)
				} else {
					timer.Reset(settle)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := r.Reload(); err != nil {
					r.log.Error().Err(err).Str("path", r.path).Msg("sources reload failed, keeping previous")
					continue
				}
				r.log.Info().Str("path", r.path).Int("sources", len(r.Current())).Msg("sources reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("sources watcher error")
			}
		}
	}()
	return nil
}
