package template

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kart-io/commshub/pkg/logger"
)

// HotReloader invalidates cached file templates when their files change.
type HotReloader struct {
	watcher *fsnotify.Watcher
	logger  logger.Logger

	mutex   sync.RWMutex
	sources map[string][]*CachedSource // directory -> sources
	dirs    map[string]bool

	// OnReload is called after a changed file invalidated its cache entries.
	OnReload func(path string)

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHotReloader creates a reloader and starts its event loop.
func NewHotReloader(log logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	hr := &HotReloader{
		watcher: watcher,
		logger:  logger.OrDiscard(log),
		sources: make(map[string][]*CachedSource),
		dirs:    make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
	hr.wg.Add(1)
	go hr.processEvents()
	return hr, nil
}

// Watch registers a cached file source. The source must wrap a *FileSource.
func (hr *HotReloader) Watch(src *CachedSource) error {
	file, ok := src.Source.(*FileSource)
	if !ok {
		return fmt.Errorf("hot reload requires a file source, got %T", src.Source)
	}
	dir := filepath.Dir(file.Path)

	hr.mutex.Lock()
	defer hr.mutex.Unlock()
	if !hr.dirs[dir] {
		if err := hr.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		hr.dirs[dir] = true
	}
	hr.sources[dir] = append(hr.sources[dir], src)
	hr.logger.Debug("Watching template", "path", file.Path)
	return nil
}

// Close stops the event loop and the underlying watcher.
func (hr *HotReloader) Close() error {
	var err error
	hr.once.Do(func() {
		close(hr.stopCh)
		err = hr.watcher.Close()
		hr.wg.Wait()
	})
	return err
}

func (hr *HotReloader) processEvents() {
	defer hr.wg.Done()
	for {
		select {
		case <-hr.stopCh:
			return
		case event, ok := <-hr.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			hr.handle(event.Name)
		case err, ok := <-hr.watcher.Errors:
			if !ok {
				return
			}
			hr.logger.Error("File watcher error", "error", err)
		}
	}
}

func (hr *HotReloader) handle(path string) {
	hr.mutex.RLock()
	candidates := hr.sources[filepath.Dir(path)]
	hr.mutex.RUnlock()

	reloaded := false
	for _, src := range candidates {
		file := src.Source.(*FileSource)
		if !isVariantOf(file.Path, path) {
			continue
		}
		if err := src.Invalidate(context.Background()); err != nil {
			hr.logger.Warn("Failed to invalidate template cache", "path", path, "error", err)
			continue
		}
		reloaded = true
	}
	if reloaded {
		hr.logger.Info("Template reloaded", "path", path)
		if hr.OnReload != nil {
			hr.OnReload(path)
		}
	}
}

// isVariantOf reports whether changed is base itself or one of its culture variants.
func isVariantOf(base, changed string) bool {
	if filepath.Clean(changed) == base {
		return true
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(filepath.Base(base), ext)
	name := filepath.Base(changed)
	return strings.HasPrefix(name, stem+".") && strings.HasSuffix(name, ext) && len(name) > len(stem)+len(ext)+1
}
