package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-runs a callback whenever any of a fixed set of files changes.
// Events are debounced so an editor's write-rename burst triggers one run.
type Watcher struct {
	files    map[string]struct{}
	debounce time.Duration
	logger   *zap.Logger
	onChange func()
}

// WatcherConfig wires a Watcher.
type WatcherConfig struct {
	// Files are the absolute paths to watch.
	Files []string
	// Debounce defaults to 250ms.
	Debounce time.Duration
	Logger   *zap.Logger
	OnChange func()
}

// NewWatcher validates the configuration.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("watcher requires at least one file")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watcher requires a change callback")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	files := make(map[string]struct{}, len(cfg.Files))
	for _, file := range cfg.Files {
		files[filepath.Clean(file)] = struct{}{}
	}
	return &Watcher{
		files:    files,
		debounce: debounce,
		logger:   logger,
		onChange: cfg.OnChange,
	}, nil
}

// Run blocks until the context is cancelled. The parent directories are
// watched rather than the files themselves, so atomic save-and-rename
// editors keep triggering after the original inode is gone.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer notifier.Close()

	dirs := make(map[string]struct{})
	for file := range w.files {
		dirs[filepath.Dir(file)] = struct{}{}
	}
	for dir := range dirs {
		if err := notifier.Add(dir); err != nil {
			return fmt.Errorf("watch directory %s: %w", dir, err)
		}
	}

	var pending *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if _, watched := w.files[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("input changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-fire:
			w.onChange()
		}
	}
}
