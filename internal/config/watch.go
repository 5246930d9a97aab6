package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
)

// Watch reloads the store when the user or overlay layer changes on disk and
// calls onReload with a snapshot of the new tree. Reloads that fail
// validation are logged and ignored. Watch blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onReload func(Tree)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &ConfigurationError{Path: s.paths.Dir, Err: err}
	}
	defer watcher.Close()

	// Editors replace files via rename, so the directory is watched rather
	// than the files themselves.
	if err := watcher.Add(s.paths.Dir); err != nil {
		return &ConfigurationError{Path: s.paths.Dir, Err: err}
	}

	watched := map[string]bool{
		filepath.Base(s.paths.User):    true,
		filepath.Base(s.paths.Overlay): true,
	}
	for _, ext := range layerExtensions {
		watched[UserLayerName+ext] = true
		watched[OverlayLayerName+ext] = true
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Base(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(constants.ConfigWatchDebounce)
			} else {
				timer.Reset(constants.ConfigWatchDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("ignoring configuration change", zap.Error(err))
				continue
			}
			s.logger.Info("configuration reloaded", zap.String("dir", s.paths.Dir))
			if onReload != nil {
				onReload(s.Snapshot())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
