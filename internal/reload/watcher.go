// Package reload watches the configuration file and reports content changes.
package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/contactlink/internal/checksum"
)

const debounce = 200 * time.Millisecond

// Watch watches the file at path until ctx is cancelled and calls onChange
// after its content changes. Bursts of events are debounced; rewrites that
// leave the content unchanged are ignored.
//
// The parent directory is watched rather than the file so that editors
// replacing the file by rename are picked up.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	last := fileSum(path)
	logger.Info("reload: watching", slog.String("path", path))

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("reload: stopped")
			return nil

		case <-timerCh:
			sum := fileSum(path)
			if sum == "" || sum == last {
				continue
			}
			last = sum
			logger.Debug("reload: change detected", slog.String("path", path))
			onChange()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("reload: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// fileSum returns the content checksum of path, or "" when it cannot be read.
func fileSum(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return checksum.Sum(data)
}
