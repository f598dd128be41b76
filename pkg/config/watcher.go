package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/logger"
)

// Watcher re-reads state files when they change on disk, so a
// long-lived session picks up externally-edited trust approvals and
// settings without a restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchStateRoot watches settings.json and trusted-hooks.json under
// stateRoot and invokes onChange with the changed file's base name.
// The watch stops when ctx is cancelled or Close is called.
func WatchStateRoot(ctx context.Context, stateRoot string, onChange func(file string)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}

	if err := fsWatcher.Add(stateRoot); err != nil {
		fsWatcher.Close()
		return nil, errors.Wrap(err, "failed to watch state root")
	}

	w := &Watcher{watcher: fsWatcher, done: make(chan struct{})}

	watched := map[string]bool{
		settingsFileName: true,
		trustedFileName:  true,
	}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !watched[name] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				logger.G(ctx).WithField("file", name).Debug("state file changed, reloading")
				onChange(name)
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.G(ctx).WithError(err).Warn("state file watcher error")
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
