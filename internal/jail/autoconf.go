package jail

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/jail/internal/logger"
)

// WatchCommandDir watches dir for command descriptor files (as written by
// internal/config) and re-registers the affected command whenever one is
// created or written. load is called with the changed file's path and must
// return the command name it describes (or "" to ignore the event) plus an
// error if the file failed to parse. load runs on every Write and Create
// event, and a Write event may fire mid-write, so a half-written file can be
// loaded; writing descriptor files atomically (write to a temp name, then
// rename) avoids that.
//
// The watch runs until ctx is canceled. Parse errors are logged and do not
// stop the watch — a malformed drop-in must not take down a process that
// already has a working registry.
func WatchCommandDir(ctx context.Context, dir string, load func(path string) (string, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &ConfigError{Op: "watch " + dir, Err: err}
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return &ConfigError{Op: "watch " + dir, Err: err}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name, err := load(ev.Name)
				if err != nil {
					logger.Warn("jail: reload command descriptor failed", "path", ev.Name, "error", err)
					continue
				}
				if name != "" {
					logger.Info("jail: reloaded command descriptor", "command", name, "path", ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("jail: command directory watch error", "error", err)
			}
		}
	}()
	return nil
}
