package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/shelltether/shelltether/internal/logger"
)

// WatchAgentConfig watches path for external edits (an operator rotating
// the share token by hand, say) and invokes onChange with the freshly
// reloaded config whenever the file is written. The returned
// fsnotify.Watcher must be closed by the caller to stop watching.
func WatchAgentConfig(path string, onChange func(*AgentConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadAgentConfig(path)
				if err != nil {
					logger.Warn("config: reload after external edit failed", "path", path, "err", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watch error", "path", path, "err", err)
			}
		}
	}()

	return watcher, nil
}
