package project

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dshills/codegraph-mcp/internal/watcher"
)

// systemRoots are directory prefixes that are only watched when explicitly
// enabled; system headers rarely change and inotify watches are finite.
var systemRoots = []string{"/usr/", "/opt/", "/System/", "/Library/"}

func isSystemPath(dir string) bool {
	for _, root := range systemRoots {
		if strings.HasPrefix(dir, root) {
			return true
		}
	}
	return false
}

// startWatcher brings up the filesystem watcher and its event pump.
// Called with mu held.
func (p *Project) startWatcher() {
	w, err := watcher.New(p.log)
	if err != nil {
		p.log.Warn("filesystem watching disabled", slog.Any("error", err))
		return
	}
	done := make(chan struct{})

	p.watchMu.Lock()
	p.watcher = w
	p.watcherDone = done
	p.watchMu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				switch ev.Op {
				case watcher.OpModify, watcher.OpRemove:
					p.OnFileModifiedOrRemoved(ev.Path)
				case watcher.OpCreate:
					// New entries in watched directories surface through
					// the next compile or reindex; nothing to do here.
					p.log.Debug("file created in watched directory",
						slog.String("path", ev.Path))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				p.log.Warn("watcher error", slog.Any("error", err))
			}
		}
	}()
}

func (p *Project) stopWatcher() {
	p.watchMu.Lock()
	w := p.watcher
	done := p.watcherDone
	p.watcher = nil
	p.watcherDone = nil
	p.watchedPaths = make(map[string]struct{})
	p.watchMu.Unlock()

	if w != nil {
		_ = w.Close()
		<-done
	}
}

// watch registers the file's parent directory with the watcher, honoring
// the system-path policy. Safe from any goroutine.
func (p *Project) watch(file string) {
	dir := filepath.Dir(file)
	if dir == "" || dir == "." {
		p.log.Error("got empty parent dir", slog.String("file", file))
		return
	}

	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher == nil {
		return
	}
	if _, ok := p.watchedPaths[dir]; ok {
		return
	}
	if isSystemPath(dir) && !p.cfg.WatchSystemPaths {
		return
	}
	p.watchedPaths[dir] = struct{}{}
	if err := p.watcher.Watch(dir); err != nil {
		p.log.Warn("failed to watch directory", slog.String("dir", dir), slog.Any("error", err))
	}
}

// WatchedPaths returns the currently watched directories.
func (p *Project) WatchedPaths() []string {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	out := make([]string, 0, len(p.watchedPaths))
	for dir := range p.watchedPaths {
		out = append(out, dir)
	}
	return out
}
