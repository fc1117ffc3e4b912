// Package dirty implements the strategies that decide which sources must
// be re-indexed after files change.
package dirty

import (
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Detector reports the set of files whose derived records are stale and
// whether a given source needs re-indexing.
type Detector interface {
	// Dirtied returns every file id marked stale so far. For the stat-based
	// detectors the set grows as IsDirty probes sources.
	Dirtied() types.FileIDSet
	// IsDirty reports whether the source must be re-indexed.
	IsDirty(source types.Source) bool
}

// DependencyReader exposes the persisted include graph: a header maps to
// every translation unit that transitively includes it.
type DependencyReader interface {
	// Dependents returns the TUs including the given file, nil when none.
	Dependents(id types.FileID) types.FileIDSet
	// ForEach visits every (header, dependents) entry.
	ForEach(fn func(header types.FileID, dependents types.FileIDSet) error) error
}

// ModTimeFunc resolves a file's last-modified time in unix milliseconds.
// 0 means the file is gone.
type ModTimeFunc func(types.FileID) int64

// Simple is seeded with an explicit file set; a source is dirty iff its
// file id is in the seed or depends on a seeded file.
type Simple struct {
	dirty types.FileIDSet
}

// NewSimple builds a Simple detector from the seed, expanded through the
// include graph.
func NewSimple(seed types.FileIDSet, deps DependencyReader) *Simple {
	s := &Simple{dirty: make(types.FileIDSet, len(seed))}
	for id := range seed {
		s.dirty.Insert(id)
		s.dirty.Unite(deps.Dependents(id))
	}
	return s
}

// Dirtied implements Detector.
func (s *Simple) Dirtied() types.FileIDSet { return s.dirty }

// IsDirty implements Detector.
func (s *Simple) IsDirty(source types.Source) bool {
	return s.dirty.Contains(source.FileID)
}

// statDirty is the shared state of the stat-based detectors: a memoized
// mtime lookup and the accumulated dirty set.
type statDirty struct {
	modTime      ModTimeFunc
	lastModified map[types.FileID]int64
	dirty        types.FileIDSet
}

func newStatDirty(modTime ModTimeFunc) statDirty {
	return statDirty{
		modTime:      modTime,
		lastModified: make(map[types.FileID]int64),
		dirty:        make(types.FileIDSet),
	}
}

// Dirtied implements Detector.
func (c *statDirty) Dirtied() types.FileIDSet { return c.dirty }

// InsertDirtyFile marks a file stale without consulting timestamps.
func (c *statDirty) InsertDirtyFile(id types.FileID) { c.dirty.Insert(id) }

// LastModified memoizes modTime per file for the detector's lifetime.
func (c *statDirty) LastModified(id types.FileID) int64 {
	if t, ok := c.lastModified[id]; ok {
		return t
	}
	t := c.modTime(id)
	c.lastModified[id] = t
	return t
}

// Suspended reports nothing dirty; used when the whole project is
// suspended.
type Suspended struct {
	statDirty
}

// NewSuspended builds a Suspended detector.
func NewSuspended(modTime ModTimeFunc) *Suspended {
	return &Suspended{statDirty: newStatDirty(modTime)}
}

// IsDirty implements Detector.
func (s *Suspended) IsDirty(types.Source) bool { return false }

// SourceFilter narrows a detector to a subset of sources; nil matches all.
type SourceFilter func(source types.Source) bool

// IfModified compares each source's parse stamp against the mtimes of
// everything it includes.
type IfModified struct {
	statDirty
	reversed map[types.FileID]types.FileIDSet
	filter   SourceFilter
}

// NewIfModified builds an IfModified detector. The dependency table stores
// header -> including TUs; the detector needs the reverse, TU -> headers,
// and builds it up front.
func NewIfModified(deps DependencyReader, modTime ModTimeFunc, filter SourceFilter) (*IfModified, error) {
	d := &IfModified{
		statDirty: newStatDirty(modTime),
		reversed:  make(map[types.FileID]types.FileIDSet),
		filter:    filter,
	}
	err := deps.ForEach(func(header types.FileID, dependents types.FileIDSet) error {
		for dependent := range dependents {
			set, ok := d.reversed[dependent]
			if !ok {
				set = make(types.FileIDSet)
				d.reversed[dependent] = set
			}
			set.Insert(header)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// IsDirty implements Detector. A source is dirty iff any of its includes is
// gone or newer than the source's parse stamp.
func (d *IfModified) IsDirty(source types.Source) bool {
	if d.filter != nil && !d.filter(source) {
		return false
	}
	ret := false
	for dep := range d.reversed[source.FileID] {
		modified := d.LastModified(dep)
		if modified == 0 || modified > source.Parsed {
			ret = true
			d.InsertDirtyFile(dep)
		}
	}
	if ret {
		d.InsertDirtyFile(source.FileID)
	}
	return ret
}

// Watcher is seeded with the files a filesystem watcher reported modified.
type Watcher struct {
	statDirty
	modified map[types.FileID]types.FileIDSet
}

// NewWatcher builds a Watcher detector over the modified set.
func NewWatcher(deps DependencyReader, modTime ModTimeFunc, modified types.FileIDSet) *Watcher {
	w := &Watcher{
		statDirty: newStatDirty(modTime),
		modified:  make(map[types.FileID]types.FileIDSet, len(modified)),
	}
	for id := range modified {
		w.modified[id] = deps.Dependents(id)
	}
	return w
}

// IsDirty implements Detector. A source is dirty iff a modified file
// propagates up to it and that file is gone or newer than the source's
// parse stamp.
func (w *Watcher) IsDirty(source types.Source) bool {
	ret := false
	for modified, dependents := range w.modified {
		if !dependents.Contains(source.FileID) {
			continue
		}
		lastModified := w.LastModified(modified)
		if lastModified == 0 || lastModified > source.Parsed {
			ret = true
			w.InsertDirtyFile(modified)
		}
	}
	if ret {
		w.InsertDirtyFile(source.FileID)
	}
	return ret
}
