// Package project implements the indexing core: the state machine that
// admits indexer jobs, folds their results into the persistent symbol
// tables, keeps the graph consistent as files change, and serves symbol
// queries.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/dirty"
	"github.com/dshills/codegraph-mcp/internal/registry"
	"github.com/dshills/codegraph-mcp/internal/scheduler"
	"github.com/dshills/codegraph-mcp/internal/tables"
	"github.com/dshills/codegraph-mcp/internal/watcher"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// State is the project lifecycle state.
type State int

const (
	// Unloaded means tables are closed and no work is admitted.
	Unloaded State = iota
	// Loaded means tables are open and jobs run.
	Loaded
	// Syncing means a sync is folding deltas into the tables; arriving
	// work is buffered until it finishes.
	Syncing
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Syncing:
		return "syncing"
	}
	return "unknown"
}

// ErrNotLoaded is returned when an operation needs open tables.
var ErrNotLoaded = errors.New("project not loaded")

// visitedFilesKey is the General-table key holding the serialized visited
// map.
const visitedFilesKey = "visitedFiles"

const unloadRetryDelay = time.Second

type pendingResult struct {
	job  *scheduler.Job
	data *types.IndexData
}

// Project is one indexed codebase rooted at a path.
type Project struct {
	path   string
	dbPath string
	cfg    config.Config
	log    *slog.Logger
	reg    *registry.Registry
	sched  scheduler.Scheduler

	// mu serializes the orchestrator: every mutation of the state machine
	// and the in-memory job bookkeeping happens under it.
	mu     sync.Mutex
	state  State
	tables *tables.Set
	lock   *flock.Flock

	activeJobs       map[uint64]*scheduler.Job
	pendingIndexData map[uint64]pendingResult
	pendingJobs      []*scheduler.Job
	indexData        map[uint64]*types.IndexData

	dirtyFiles        types.FileIDSet
	pendingDirtyFiles types.FileIDSet
	suspendedFiles    types.FileIDSet

	jobCounter int
	batchStart time.Time

	syncTimer  *time.Timer
	dirtyTimer *time.Timer

	// visitedMu guards visitedFiles and every job's Visited set. Indexer
	// workers take it through VisitFile, which also briefly takes mu to
	// look up the job (never both at once).
	visitedMu    sync.Mutex
	visitedFiles map[types.FileID]string

	fixItsMu sync.Mutex
	fixIts   map[types.FileID][]types.FixIt

	watchMu      sync.Mutex
	watcher      *watcher.Watcher
	watchedPaths map[string]struct{}
	watcherDone  chan struct{}
}

// Options configures a Project.
type Options struct {
	// Path is the project root.
	Path string
	// Config supplies tunables; zero values get defaults.
	Config config.Config
	// Registry resolves file ids. Required.
	Registry *registry.Registry
	// Scheduler runs jobs. May be attached later via SetScheduler.
	Scheduler scheduler.Scheduler
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a project in the Unloaded state.
func New(opts Options) (*Project, error) {
	if opts.Path == "" {
		return nil, errors.New("project path is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	cfg := opts.Config.WithDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Project{
		path:              opts.Path,
		dbPath:            filepath.Join(cfg.DataDir, encodePath(opts.Path)),
		cfg:               cfg,
		log:               log.With(slog.String("project", opts.Path)),
		reg:               opts.Registry,
		sched:             opts.Scheduler,
		activeJobs:        make(map[uint64]*scheduler.Job),
		pendingIndexData:  make(map[uint64]pendingResult),
		indexData:         make(map[uint64]*types.IndexData),
		dirtyFiles:        make(types.FileIDSet),
		pendingDirtyFiles: make(types.FileIDSet),
		suspendedFiles:    make(types.FileIDSet),
		visitedFiles:      make(map[types.FileID]string),
		fixIts:            make(map[types.FileID][]types.FixIt),
		watchedPaths:      make(map[string]struct{}),
	}
	return p, nil
}

// encodePath flattens a project root into a directory name.
func encodePath(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, path[i])
		}
	}
	return string(out)
}

// SetScheduler attaches the scheduler; required before Index.
func (p *Project) SetScheduler(s scheduler.Scheduler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sched = s
}

// Path returns the project root.
func (p *Project) Path() string { return p.path }

// DBPath returns the directory holding the project's tables.
func (p *Project) DBPath() string { return p.dbPath }

// State returns the current lifecycle state.
func (p *Project) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsIndexing reports whether any job is active.
func (p *Project) IsIndexing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.activeJobs) > 0
}

// Load opens the tables, replays persisted state, performs the initial
// dirty sweep, and transitions to Loaded. Loading a loaded project is a
// no-op. Failure to open any table leaves the project Unloaded.
func (p *Project) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Loaded, Syncing:
		return nil
	case Unloaded:
	}

	if err := os.MkdirAll(p.dbPath, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	lock := flock.New(filepath.Join(p.dbPath, "lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock project directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("project %s is in use by another process", p.path)
	}

	set, err := tables.OpenSet(p.dbPath)
	if err != nil {
		_ = lock.Unlock()
		return err
	}
	p.tables = set
	p.lock = lock
	p.state = Loaded

	p.loadVisitedFiles()
	p.startWatcher()

	// Watch every dependency root so header edits reach the dirty engine.
	if err := p.forEachDependency(func(header types.FileID, _ types.FileIDSet) error {
		if path, err := p.reg.Path(header); err == nil {
			p.watch(path)
		}
		return nil
	}); err != nil {
		p.log.Warn("failed to rewatch dependency roots", slog.Any("error", err))
	}

	p.initialDirtySweep()
	return nil
}

func (p *Project) loadVisitedFiles() {
	data, err := p.tables.General.Value([]byte(visitedFilesKey))
	if errors.Is(err, tables.ErrNotFound) {
		return
	}
	if err != nil {
		p.log.Warn("failed to read visited files", slog.Any("error", err))
		return
	}
	visited, err := decodeVisitedFiles(data)
	if err != nil {
		p.log.Warn("failed to decode visited files", slog.Any("error", err))
		return
	}
	p.visitedMu.Lock()
	p.visitedFiles = visited
	p.visitedMu.Unlock()
}

// initialDirtySweep dirties files that vanished from disk or were modified
// after their recorded parse, erasing rows for the vanished ones.
// Called with mu held.
func (p *Project) initialDirtySweep() {
	var detector interface {
		dirty.Detector
		InsertDirtyFile(types.FileID)
	}
	if p.cfg.Suspended {
		detector = dirty.NewSuspended(p.reg.LastModified)
	} else {
		d, err := dirty.NewIfModified(p.depReader(), p.reg.LastModified, nil)
		if err != nil {
			p.log.Warn("failed to build dirty detector", slog.Any("error", err))
			return
		}
		detector = d
	}

	// Dependency rows whose header is gone: dirty the header and every
	// dependent, then erase the row. Sources are parsed before the file
	// was removed, so dependents are forced dirty.
	if scope, err := p.tables.Dependencies.WriteScope(); err == nil {
		it, err := scope.Iterator()
		if err == nil {
			for it.Valid() {
				header, err := types.DecodeFileID(it.Key())
				if err != nil {
					it.Next()
					continue
				}
				path, perr := p.reg.Path(header)
				if perr != nil || fileExists(path) {
					it.Next()
					continue
				}
				p.log.Error("file seems to have disappeared", slog.String("path", path))
				detector.InsertDirtyFile(header)
				if dependents, derr := decodeFileIDSet(it.Value()); derr == nil {
					for dependent := range dependents {
						detector.InsertDirtyFile(dependent)
					}
				}
				if err := it.Erase(); err != nil {
					p.log.Warn("failed to erase dependency row", slog.Any("error", err))
					it.Next()
				}
			}
		}
		if err := scope.Flush(); err != nil {
			p.log.Warn("failed to flush dependency sweep", slog.Any("error", err))
		}
	}

	// Source rows whose file is gone are erased the same way.
	if scope, err := p.tables.Sources.WriteScope(); err == nil {
		it, err := scope.Iterator()
		if err == nil {
			for it.Valid() {
				source, derr := decodeSource(it.Value())
				if derr != nil {
					it.Next()
					continue
				}
				path, perr := p.reg.Path(source.FileID)
				if perr != nil || fileExists(path) {
					it.Next()
					continue
				}
				p.log.Error("source seems to have disappeared", slog.String("path", path))
				detector.InsertDirtyFile(source.FileID)
				if err := it.Erase(); err != nil {
					p.log.Warn("failed to erase source row", slog.Any("error", err))
					it.Next()
				}
			}
		}
		if err := scope.Flush(); err != nil {
			p.log.Warn("failed to flush source sweep", slog.Any("error", err))
		}
	}

	p.startDirtyJobsLocked(detector)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Unload aborts all jobs, performs a final sync, closes the tables, and
// clears state. During Syncing the unload is retried after a delay.
func (p *Project) Unload() {
	p.mu.Lock()

	switch p.state {
	case Unloaded:
		p.mu.Unlock()
		return
	case Syncing:
		p.mu.Unlock()
		time.AfterFunc(unloadRetryDelay, p.Unload)
		return
	case Loaded:
	}

	for _, job := range p.activeJobs {
		p.releaseJobFiles(job)
		if p.sched != nil {
			p.sched.Abort(job)
		}
	}
	p.activeJobs = make(map[uint64]*scheduler.Job)

	if msg := p.runSync(p.takeSyncBatch()); msg != "" {
		p.log.Info(msg)
	}

	p.stopTimersLocked()
	if err := p.tables.Close(); err != nil {
		p.log.Warn("failed to close tables", slog.Any("error", err))
	}
	p.tables = nil
	if p.lock != nil {
		_ = p.lock.Unlock()
		p.lock = nil
	}

	p.pendingJobs = nil
	p.pendingIndexData = make(map[uint64]pendingResult)
	p.indexData = make(map[uint64]*types.IndexData)
	p.dirtyFiles = make(types.FileIDSet)
	p.pendingDirtyFiles = make(types.FileIDSet)
	p.jobCounter = 0

	p.visitedMu.Lock()
	p.visitedFiles = make(map[types.FileID]string)
	p.visitedMu.Unlock()

	p.state = Unloaded
	p.mu.Unlock()

	p.stopWatcher()
}

func (p *Project) stopTimersLocked() {
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}
	if p.dirtyTimer != nil {
		p.dirtyTimer.Stop()
	}
}

// VisitFile claims fileID for the job owning jobKey. It returns true when
// the claim succeeds; false means another job owns the file for this round.
// Safe to call from indexer workers.
func (p *Project) VisitFile(fileID types.FileID, path string, jobKey uint64) bool {
	if fileID.IsNull() {
		return false
	}
	var job *scheduler.Job
	if jobKey != 0 {
		p.mu.Lock()
		job = p.activeJobs[jobKey]
		p.mu.Unlock()
	}

	p.visitedMu.Lock()
	defer p.visitedMu.Unlock()
	if existing := p.visitedFiles[fileID]; existing != "" {
		return false
	}
	p.visitedFiles[fileID] = path
	if job != nil {
		job.Visited.Insert(fileID)
	}
	return true
}

// ReleaseFileIDs returns ownership of the given files. Safe to call from
// indexer workers.
func (p *Project) ReleaseFileIDs(fileIDs types.FileIDSet) {
	if len(fileIDs) == 0 {
		return
	}
	p.visitedMu.Lock()
	defer p.visitedMu.Unlock()
	for id := range fileIDs {
		delete(p.visitedFiles, id)
	}
}

// releaseJobFiles releases everything the job claimed.
func (p *Project) releaseJobFiles(job *scheduler.Job) {
	p.visitedMu.Lock()
	defer p.visitedMu.Unlock()
	for id := range job.Visited {
		delete(p.visitedFiles, id)
	}
	job.Visited = make(types.FileIDSet)
}

// VisitedFiles returns a snapshot of the current ownership map.
func (p *Project) VisitedFiles() map[types.FileID]string {
	p.visitedMu.Lock()
	defer p.visitedMu.Unlock()
	out := make(map[types.FileID]string, len(p.visitedFiles))
	for id, path := range p.visitedFiles {
		out[id] = path
	}
	return out
}

// IsIndexed reports whether the file is covered by the index, either as a
// visited file or as a source.
func (p *Project) IsIndexed(fileID types.FileID) bool {
	p.visitedMu.Lock()
	_, visited := p.visitedFiles[fileID]
	p.visitedMu.Unlock()
	if visited {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tables == nil {
		return false
	}
	it, err := p.tables.Sources.LowerBound(types.EncodeSourceKey(types.SourceKey(fileID, 0)))
	if err != nil {
		return false
	}
	defer func() { _ = it.Close() }()
	if !it.Valid() {
		return false
	}
	f, _, err := types.DecodeSourceKeyBytes(it.Key())
	return err == nil && f == fileID
}

// SuspendedFiles returns the files excluded from re-indexing.
func (p *Project) SuspendedFiles() types.FileIDSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspendedFiles.Clone()
}

// ToggleSuspendFile flips a file's suspension and reports whether it is now
// suspended.
func (p *Project) ToggleSuspendFile(fileID types.FileID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.suspendedFiles.Insert(fileID) {
		p.suspendedFiles.Remove(fileID)
		return false
	}
	return true
}

// IsSuspended reports whether the file is excluded from re-indexing.
func (p *Project) IsSuspended(fileID types.FileID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspendedFiles.Contains(fileID)
}

// ClearSuspendedFiles unsuspends everything.
func (p *Project) ClearSuspendedFiles() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspendedFiles = make(types.FileIDSet)
}

// FixIts returns the formatted fix-its recorded for a file, newest-position
// first.
func (p *Project) FixIts(fileID types.FileID) string {
	p.fixItsMu.Lock()
	defer p.fixItsMu.Unlock()
	fixIts := p.fixIts[fileID]
	out := ""
	for i := len(fixIts) - 1; i >= 0; i-- {
		f := fixIts[i]
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("%d:%d %d %s", f.Line, f.Column, f.Length, f.Text)
	}
	return out
}

// depReader adapts the Dependencies table to the dirty package.
func (p *Project) depReader() dirty.DependencyReader {
	return &tableDeps{p: p}
}

type tableDeps struct {
	p *Project
}

func (d *tableDeps) Dependents(id types.FileID) types.FileIDSet {
	data, err := d.p.tables.Dependencies.Value(types.EncodeFileID(id))
	if err != nil {
		return nil
	}
	set, err := decodeFileIDSet(data)
	if err != nil {
		return nil
	}
	return set
}

func (d *tableDeps) ForEach(fn func(types.FileID, types.FileIDSet) error) error {
	return d.p.forEachDependency(fn)
}

func (p *Project) forEachDependency(fn func(types.FileID, types.FileIDSet) error) error {
	it, err := p.tables.Dependencies.Iterator()
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for ; it.Valid(); it.Next() {
		header, err := types.DecodeFileID(it.Key())
		if err != nil {
			continue
		}
		dependents, err := decodeFileIDSet(it.Value())
		if err != nil {
			continue
		}
		if err := fn(header, dependents); err != nil {
			return err
		}
	}
	return nil
}
