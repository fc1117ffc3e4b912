package project

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dshills/codegraph-mcp/internal/dirty"
	"github.com/dshills/codegraph-mcp/internal/scheduler"
	"github.com/dshills/codegraph-mcp/internal/tables"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Index admits a job. During a sync the job is buffered and replayed when
// the sync finishes. Submitting a compile for an unchanged invocation is a
// no-op beyond possibly flipping the active sibling.
func (p *Project) Index(job *scheduler.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexLocked(job)
}

func (p *Project) indexLocked(job *scheduler.Job) error {
	switch p.state {
	case Unloaded:
		return ErrNotLoaded
	case Syncing:
		p.pendingJobs = append(p.pendingJobs, job)
		return nil
	case Loaded:
	}
	if p.sched == nil {
		return errors.New("no scheduler attached")
	}

	key := job.Key()
	if p.cfg.Suspended && job.Flags().Has(types.JobCompile) {
		if ok, _ := p.tables.Sources.Contains(types.EncodeSourceKey(key)); ok {
			return nil
		}
	}

	scope, err := p.tables.Sources.WriteScope()
	if err != nil {
		return err
	}
	defer func() { _ = scope.Discard() }()

	if job.Flags().Has(types.JobCompile) {
		admit, err := p.admitCompile(scope, job)
		if err != nil {
			return err
		}
		if !admit {
			return scope.Flush()
		}
	}

	source := job.Source
	source.Flags |= types.SourceActive
	value, err := encode(source)
	if err != nil {
		return err
	}
	if err := scope.Set(types.EncodeSourceKey(key), value); err != nil {
		return err
	}
	if err := scope.Flush(); err != nil {
		p.log.Error("failed to write source", slog.Any("error", err))
		return err
	}

	if prior, ok := p.activeJobs[key]; ok {
		p.releaseJobFiles(prior)
		p.sched.Abort(prior)
		p.jobCounter--
	}
	p.activeJobs[key] = job

	if _, buffered := p.indexData[key]; buffered {
		delete(p.indexData, key)
		p.jobCounter--
	}

	if p.jobCounter == 0 {
		p.batchStart = time.Now()
	}
	p.jobCounter++

	p.stopSyncTimerLocked()
	p.sched.Add(job)
	return nil
}

// admitCompile applies the source-table policy for compile submissions.
// Returns false when the job should not run (an equal invocation already
// exists); the scope may still carry active-flag rewrites.
func (p *Project) admitCompile(scope *tables.WriteScope, job *scheduler.Job) (bool, error) {
	key := job.Key()

	cur, err := scope.Value(types.EncodeSourceKey(key))
	if err == nil {
		existing, derr := decodeSource(cur)
		if derr != nil {
			return false, derr
		}
		if !existing.IsActive() {
			if err := p.markActive(scope, job.Source.FileID, existing.BuildRootID); err != nil {
				return false, err
			}
		}
		if existing.CompareArguments(job.Source) {
			return false, nil // no updates
		}
		return true, nil
	}

	// No row at this exact key; scan the file's range for an invocation
	// with equal arguments.
	it, err := scope.LowerBound(types.EncodeSourceKey(types.SourceKey(job.Source.FileID, 0)))
	if err != nil {
		return false, err
	}
	unsetActive := false
	for it.Valid() {
		f, b, derr := types.DecodeSourceKeyBytes(it.Key())
		if derr != nil || f != job.Source.FileID {
			break
		}
		existing, derr := decodeSource(it.Value())
		if derr != nil {
			return false, derr
		}
		if existing.CompareArguments(job.Source) {
			if err := p.markActive(scope, job.Source.FileID, b); err != nil {
				return false, err
			}
			return false, nil // no updates
		}
		if p.cfg.DisallowMultipleSources {
			if err := it.Erase(); err != nil {
				return false, err
			}
			continue
		}
		unsetActive = true
		it.Next()
	}
	if unsetActive {
		if err := p.markActive(scope, job.Source.FileID, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}

// markActive rewrites the flags of every source in one file's range so that
// exactly the entry with the chosen build root carries Active, or none when
// buildRootID is 0.
func (p *Project) markActive(scope *tables.WriteScope, fileID types.FileID, buildRootID uint32) error {
	it, err := scope.LowerBound(types.EncodeSourceKey(types.SourceKey(fileID, 0)))
	if err != nil {
		return err
	}
	for it.Valid() {
		f, b, derr := types.DecodeSourceKeyBytes(it.Key())
		if derr != nil || f != fileID {
			break
		}
		source, derr := decodeSource(it.Value())
		if derr != nil {
			return derr
		}
		flags := source.Flags
		if buildRootID != 0 && b == buildRootID {
			flags |= types.SourceActive
		} else {
			flags &^= types.SourceActive
		}
		if flags != source.Flags {
			source.Flags = flags
			value, eerr := encode(source)
			if eerr != nil {
				return eerr
			}
			if err := it.SetValue(value); err != nil {
				return err
			}
		}
		it.Next()
	}
	return nil
}

// OnJobFinished receives a job's result from the scheduler. Stale or
// mismatched completions are logged and dropped; incomplete jobs release
// their files without touching tables.
func (p *Project) OnJobFinished(job *scheduler.Job, data *types.IndexData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onJobFinishedLocked(job, data)
}

func (p *Project) onJobFinishedLocked(job *scheduler.Job, data *types.IndexData) {
	p.stopSyncTimerLocked()
	if p.state == Syncing {
		p.pendingIndexData[data.Key] = pendingResult{job: job, data: data}
		return
	}
	if p.state != Loaded {
		return
	}

	fileID := data.FileID()
	tracked, ok := p.activeJobs[data.Key]
	if !ok {
		p.log.Error("no active job for finished result", slog.Any("fileId", fileID))
		return
	}
	if tracked != job {
		p.log.Error("wrong job instance for finished result", slog.Any("fileId", fileID))
		return
	}
	delete(p.activeJobs, data.Key)

	success := job.Flags().Has(types.JobComplete)
	if !success {
		// Any non-complete termination returns ownership; tables stay
		// untouched and the next dirty cycle may retry.
		p.releaseJobFiles(job)
		p.logProgress(fileID, data, false)
		return
	}

	source, found, err := readSource(p.tables.Sources, data.Key)
	if err != nil || !found {
		p.log.Error("no source for finished result", slog.Any("fileId", fileID))
		return
	}
	if data.ParseTime > source.Parsed {
		source.Parsed = data.ParseTime
		if value, eerr := encode(source); eerr == nil {
			if werr := p.tables.Sources.Set(types.EncodeSourceKey(data.Key), value); werr != nil {
				p.log.Error("failed to stamp source", slog.Any("error", werr))
			}
		}
	}

	p.indexData[data.Key] = data
	p.logProgress(fileID, data, true)

	if p.cfg.SyncThreshold > 0 && len(p.indexData) >= p.cfg.SyncThreshold {
		p.startSyncLocked(SyncAsynchronous)
	} else if len(p.activeJobs) == 0 {
		timeout := p.cfg.SyncTimeout.Std()
		if data.Flags.Has(types.JobDirty) {
			timeout = 0
		}
		p.restartSyncTimerLocked(timeout)
	}
}

func (p *Project) logProgress(fileID types.FileID, data *types.IndexData, success bool) {
	idx := p.jobCounter - len(p.activeJobs)
	percent := 0
	if p.jobCounter > 0 {
		percent = idx * 100 / p.jobCounter
	}
	if success {
		p.log.Info("indexed",
			slog.Int("percent", percent),
			slog.Int("done", idx),
			slog.Int("total", p.jobCounter),
			slog.String("status", data.Message))
	} else {
		path, _ := p.reg.Path(fileID)
		p.log.Warn("indexing failed",
			slog.Int("percent", percent),
			slog.Int("done", idx),
			slog.Int("total", p.jobCounter),
			slog.String("path", path))
	}
}

// startDirtyJobsLocked resolves a detector into re-index jobs. When no
// source matches but files are dirtied anyway (e.g. a removed file), the
// symbol-family rows are purged immediately.
func (p *Project) startDirtyJobsLocked(detector dirty.Detector) int {
	var toIndex []types.Source
	if it, err := p.tables.Sources.Iterator(); err == nil {
		for ; it.Valid(); it.Next() {
			source, derr := decodeSource(it.Value())
			if derr != nil {
				continue
			}
			if source.IsActive() && detector.IsDirty(source) {
				toIndex = append(toIndex, source)
			}
		}
		_ = it.Close()
	}

	dirtied := detector.Dirtied()
	p.ReleaseFileIDs(dirtied)

	for _, source := range toIndex {
		path, err := p.reg.Path(source.FileID)
		if err != nil {
			continue
		}
		if err := p.indexLocked(scheduler.NewJob(source, path, types.JobDirty)); err != nil {
			p.log.Warn("failed to start dirty job", slog.String("path", path), slog.Any("error", err))
		}
	}

	if len(toIndex) == 0 && len(dirtied) > 0 {
		if err := p.purgeDirtyFiles(dirtied); err != nil {
			p.log.Error("failed to purge dirty files", slog.Any("error", err))
		}
	} else {
		p.dirtyFiles.Unite(dirtied)
	}
	return len(toIndex)
}

// OnFileModifiedOrRemoved feeds one watcher observation into the dirty
// engine. Events for suspended files are ignored; the rest are coalesced by
// the dirty timer.
func (p *Project) OnFileModifiedOrRemoved(path string) {
	fileID, err := p.reg.FileID(path)
	if err != nil || fileID.IsNull() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Suspended || p.suspendedFiles.Contains(fileID) {
		p.log.Debug("ignoring modification of suspended file", slog.String("path", path))
		return
	}
	if p.pendingDirtyFiles.Insert(fileID) {
		p.restartDirtyTimerLocked()
	}
}

func (p *Project) onDirtyTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Unloaded || len(p.pendingDirtyFiles) == 0 {
		return
	}
	modified := p.pendingDirtyFiles
	p.pendingDirtyFiles = make(types.FileIDSet)
	detector := dirty.NewWatcher(p.depReader(), p.reg.LastModified, modified)
	p.startDirtyJobsLocked(detector)
}

func (p *Project) restartDirtyTimerLocked() {
	if p.dirtyTimer == nil {
		p.dirtyTimer = time.AfterFunc(p.cfg.DirtyTimeout.Std(), p.onDirtyTimeout)
		return
	}
	p.dirtyTimer.Stop()
	p.dirtyTimer.Reset(p.cfg.DirtyTimeout.Std())
}

func (p *Project) restartSyncTimerLocked(d time.Duration) {
	if p.syncTimer == nil {
		p.syncTimer = time.AfterFunc(d, func() { p.StartSync(SyncAsynchronous) })
		return
	}
	p.syncTimer.Stop()
	p.syncTimer.Reset(d)
}

func (p *Project) stopSyncTimerLocked() {
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}
}
