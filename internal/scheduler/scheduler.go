// Package scheduler defines the contracts between the project core and the
// indexer front-end: jobs, the scheduler that runs them, and a local
// bounded worker pool implementation.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Job is one pending or running index request for a source.
type Job struct {
	Source     types.Source
	SourceFile string

	// Visited is the set of file ids this job has claimed via visitFile.
	// Guarded by the owning project's visited-files lock.
	Visited types.FileIDSet

	flags atomic.Uint32
}

// NewJob builds a job for the given source.
func NewJob(source types.Source, sourceFile string, flags types.JobFlags) *Job {
	j := &Job{
		Source:     source,
		SourceFile: sourceFile,
		Visited:    make(types.FileIDSet),
	}
	j.flags.Store(uint32(flags))
	return j
}

// Key returns the job's source key.
func (j *Job) Key() uint64 { return j.Source.Key() }

// Flags returns the job's current flag set.
func (j *Job) Flags() types.JobFlags { return types.JobFlags(j.flags.Load()) }

// AddFlags sets the given bits.
func (j *Job) AddFlags(f types.JobFlags) {
	for {
		old := j.flags.Load()
		if j.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// Indexer turns a source into an index delta. Implementations call the
// project's VisitFile before emitting locations in a file and honor ctx
// cancellation.
type Indexer interface {
	Index(ctx context.Context, job *Job) (*types.IndexData, error)
}

// ResultSink receives completed (or crashed) results. Never called for
// aborted jobs.
type ResultSink func(job *Job, data *types.IndexData)

// Scheduler runs and aborts jobs. Abort is idempotent and never calls the
// sink for the aborted job.
type Scheduler interface {
	Add(job *Job)
	Abort(job *Job)
}

// Pool is a local Scheduler running jobs on a bounded worker pool.
type Pool struct {
	indexer Indexer
	sink    ResultSink
	sem     *semaphore.Weighted

	mu      sync.Mutex
	cancels map[*Job]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewPool builds a pool running at most workers jobs concurrently.
func NewPool(indexer Indexer, sink ResultSink, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		indexer: indexer,
		sink:    sink,
		sem:     semaphore.NewWeighted(int64(workers)),
		cancels: make(map[*Job]context.CancelFunc),
	}
}

// Add implements Scheduler.
func (p *Pool) Add(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancels[job] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, job)
}

// Abort implements Scheduler. Idempotent; the job's result is never
// delivered.
func (p *Pool) Abort(job *Job) {
	p.mu.Lock()
	cancel, ok := p.cancels[job]
	delete(p.cancels, job)
	p.mu.Unlock()
	if ok {
		job.AddFlags(types.JobAborted)
		cancel()
	}
}

// Close aborts everything in flight and waits for workers to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	cancels := p.cancels
	p.cancels = make(map[*Job]context.CancelFunc)
	p.mu.Unlock()
	for job, cancel := range cancels {
		job.AddFlags(types.JobAborted)
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, job *Job) {
	defer p.wg.Done()
	defer p.release(job)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return // aborted while queued
	}
	defer p.sem.Release(1)

	data, err := p.indexer.Index(ctx, job)
	if job.Flags().Has(types.JobAborted) || ctx.Err() != nil {
		return
	}
	if err != nil {
		// The front-end died; synthesize a crash result so the core can
		// release the job's files.
		job.AddFlags(types.JobCrashed)
		p.sink(job, &types.IndexData{
			Key:     job.Key(),
			Flags:   job.Flags(),
			Message: err.Error(),
		})
		return
	}
	job.AddFlags(types.JobComplete)
	data.Key = job.Key()
	data.Flags |= types.JobComplete
	p.sink(job, data)
}

func (p *Pool) release(job *Job) {
	p.mu.Lock()
	if cancel, ok := p.cancels[job]; ok {
		delete(p.cancels, job)
		defer cancel()
	}
	p.mu.Unlock()
}
