package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

type fakeIndexer struct {
	fn func(ctx context.Context, job *Job) (*types.IndexData, error)
}

func (f *fakeIndexer) Index(ctx context.Context, job *Job) (*types.IndexData, error) {
	return f.fn(ctx, job)
}

type resultCollector struct {
	mu      sync.Mutex
	results []*types.IndexData
	done    chan struct{}
}

func newResultCollector(expect int) *resultCollector {
	return &resultCollector{done: make(chan struct{}, expect)}
}

func (c *resultCollector) sink(_ *Job, data *types.IndexData) {
	c.mu.Lock()
	c.results = append(c.results, data)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *resultCollector) wait(t *testing.T, n int) []*types.IndexData {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for result %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.IndexData(nil), c.results...)
}

func TestPoolDeliversResult(t *testing.T) {
	indexer := &fakeIndexer{fn: func(_ context.Context, job *Job) (*types.IndexData, error) {
		return &types.IndexData{ParseTime: 42}, nil
	}}
	collector := newResultCollector(1)
	pool := NewPool(indexer, collector.sink, 2)
	defer pool.Close()

	job := NewJob(types.Source{FileID: 1}, "/src/a.cpp", types.JobCompile)
	pool.Add(job)

	results := collector.wait(t, 1)
	require.Len(t, results, 1)
	assert.Equal(t, job.Key(), results[0].Key)
	assert.True(t, results[0].Flags.Has(types.JobComplete))
	assert.True(t, job.Flags().Has(types.JobComplete))
}

func TestPoolCrashSynthesizesResult(t *testing.T) {
	indexer := &fakeIndexer{fn: func(_ context.Context, _ *Job) (*types.IndexData, error) {
		return nil, errors.New("indexer exploded")
	}}
	collector := newResultCollector(1)
	pool := NewPool(indexer, collector.sink, 1)
	defer pool.Close()

	job := NewJob(types.Source{FileID: 1}, "/src/a.cpp", types.JobCompile)
	pool.Add(job)

	results := collector.wait(t, 1)
	require.Len(t, results, 1)
	assert.True(t, results[0].Flags.Has(types.JobCrashed))
	assert.False(t, results[0].Flags.Has(types.JobComplete))
	assert.Contains(t, results[0].Message, "exploded")
}

func TestAbortSuppressesDelivery(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	indexer := &fakeIndexer{fn: func(ctx context.Context, _ *Job) (*types.IndexData, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return &types.IndexData{}, nil
		}
	}}
	collector := newResultCollector(1)
	pool := NewPool(indexer, collector.sink, 1)
	defer pool.Close()

	job := NewJob(types.Source{FileID: 1}, "/src/a.cpp", types.JobCompile)
	pool.Add(job)
	<-started

	pool.Abort(job)
	pool.Abort(job) // idempotent
	assert.True(t, job.Flags().Has(types.JobAborted))

	select {
	case <-collector.done:
		t.Fatal("aborted job must not deliver a result")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAbortWhileQueued(t *testing.T) {
	blocker := make(chan struct{})
	indexer := &fakeIndexer{fn: func(ctx context.Context, _ *Job) (*types.IndexData, error) {
		<-blocker
		return &types.IndexData{}, nil
	}}
	collector := newResultCollector(2)
	pool := NewPool(indexer, collector.sink, 1)
	defer pool.Close()

	first := NewJob(types.Source{FileID: 1}, "/src/a.cpp", 0)
	queued := NewJob(types.Source{FileID: 2}, "/src/b.cpp", 0)
	pool.Add(first)
	pool.Add(queued)

	pool.Abort(queued)
	close(blocker)

	results := collector.wait(t, 1)
	require.Len(t, results, 1)
	assert.Equal(t, first.Key(), results[0].Key)
}

func TestJobFlagsConcurrent(t *testing.T) {
	job := NewJob(types.Source{FileID: 1}, "/src/a.cpp", 0)
	var wg sync.WaitGroup
	for _, f := range []types.JobFlags{types.JobDirty, types.JobCompile, types.JobComplete} {
		wg.Add(1)
		go func(f types.JobFlags) {
			defer wg.Done()
			job.AddFlags(f)
		}(f)
	}
	wg.Wait()
	assert.True(t, job.Flags().Has(types.JobDirty|types.JobCompile|types.JobComplete))
}
