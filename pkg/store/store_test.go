package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillsmith/pkg/router"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "skillsmith.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestRuns_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, clock := openTestStore(t)

	require.NoError(t, s.StartRun(ctx, Run{
		RunID:   "run-1",
		Address: "abc",
		Source:  "guide.txt",
		Mode:    "fresh",
		Backend: "anthropic",
	}))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "guide.txt", run.Source)
	assert.Nil(t, run.FinishedAt)
	assert.True(t, run.StartedAt.Equal(clock.Now()))

	clock.Advance(time.Minute)
	require.NoError(t, s.FinishRun(ctx, "run-1", RunResult{
		SkillID:   "guide",
		Total:     3,
		Selected:  3,
		Completed: 2,
		Failed:    1,
	}))

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunPartial, run.Status)
	assert.Equal(t, "guide", run.SkillID)
	assert.Equal(t, 2, run.CompletedChunks)
	assert.Equal(t, 1, run.FailedChunks)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(clock.Now()))
}

func TestRuns_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	err = s.FinishRun(ctx, "missing", RunResult{})
	assert.True(t, errors.Is(err, ErrRunNotFound))

	assert.Error(t, s.StartRun(ctx, Run{}))

	require.NoError(t, s.StartRun(ctx, Run{RunID: "dup", Address: "a", Source: "s", Mode: "fresh"}))
	assert.Error(t, s.StartRun(ctx, Run{RunID: "dup", Address: "a", Source: "s", Mode: "fresh"}))
}

func TestRunResult_Status(t *testing.T) {
	tests := []struct {
		name string
		res  RunResult
		want RunStatus
	}{
		{name: "all done", res: RunResult{Completed: 3}, want: RunCompleted},
		{name: "some failed", res: RunResult{Completed: 2, Failed: 1}, want: RunPartial},
		{name: "aborted", res: RunResult{Err: errors.New("boom")}, want: RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Status())
		})
	}
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s, clock := openTestStore(t)

	for _, r := range []Run{
		{RunID: "r1", Address: "aaa", Source: "a.txt", Mode: "fresh"},
		{RunID: "r2", Address: "bbb", Source: "b.txt", Mode: "fresh"},
		{RunID: "r3", Address: "aaa", Source: "a.txt", Mode: "retry-failed"},
	} {
		require.NoError(t, s.StartRun(ctx, r))
		clock.Advance(time.Second)
	}
	require.NoError(t, s.FinishRun(ctx, "r1", RunResult{Failed: 1}))
	require.NoError(t, s.FinishRun(ctx, "r3", RunResult{Completed: 1}))

	all, err := s.ListRuns(ctx, RunQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].RunID)
	assert.Equal(t, "r1", all[2].RunID)

	byAddr, err := s.ListRuns(ctx, RunQuery{Address: "aaa"})
	require.NoError(t, err)
	require.Len(t, byAddr, 2)
	assert.Equal(t, "retry-failed", byAddr[0].Mode)

	partial, err := s.ListRuns(ctx, RunQuery{Status: RunPartial})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	assert.Equal(t, "r1", partial[0].RunID)

	limited, err := s.ListRuns(ctx, RunQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRouteCache(t *testing.T) {
	ctx := context.Background()
	s, clock := openTestStore(t)
	cache := s.RouteCache(time.Hour)

	_, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	decision := router.Decision{
		Skills:     []string{"vat-guide", "payroll"},
		Confidence: router.ConfidenceHigh,
		Reasoning:  "both mention VAT",
	}
	require.NoError(t, cache.Put(ctx, "k1", decision))

	got, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, decision, got)

	t.Run("overwrite", func(t *testing.T) {
		replaced := decision
		replaced.Skills = []string{"payroll"}
		require.NoError(t, cache.Put(ctx, "k1", replaced))
		got, ok, err := cache.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"payroll"}, got.Skills)
	})

	t.Run("expiry and purge", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, "k2", decision))
		clock.Advance(2 * time.Hour)

		_, ok, err := cache.Get(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := cache.Purge(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		forever := s.RouteCache(0)
		require.NoError(t, forever.Put(ctx, "k3", decision))
		clock.Advance(24 * 365 * time.Hour)

		_, ok, err := forever.Get(ctx, "k3")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := forever.Purge(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
