package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func TestAddJobRejectsBadSpec(t *testing.T) {
	c := NewCronScheduler(nil)
	err := c.AddJob(&funcJob{name: "x", fn: func(context.Context) error { return nil }}, "not a cron spec")
	require.Error(t, err)
}

func TestAddJobAcceptsFiveFieldSpec(t *testing.T) {
	c := NewCronScheduler(nil)
	err := c.AddJob(&funcJob{name: "weekly", fn: func(context.Context) error { return nil }}, "0 3 * * 0")
	require.NoError(t, err)
	require.Contains(t, c.entries, "weekly")
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	c := NewCronScheduler(nil)
	block := make(chan struct{})
	var runs atomic.Int32
	job := &funcJob{name: "slow", fn: func(ctx context.Context) error {
		runs.Add(1)
		<-block
		return nil
	}}

	run := c.wrap(job, "* * * * *")
	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Second tick while the first is still running must not start the job.
	run()
	require.Equal(t, int32(1), runs.Load())

	close(block)
	<-done

	// After the first run finishes the guard releases.
	run()
	require.Equal(t, int32(2), runs.Load())
}

func TestJobsTolerateMissingDependencies(t *testing.T) {
	require.NoError(t, NewReclusterJob(nil, "queue").Run(context.Background()))
	require.NoError(t, NewCachePruneJob(nil, 0).Run(context.Background()))
}
