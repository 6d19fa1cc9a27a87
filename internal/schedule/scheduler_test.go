package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return nil
}

func TestAddJobRejectsDuplicatesAndBadSpec(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "purge"}
	require.NoError(t, s.AddJob(job, "0 3 * * *"))
	require.Error(t, s.AddJob(job, "0 4 * * *"))
	require.Error(t, s.AddJob(&countingJob{name: "bad"}, "not a spec"))

	next, ok := s.NextRun("purge")
	require.True(t, ok)
	require.True(t, next.IsZero())
	_, ok = s.NextRun("missing")
	require.False(t, ok)
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	s.ctx = context.Background()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	run := s.wrap(job, "* * * * *")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	run()
	require.Equal(t, int32(1), job.runs.Load())
	close(job.block)
	<-done
	run()
	require.Equal(t, int32(2), job.runs.Load())
}
