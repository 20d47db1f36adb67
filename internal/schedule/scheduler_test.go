package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

var _ Trigger = (*pipeline.Orchestrator)(nil)

type fakeTrigger struct {
	mu    sync.Mutex
	calls []pipeline.RunOptions
	err   error
}

func (f *fakeTrigger) StartFullPipeline(_ context.Context, pipelineID string, opts pipeline.RunOptions) (*types.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &types.PipelineRun{ID: "run-1", PipelineID: pipelineID, Status: types.RunRunning}, nil
}

func TestSchedule_RotatesTopics(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, nil)
	require.NoError(t, s.Schedule(Entry{PipelineID: "daily", Cron: "0 9 * * *", Topics: []string{"espresso", "matcha"}}))

	job := s.jobs["daily"]
	require.NotNil(t, job)
	job.Run()
	job.Run()
	job.Run()

	require.Len(t, trigger.calls, 3)
	assert.Equal(t, "espresso", trigger.calls[0].Topic)
	assert.Equal(t, "matcha", trigger.calls[1].Topic)
	assert.Equal(t, "espresso", trigger.calls[2].Topic)
	assert.Equal(t, types.TriggerSchedule, trigger.calls[0].TriggerSource)
}

func TestSchedule_NoTopicsUsesPipelineDefault(t *testing.T) {
	trigger := &fakeTrigger{}
	s := New(trigger, nil)
	require.NoError(t, s.Schedule(Entry{PipelineID: "daily", Cron: "@hourly"}))

	s.jobs["daily"].Run()
	require.Len(t, trigger.calls, 1)
	assert.Empty(t, trigger.calls[0].Topic)
}

func TestSchedule_TriggerErrorIsLogged(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("pipeline not found")}
	s := New(trigger, nil)
	require.NoError(t, s.Schedule(Entry{PipelineID: "gone", Cron: "@daily"}))

	assert.NotPanics(t, s.jobs["gone"].Run)
}

func TestSchedule_InvalidEntries(t *testing.T) {
	s := New(&fakeTrigger{}, nil)

	assert.Error(t, s.Schedule(Entry{PipelineID: "daily", Cron: "every tuesday"}))
	assert.Error(t, s.Schedule(Entry{Cron: "@daily"}))
	assert.Empty(t, s.Scheduled())
}

func TestSchedule_ReplaceAndUnschedule(t *testing.T) {
	s := New(&fakeTrigger{}, nil)
	require.NoError(t, s.Schedule(Entry{PipelineID: "b", Cron: "@daily"}))
	require.NoError(t, s.Schedule(Entry{PipelineID: "a", Cron: "@daily"}))
	require.NoError(t, s.Schedule(Entry{PipelineID: "a", Cron: "@hourly"}))

	assert.Equal(t, []string{"a", "b"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 2)

	s.Unschedule("a")
	assert.Equal(t, []string{"b"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(&fakeTrigger{}, nil)
	require.NoError(t, s.Schedule(Entry{PipelineID: "daily", Cron: "@daily"}))
	s.Start()
	s.Stop()
}
