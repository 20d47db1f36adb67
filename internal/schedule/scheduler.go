// Package schedule triggers pipeline runs on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/types"
)

// Trigger starts a run in the background. *pipeline.Orchestrator satisfies it.
type Trigger interface {
	StartFullPipeline(ctx context.Context, pipelineID string, opts pipeline.RunOptions) (*types.PipelineRun, error)
}

// Entry schedules one pipeline. Topics rotate across firings; an empty list
// uses the pipeline's default topic.
type Entry struct {
	PipelineID string
	Cron       string
	Topics     []string
}

// Scheduler owns the cron runner. One entry is kept per pipeline.
type Scheduler struct {
	trigger Trigger
	cron    *cron.Cron
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	jobs    map[string]*pipelineJob
}

// New creates a stopped scheduler.
func New(trigger Trigger, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		trigger: trigger,
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]*pipelineJob),
	}
}

// Schedule adds or replaces the entry for e.PipelineID.
func (s *Scheduler) Schedule(e Entry) error {
	if e.PipelineID == "" {
		return fmt.Errorf("schedule: pipeline id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &pipelineJob{
		pipelineID: e.PipelineID,
		topics:     append([]string(nil), e.Topics...),
		trigger:    s.trigger,
		logger:     s.logger,
	}
	entryID, err := s.cron.AddJob(e.Cron, job)
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron %q: %w", e.PipelineID, e.Cron, err)
	}
	if old, exists := s.entries[e.PipelineID]; exists {
		s.cron.Remove(old)
	}
	s.entries[e.PipelineID] = entryID
	s.jobs[e.PipelineID] = job
	s.logger.Info("pipeline scheduled", zap.String("pipeline_id", e.PipelineID), zap.String("cron", e.Cron))
	return nil
}

// Unschedule removes the entry for pipelineID, if any.
func (s *Scheduler) Unschedule(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.entries[pipelineID]; exists {
		s.cron.Remove(id)
		delete(s.entries, pipelineID)
		delete(s.jobs, pipelineID)
	}
}

// Scheduled returns the scheduled pipeline ids, sorted.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for running triggers to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// pipelineJob is the cron.Job fired for one pipeline.
type pipelineJob struct {
	pipelineID string
	topics     []string
	trigger    Trigger
	logger     *zap.Logger

	mu   sync.Mutex
	next int
}

func (j *pipelineJob) nextTopic() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.topics) == 0 {
		return ""
	}
	topic := j.topics[j.next%len(j.topics)]
	j.next++
	return topic
}

// Run implements cron.Job.
func (j *pipelineJob) Run() {
	topic := j.nextTopic()
	run, err := j.trigger.StartFullPipeline(context.Background(), j.pipelineID, pipeline.RunOptions{
		Topic:         topic,
		TriggerSource: types.TriggerSchedule,
	})
	if err != nil {
		j.logger.Error("scheduled run not started", zap.String("pipeline_id", j.pipelineID), zap.Error(err))
		return
	}
	j.logger.Info("scheduled run started",
		zap.String("pipeline_id", j.pipelineID),
		zap.String("run_id", run.ID),
		zap.String("topic", topic))
}
