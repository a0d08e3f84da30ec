//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package scheduler fires xpert runs on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/xpert-ai/xpert-sub002/log"
)

// Errors.
var (
	ErrTaskNotFound = errors.New("scheduler: task not found")
	ErrArchived     = errors.New("scheduler: task is archived")
	ErrInvalidTask  = errors.New("scheduler: invalid task")
)

// MinInterval is the shortest accepted schedule.
const MinInterval = time.Second

// Status of a task.
type Status string

// Task statuses. Archived is final.
const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Task starts a run of XpertID every Interval.
type Task struct {
	ID       string         `json:"id"`
	XpertID  string         `json:"xpertId"`
	AgentKey string         `json:"agentKey,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Interval time.Duration  `json:"interval"`
	Status   Status         `json:"status"`

	CreatedAt       time.Time `json:"createdAt"`
	NextRunAt       time.Time `json:"nextRunAt,omitempty"`
	LastRunAt       time.Time `json:"lastRunAt,omitempty"`
	Runs            int       `json:"runs"`
	LastExecutionID string    `json:"lastExecutionId,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

// Trigger starts a run and returns its execution id.
type Trigger interface {
	Trigger(ctx context.Context, xpertID, agentKey string, input map[string]any) (string, error)
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, xpertID, agentKey string, input map[string]any) (string, error)

// Trigger implements Trigger.
func (f TriggerFunc) Trigger(ctx context.Context, xpertID, agentKey string, input map[string]any) (string, error) {
	return f(ctx, xpertID, agentKey, input)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRateLimit caps the runs started per xpert to perMinute with the
// given burst. Zero disables the cap.
func WithRateLimit(perMinute float64, burst int) Option {
	return func(s *Scheduler) {
		s.limit = rate.Limit(perMinute / 60)
		s.burst = burst
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTick sets how often Start looks for due tasks.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// Scheduler keeps interval tasks in memory.
type Scheduler struct {
	trigger Trigger
	now     func() time.Time
	tick    time.Duration
	limit   rate.Limit
	burst   int

	mu       sync.Mutex
	tasks    map[string]*Task
	limiters map[string]*rate.Limiter
}

// New creates a Scheduler starting runs through trigger.
func New(trigger Trigger, opts ...Option) *Scheduler {
	s := &Scheduler{
		trigger:  trigger,
		now:      time.Now,
		tick:     time.Second,
		tasks:    make(map[string]*Task),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.burst < 1 {
		s.burst = 1
	}
	return s
}

// Add registers an active task. The first run is one interval from now.
func (s *Scheduler) Add(t Task) (*Task, error) {
	if t.XpertID == "" {
		return nil, fmt.Errorf("%w: no xpert id", ErrInvalidTask)
	}
	if t.Interval < MinInterval {
		return nil, fmt.Errorf("%w: interval %s below %s", ErrInvalidTask, t.Interval, MinInterval)
	}
	now := s.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = StatusActive
	t.CreatedAt = now
	t.NextRunAt = now.Add(t.Interval)
	t.Runs, t.LastExecutionID, t.LastError = 0, "", ""
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.ID]; dup {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidTask, t.ID)
	}
	s.tasks[t.ID] = &t
	c := t
	return &c, nil
}

func (s *Scheduler) update(id string, fn func(t *Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status == StatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrArchived, id)
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	c := *t
	return &c, nil
}

// Pause stops a task from firing until Resume.
func (s *Scheduler) Pause(id string) (*Task, error) {
	return s.update(id, func(t *Task) error {
		t.Status = StatusPaused
		t.NextRunAt = time.Time{}
		return nil
	})
}

// Resume reactivates a paused task; its next run is one interval away.
func (s *Scheduler) Resume(id string) (*Task, error) {
	return s.update(id, func(t *Task) error {
		if t.Status == StatusActive {
			return nil
		}
		t.Status = StatusActive
		t.NextRunAt = s.now().Add(t.Interval)
		return nil
	})
}

// Archive retires a task for good.
func (s *Scheduler) Archive(id string) (*Task, error) {
	return s.update(id, func(t *Task) error {
		t.Status = StatusArchived
		t.NextRunAt = time.Time{}
		return nil
	})
}

// Get returns a copy of the task.
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	c := *t
	return &c, nil
}

// List returns the tasks with one of statuses, or all of them, oldest
// first.
func (s *Scheduler) List(statuses ...Status) []*Task {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.Lock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if len(want) == 0 || want[t.Status] {
			c := *t
			out = append(out, &c)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Scheduler) limiter(xpertID string) *rate.Limiter {
	l, ok := s.limiters[xpertID]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[xpertID] = l
	}
	return l
}

// Tick fires the tasks that are due and returns how many runs started.
// A task over its xpert rate cap skips the slot.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	type due struct {
		id    string
		xpert string
		agent string
		input map[string]any
	}
	var fire []due
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := s.tasks[id]
		if t.Status != StatusActive || now.Before(t.NextRunAt) {
			continue
		}
		t.NextRunAt = now.Add(t.Interval)
		if s.limit > 0 && !s.limiter(t.XpertID).AllowN(now, 1) {
			log.Infof("scheduler: task %s of %s skipped by rate cap", t.ID, t.XpertID)
			continue
		}
		fire = append(fire, due{id: t.ID, xpert: t.XpertID, agent: t.AgentKey, input: t.Input})
	}
	s.mu.Unlock()

	started := 0
	for _, d := range fire {
		execID, err := s.trigger.Trigger(ctx, d.xpert, d.agent, d.input)
		s.mu.Lock()
		if t, ok := s.tasks[d.id]; ok {
			t.LastRunAt = now
			if err != nil {
				t.LastError = err.Error()
			} else {
				t.Runs++
				t.LastExecutionID, t.LastError = execID, ""
			}
		}
		s.mu.Unlock()
		if err != nil {
			log.Warnf("scheduler: task %s of %s: %v", d.id, d.xpert, err)
			continue
		}
		started++
	}
	return started
}

// Start ticks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
