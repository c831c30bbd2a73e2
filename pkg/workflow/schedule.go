// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires schedule triggers on cron expressions. A workflow opts in
// with a trigger of type schedule whose pattern is a standard 5-field cron
// expression; the fired event data equals the expression, so the trigger's
// exact-match rule selects only the workflows registered for it.
type Scheduler struct {
	executor   *Executor
	cronEngine *cron.Cron
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID // workflow id -> entries, one per schedule trigger
}

// NewScheduler creates a schedule-trigger source for the executor.
func NewScheduler(executor *Executor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		executor:   executor,
		cronEngine: cron.New(),
		logger:     logger,
		entries:    make(map[string][]cron.EntryID),
	}
}

// Register adds cron entries for every schedule trigger of the workflow.
// Invalid expressions are rejected before any entry is added.
func (s *Scheduler) Register(w *Workflow) error {
	var exprs []string
	for _, trig := range w.Triggers {
		if trig.Type != TriggerSchedule || trig.Pattern == "" {
			continue
		}
		if _, err := cron.ParseStandard(trig.Pattern); err != nil {
			return fmt.Errorf("workflow %s: invalid cron expression %q: %w", w.ID, trig.Pattern, err)
		}
		exprs = append(exprs, trig.Pattern)
	}
	if len(exprs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, expr := range exprs {
		pattern := expr
		entryID, err := s.cronEngine.AddFunc(pattern, func() {
			s.executor.ProcessTrigger(TriggerEvent{
				Type:      TriggerSchedule,
				Data:      pattern,
				Timestamp: time.Now(),
			})
		})
		if err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
		s.entries[w.ID] = append(s.entries[w.ID], entryID)
		s.logger.Info("scheduled workflow trigger",
			zap.String("workflow_id", w.ID),
			zap.String("cron", pattern))
	}
	return nil
}

// Unregister drops every cron entry the workflow registered, if any.
func (s *Scheduler) Unregister(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entryID := range s.entries[workflowID] {
		s.cronEngine.Remove(entryID)
	}
	delete(s.entries, workflowID)
}

// Start begins firing schedule triggers.
func (s *Scheduler) Start() {
	s.cronEngine.Start()
	s.logger.Info("workflow scheduler started")
}

// Stop halts the cron engine and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
}
