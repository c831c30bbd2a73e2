// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher turns filesystem writes into file-save trigger events. One
// watcher feeds one executor; workflows decide relevance via their trigger
// patterns.
type FileWatcher struct {
	executor *Executor
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	debounce time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFileWatcher creates a watcher over the given directories. Editors often
// produce bursts of write events per save; events for the same path within
// the debounce window collapse into one trigger.
func NewFileWatcher(executor *Executor, dirs []string, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return &FileWatcher{
		executor: executor,
		watcher:  fsw,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins forwarding write events as triggers.
func (fw *FileWatcher) Start() {
	fw.wg.Add(1)
	go fw.loop()
	fw.logger.Info("file watcher started")
}

// Stop closes the watcher and waits for the event loop to drain.
func (fw *FileWatcher) Stop() {
	close(fw.stopCh)
	_ = fw.watcher.Close()
	fw.wg.Wait()
}

func (fw *FileWatcher) loop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !fw.shouldFire(event.Name) {
				continue
			}
			runs := fw.executor.ProcessTrigger(TriggerEvent{
				Type:      TriggerFileSave,
				Data:      event.Name,
				Timestamp: time.Now(),
			})
			if len(runs) > 0 {
				fw.logger.Debug("file save triggered workflows",
					zap.String("path", event.Name),
					zap.Int("runs", len(runs)))
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) shouldFire(path string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	now := time.Now()
	if last, ok := fw.lastSeen[path]; ok && now.Sub(last) < fw.debounce {
		return false
	}
	fw.lastSeen[path] = now
	return true
}
