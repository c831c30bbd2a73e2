// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// State is the persisted slice of manager configuration. It is stored as a
// single named document and reloaded at startup.
type State struct {
	// ActiveProvider is the name of the explicitly selected provider
	ActiveProvider string `json:"active_provider"`

	// Strategy is the selection strategy name
	Strategy string `json:"strategy"`

	// ProviderEnabled maps provider name to its enabled flag
	ProviderEnabled map[string]bool `json:"provider_configs"`
}

// StateStore persists manager state between runs.
type StateStore interface {
	// Load returns the stored state, or nil when none has been saved.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state *State) error
}

// stateDocumentName keys the single manager document in the store.
const stateDocumentName = "provider-manager"

// SQLiteStateStore persists manager state to SQLite.
// Uses WAL mode for concurrent read/write access.
type SQLiteStateStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSQLiteStateStore opens (or creates) the state database at dbPath.
func NewSQLiteStateStore(ctx context.Context, dbPath string, logger *zap.Logger) (*SQLiteStateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStateStore{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the state table if it doesn't exist.
func (s *SQLiteStateStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS manager_state (
		name TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load returns the stored state, or nil when no document exists yet.
func (s *SQLiteStateStore) Load(ctx context.Context) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM manager_state WHERE name = ?`, stateDocumentName).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manager state: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("failed to decode manager state: %w", err)
	}
	return &state, nil
}

// Save upserts the state document.
func (s *SQLiteStateStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode manager state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manager_state (name, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		stateDocumentName, string(doc), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save manager state: %w", err)
	}

	s.logger.Debug("saved manager state",
		zap.String("active_provider", state.ActiveProvider),
		zap.String("strategy", state.Strategy))
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

// MemoryStateStore is an in-memory StateStore for tests and ephemeral use.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a copy of the stored state, or nil when empty.
func (s *MemoryStateStore) Load(ctx context.Context) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	cp.ProviderEnabled = make(map[string]bool, len(s.state.ProviderEnabled))
	for k, v := range s.state.ProviderEnabled {
		cp.ProviderEnabled[k] = v
	}
	return &cp, nil
}

// Save stores a copy of the state.
func (s *MemoryStateStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	cp.ProviderEnabled = make(map[string]bool, len(state.ProviderEnabled))
	for k, v := range state.ProviderEnabled {
		cp.ProviderEnabled[k] = v
	}
	s.state = &cp
	return nil
}

var (
	_ StateStore = (*SQLiteStateStore)(nil)
	_ StateStore = (*MemoryStateStore)(nil)
)
