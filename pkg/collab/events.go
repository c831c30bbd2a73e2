// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collab

// Event is a tagged value delivered to session listeners.
type Event interface {
	eventKind() string
}

// SessionStarted is emitted when a session transitions created → active.
type SessionStarted struct {
	SessionID        string
	ParticipantCount int
	Protocol         Protocol
}

// MessageSent is emitted for every message appended to a transcript.
type MessageSent struct {
	SessionID   string
	MessageID   string
	SenderRole  Role
	MessageType MessageType
}

// TurnAdvanced is emitted after a successful turn, carrying the new turn
// counter and the role that speaks next.
type TurnAdvanced struct {
	SessionID string
	NewTurn   int
	NextRole  Role
}

// DecisionMade is emitted when a decision is recorded in shared context.
type DecisionMade struct {
	SessionID   string
	Description string
	ByRole      Role
}

// ConsensusReached is emitted once a proposal crosses the approval
// threshold.
type ConsensusReached struct {
	SessionID   string
	Proposal    string
	ApprovalPct float64
}

// SessionCompleted is emitted when a session ends.
type SessionCompleted struct {
	SessionID     string
	TotalTurns    int
	MessageCount  int
	DecisionCount int
}

func (SessionStarted) eventKind() string   { return "session-started" }
func (MessageSent) eventKind() string      { return "message-sent" }
func (TurnAdvanced) eventKind() string     { return "turn-advanced" }
func (DecisionMade) eventKind() string     { return "decision-made" }
func (ConsensusReached) eventKind() string { return "consensus-reached" }
func (SessionCompleted) eventKind() string { return "session-completed" }

// Listener receives session events synchronously in the caller's context.
type Listener func(Event)
