// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package collab implements multi-agent collaboration sessions: role-bound
// participants advance turn by turn under a protocol (round-robin, debate,
// consensus, ...), agents are invoked through an injected invoker, and the
// session produces a final result.
package collab

import (
	"sync"
	"time"
)

// ============================================================================
// Roles and agents
// ============================================================================

// Role tags a participant's specialization.
type Role string

const (
	RoleArchitect   Role = "architect"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RoleTester      Role = "tester"
	RoleSecurity    Role = "security"
	RoleDocumenter  Role = "documenter"
)

// Agent is an opaque handle on a role-specialized LLM persona, owned by the
// specialist service.
type Agent struct {
	ID           string
	Role         Role
	SystemPrompt string
}

// ============================================================================
// Protocols
// ============================================================================

// Protocol is the turn-taking policy governing a session.
type Protocol string

const (
	ProtocolRoundRobin     Protocol = "round-robin"
	ProtocolDebate         Protocol = "debate"
	ProtocolConsensus      Protocol = "consensus"
	ProtocolBroadcast      Protocol = "broadcast"
	ProtocolLeaderFollower Protocol = "leader-follower"
	ProtocolVoting         Protocol = "voting"
	ProtocolFreeForm       Protocol = "free-form"
)

// ============================================================================
// Participants and messages
// ============================================================================

// ParticipantStatus tracks what a seat is currently doing.
type ParticipantStatus string

const (
	ParticipantReady    ParticipantStatus = "ready"
	ParticipantSpeaking ParticipantStatus = "speaking"
	ParticipantWaiting  ParticipantStatus = "waiting"
	ParticipantBlocked  ParticipantStatus = "blocked"
	ParticipantDone     ParticipantStatus = "done"
)

// Participant is a role-bound seat in a session. Exactly one agent may be
// bound to it at a time; binding happens when the session starts.
type Participant struct {
	ID           string
	Role         Role
	Agent        *Agent
	Status       ParticipantStatus
	MessageCount int
}

// MessageType classifies a message's intent.
type MessageType string

const (
	MessageContribution MessageType = "contribution"
	MessageProposal     MessageType = "proposal"
	MessageQuestion     MessageType = "question"
	MessageAnswer       MessageType = "answer"
	MessageCritique     MessageType = "critique"
	MessageVote         MessageType = "vote"
	MessageDecision     MessageType = "decision"
	MessageInfo         MessageType = "info"
)

// AttachmentKind tags what an attachment carries.
type AttachmentKind string

const (
	AttachmentCode     AttachmentKind = "code"
	AttachmentDocument AttachmentKind = "document"
	AttachmentResult   AttachmentKind = "result"
)

// Attachment is a payload riding on a message.
type Attachment struct {
	Kind    AttachmentKind
	Name    string
	Content string
	Path    string
}

// Message is one entry in a session's transcript.
type Message struct {
	ID          string
	SessionID   string
	SenderID    string
	SenderRole  Role
	Type        MessageType
	Content     string
	ReplyTo     string
	Attachments []Attachment
	CreatedAt   time.Time
	Mentions    []Role
}

// ============================================================================
// Shared context
// ============================================================================

// Decision records a call made during the session.
type Decision struct {
	Description string
	Rationale   string
	ByRole      Role
	At          time.Time
}

// SharedContext is the blackboard all participants read and write. All
// accessors are safe under concurrent callers.
type SharedContext struct {
	mu            sync.RWMutex
	artifacts     map[string]string
	facts         []string
	decisions     []Decision
	openQuestions []string
}

// NewSharedContext creates an empty blackboard.
func NewSharedContext() *SharedContext {
	return &SharedContext{artifacts: make(map[string]string)}
}

// SetArtifact stores a named artifact.
func (c *SharedContext) SetArtifact(name, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[name] = content
}

// Artifacts returns a copy of the artifact map.
func (c *SharedContext) Artifacts() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.artifacts))
	for k, v := range c.artifacts {
		out[k] = v
	}
	return out
}

// AddFact appends a fact string.
func (c *SharedContext) AddFact(fact string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = append(c.facts, fact)
}

// Facts returns a copy of the fact list.
func (c *SharedContext) Facts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.facts))
	copy(out, c.facts)
	return out
}

// AddDecision appends a decision.
func (c *SharedContext) AddDecision(d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = append(c.decisions, d)
}

// Decisions returns a copy of the decision list.
func (c *SharedContext) Decisions() []Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Decision, len(c.decisions))
	copy(out, c.decisions)
	return out
}

// AddOpenQuestion appends an unresolved question.
func (c *SharedContext) AddOpenQuestion(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openQuestions = append(c.openQuestions, q)
}

// OpenQuestions returns a copy of the open-question list.
func (c *SharedContext) OpenQuestions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.openQuestions))
	copy(out, c.openQuestions)
	return out
}

// ============================================================================
// Consensus
// ============================================================================

// ConsensusStatus is the lifecycle of a proposal.
type ConsensusStatus string

const (
	ConsensusPending  ConsensusStatus = "pending"
	ConsensusAccepted ConsensusStatus = "accepted"
	ConsensusRejected ConsensusStatus = "rejected"
)

// Vote is one participant's position on a proposal.
type Vote struct {
	Approve bool
	Reason  string
}

// ConsensusState tracks votes on a single proposal.
type ConsensusState struct {
	ProposalID string
	Proposal   string
	Votes      map[string]Vote
	Status     ConsensusStatus
}

// ============================================================================
// Sessions
// ============================================================================

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionCreated            SessionStatus = "created"
	SessionActive             SessionStatus = "active"
	SessionPaused             SessionStatus = "paused"
	SessionWaitingForResponse SessionStatus = "waiting-for-response"
	SessionConsensusReached   SessionStatus = "consensus-reached"
	SessionCompletedStatus    SessionStatus = "completed"
	SessionFailed             SessionStatus = "failed"
	SessionCancelled          SessionStatus = "cancelled"
)

// IsActive reports whether the session can still advance.
func (s SessionStatus) IsActive() bool {
	return s == SessionActive || s == SessionWaitingForResponse
}

// IsTerminal reports whether the session has finished.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionConsensusReached, SessionCompletedStatus, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Session is one collaboration. Values returned by the orchestrator are
// snapshots; the orchestrator keeps the authoritative copy.
type Session struct {
	ID           string
	Name         string
	Goal         string
	Protocol     Protocol
	Participants []*Participant
	Context      *SharedContext
	Messages     []Message
	Status       SessionStatus
	CurrentTurn  int
	MaxTurns     int
	CreatedAt    time.Time
}

// CurrentParticipant returns the seat whose turn it is.
func (s *Session) CurrentParticipant() *Participant {
	if len(s.Participants) == 0 {
		return nil
	}
	return s.Participants[s.CurrentTurn%len(s.Participants)]
}

// LastMessage returns the newest transcript entry.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// snapshot returns a value copy safe to hand to callers. The shared context
// is the live blackboard; its accessors are individually synchronized.
func (s *Session) snapshot() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	return &out
}

// ============================================================================
// Results
// ============================================================================

// TurnResult is the outcome of one executeTurn call.
type TurnResult struct {
	Success bool
	Reason  string
	Message *Message
	Session *Session
}

// CollaborationResult summarizes a finished session.
type CollaborationResult struct {
	SessionID      string
	Goal           string
	Success        bool
	Outcome        string
	Decisions      []Decision
	Artifacts      map[string]string
	TotalTurns     int
	MessageCount   int
	MessagesByRole map[Role]int
	DurationMs     int64
}
