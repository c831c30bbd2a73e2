// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/forge/pkg/observability"
)

const (
	// defaultMaxTurns caps a session that never declares its own limit.
	defaultMaxTurns = 50

	// promptHistoryWindow bounds how many recent messages enter a turn
	// prompt, and promptContentLimit how much of each.
	promptHistoryWindow = 5
	promptContentLimit  = 500
)

// AgentInvoker produces an agent's textual contribution. It may suspend for
// LLM I/O; a returned error becomes a failure TurnResult.
type AgentInvoker interface {
	Invoke(ctx context.Context, agent *Agent, prompt string, session *Session) (string, error)
}

// AgentInvokerFunc adapts a function to the AgentInvoker interface.
type AgentInvokerFunc func(ctx context.Context, agent *Agent, prompt string, session *Session) (string, error)

// Invoke implements AgentInvoker.
func (f AgentInvokerFunc) Invoke(ctx context.Context, agent *Agent, prompt string, session *Session) (string, error) {
	return f(ctx, agent, prompt, session)
}

// SpecialistService binds role-specialized agents to participants at
// session start. A missing specialist falls back to a synthesized default.
type SpecialistService interface {
	GetSpecialist(role Role) (*Agent, bool)
}

// OrchestratorConfig configures the collaboration orchestrator.
type OrchestratorConfig struct {
	// Invoker produces agent contributions. Required.
	Invoker AgentInvoker

	// Specialists binds agents to roles at session start (optional).
	Specialists SpecialistService

	// ConsensusThreshold overrides DefaultConsensusThreshold.
	ConsensusThreshold float64

	// MaxTurns is the default per-session turn cap.
	MaxTurns int

	// Tracer for observability. Default: no-op.
	Tracer observability.Tracer

	// Logger. Default: no-op.
	Logger *zap.Logger
}

// Orchestrator owns collaboration sessions and their consensus states.
// Different sessions advance in parallel; turns within one session are
// serialized by a per-session lock.
type Orchestrator struct {
	mu sync.RWMutex

	sessions        map[string]*Session
	consensusStates map[string]*ConsensusState // session id -> state

	sessionLocks sync.Map // session id -> *sync.Mutex

	listeners map[string]Listener

	invoker     AgentInvoker
	specialists SpecialistService
	threshold   float64
	maxTurns    int
	tracer      observability.Tracer
	logger      *zap.Logger
}

// NewOrchestrator creates a collaboration orchestrator.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.Invoker == nil {
		return nil, fmt.Errorf("agent invoker is required")
	}
	if config.ConsensusThreshold <= 0 || config.ConsensusThreshold > 1 {
		config.ConsensusThreshold = DefaultConsensusThreshold
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = defaultMaxTurns
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:        make(map[string]*Session),
		consensusStates: make(map[string]*ConsensusState),
		listeners:       make(map[string]Listener),
		invoker:         config.Invoker,
		specialists:     config.Specialists,
		threshold:       config.ConsensusThreshold,
		maxTurns:        config.MaxTurns,
		tracer:          config.Tracer,
		logger:          config.Logger,
	}, nil
}

// ============================================================================
// Session construction
// ============================================================================

// CreateSession builds a session in status created, one participant per
// role in the given order.
func (o *Orchestrator) CreateSession(name, goal string, roles []Role, protocol Protocol) *Session {
	id := fmt.Sprintf("session-%s", uuid.New().String()[:8])

	participants := make([]*Participant, 0, len(roles))
	for i, role := range roles {
		participants = append(participants, &Participant{
			ID:     fmt.Sprintf("%s-p%d", id, i),
			Role:   role,
			Status: ParticipantReady,
		})
	}

	session := &Session{
		ID:           id,
		Name:         name,
		Goal:         goal,
		Protocol:     protocol,
		Participants: participants,
		Context:      NewSharedContext(),
		Status:       SessionCreated,
		MaxTurns:     o.maxTurns,
		CreatedAt:    time.Now(),
	}

	o.mu.Lock()
	o.sessions[id] = session
	o.mu.Unlock()

	o.logger.Info("created session",
		zap.String("session_id", id),
		zap.String("protocol", string(protocol)),
		zap.Int("participants", len(participants)))
	return session.snapshot()
}

// CreateDebate builds a two-seat debate session.
func (o *Orchestrator) CreateDebate(goal string, r1, r2 Role) *Session {
	name := fmt.Sprintf("Debate: %s vs %s", r1, r2)
	return o.CreateSession(name, goal, []Role{r1, r2}, ProtocolDebate)
}

// CreateReview builds a code-review session with the standard reviewer
// bench.
func (o *Orchestrator) CreateReview(goal string) *Session {
	return o.CreateSession("Code Review", goal, []Role{RoleReviewer, RoleSecurity, RoleTester}, ProtocolRoundRobin)
}

// StartSession binds an agent to every participant and activates the
// session. Only effective in status created.
func (o *Orchestrator) StartSession(id string) (*Session, error) {
	o.mu.Lock()
	session, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("session %s not found", id)
	}
	if session.Status != SessionCreated {
		snapshot := session.snapshot()
		o.mu.Unlock()
		return snapshot, nil
	}

	for _, p := range session.Participants {
		p.Agent = o.resolveAgent(p.Role)
	}
	session.Status = SessionActive
	snapshot := session.snapshot()
	o.mu.Unlock()

	o.emit(SessionStarted{
		SessionID:        id,
		ParticipantCount: len(snapshot.Participants),
		Protocol:         snapshot.Protocol,
	})
	o.logger.Info("session started", zap.String("session_id", id))
	return snapshot, nil
}

// resolveAgent asks the specialist service for a role-bound agent, falling
// back to a synthesized default.
func (o *Orchestrator) resolveAgent(role Role) *Agent {
	if o.specialists != nil {
		if agent, ok := o.specialists.GetSpecialist(role); ok && agent != nil {
			return agent
		}
	}
	return &Agent{
		ID:           fmt.Sprintf("agent-%s", role),
		Role:         role,
		SystemPrompt: fmt.Sprintf("You are the %s on a software team.", role),
	}
}

// ============================================================================
// Turn execution
// ============================================================================

// ExecuteTurn advances the session by one turn: the current participant's
// agent is invoked, its contribution appended, and the turn counter
// incremented. Failures are reported in the TurnResult, never as errors.
func (o *Orchestrator) ExecuteTurn(ctx context.Context, sessionID, userPrompt string) TurnResult {
	lock := o.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// The session lock serializes turns; o.mu guards the session fields
	// against concurrent snapshot readers. The invoker call runs outside
	// o.mu so slow LLM I/O never blocks introspection.
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return TurnResult{Reason: "Session not found"}
	}
	if !session.Status.IsActive() {
		o.mu.Unlock()
		return TurnResult{Reason: "Session is not active"}
	}
	if session.CurrentTurn >= session.MaxTurns {
		o.mu.Unlock()
		return TurnResult{Reason: "Max turns reached"}
	}
	participant := session.CurrentParticipant()
	if participant == nil {
		o.mu.Unlock()
		return TurnResult{Reason: "No current participant"}
	}
	agent := participant.Agent
	if agent == nil {
		o.mu.Unlock()
		return TurnResult{Reason: "Participant has no agent assigned"}
	}

	prompt := o.buildPrompt(session, participant, userPrompt)
	role := participant.Role
	participant.Status = ParticipantSpeaking
	preInvoke := session.snapshot()
	o.mu.Unlock()

	spanCtx, span := o.tracer.StartSpan(ctx, "collab.turn",
		observability.WithSpanKind("internal"),
		observability.WithAttribute("collab.session_id", sessionID),
		observability.WithAttribute("collab.role", string(role)))

	content, err := o.invoker.Invoke(spanCtx, agent, prompt, preInvoke)

	o.mu.Lock()
	participant.Status = ParticipantWaiting
	if err != nil {
		o.mu.Unlock()
		span.RecordError(err)
		o.tracer.EndSpan(span)
		return TurnResult{Reason: fmt.Sprintf("Agent invocation failed: %v", err)}
	}

	message := o.appendMessage(session, participant, MessageContribution, content, "")
	session.CurrentTurn++
	newTurn := session.CurrentTurn
	nextRole := session.CurrentParticipant().Role
	snapshot := session.snapshot()
	o.mu.Unlock()
	o.tracer.EndSpan(span)

	o.emit(MessageSent{
		SessionID:   sessionID,
		MessageID:   message.ID,
		SenderRole:  role,
		MessageType: message.Type,
	})
	o.emit(TurnAdvanced{
		SessionID: sessionID,
		NewTurn:   newTurn,
		NextRole:  nextRole,
	})

	return TurnResult{
		Success: true,
		Message: &message,
		Session: snapshot,
	}
}

// buildPrompt assembles the deterministic turn prompt: session name, goal,
// role, protocol, recent history, facts, optional user prompt, closing
// instruction.
func (o *Orchestrator) buildPrompt(session *Session, participant *Participant, userPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", session.Name)
	fmt.Fprintf(&b, "Goal: %s\n", session.Goal)
	fmt.Fprintf(&b, "You are the %s.\n", participant.Role)
	fmt.Fprintf(&b, "Protocol: %s\n", session.Protocol)

	if len(session.Messages) > 0 {
		b.WriteString("\nRecent discussion:\n")
		start := len(session.Messages) - promptHistoryWindow
		if start < 0 {
			start = 0
		}
		for _, m := range session.Messages[start:] {
			fmt.Fprintf(&b, "[%s]: %s\n", m.SenderRole, clip(m.Content, promptContentLimit))
		}
	}

	if facts := session.Context.Facts(); len(facts) > 0 {
		b.WriteString("\nKnown facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if userPrompt != "" {
		fmt.Fprintf(&b, "\n%s\n", userPrompt)
	}

	fmt.Fprintf(&b, "\nProvide your contribution as the %s.", participant.Role)
	return b.String()
}

// clip bounds s to at most limit bytes, backing off so the cut never lands
// inside a multi-byte rune.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// appendMessage adds a message to the transcript and bumps the sender's
// counter. Caller holds the session lock and o.mu.
func (o *Orchestrator) appendMessage(session *Session, participant *Participant, t MessageType, content, replyTo string) Message {
	message := Message{
		ID:         fmt.Sprintf("msg-%s", uuid.New().String()[:8]),
		SessionID:  session.ID,
		SenderID:   participant.ID,
		SenderRole: participant.Role,
		Type:       t,
		Content:    content,
		ReplyTo:    replyTo,
		CreatedAt:  time.Now(),
	}
	session.Messages = append(session.Messages, message)
	participant.MessageCount++
	return message
}

// RunRound executes exactly one turn per participant, unconditionally.
func (o *Orchestrator) RunRound(ctx context.Context, sessionID string) []TurnResult {
	o.mu.RLock()
	session, ok := o.sessions[sessionID]
	var count int
	if ok {
		count = len(session.Participants)
	}
	o.mu.RUnlock()
	if !ok {
		return []TurnResult{{Reason: "Session not found"}}
	}

	results := make([]TurnResult, 0, count)
	for i := 0; i < count; i++ {
		results = append(results, o.ExecuteTurn(ctx, sessionID, ""))
	}
	return results
}

// StopPredicate inspects the session and the newest message after each
// turn; returning true stops RunUntil.
type StopPredicate func(*Session, *Message) bool

// RunUntil executes turns until maxTurns is reached, a turn fails, or the
// predicate fires. Returns the number of successful turns.
func (o *Orchestrator) RunUntil(ctx context.Context, sessionID string, maxTurns int, stop StopPredicate) int {
	turns := 0
	for turns < maxTurns {
		result := o.ExecuteTurn(ctx, sessionID, "")
		if !result.Success {
			break
		}
		turns++
		if stop != nil && stop(result.Session, result.Message) {
			break
		}
	}
	return turns
}

// ============================================================================
// Direct mutation
// ============================================================================

// SendMessage appends a message on behalf of an external sender (user
// injection or cross-component orchestration).
func (o *Orchestrator) SendMessage(sessionID, senderID string, role Role, t MessageType, content string) (*Message, error) {
	lock := o.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	var sender *Participant
	for _, p := range session.Participants {
		if p.ID == senderID {
			sender = p
			break
		}
	}

	var message Message
	if sender != nil {
		message = o.appendMessage(session, sender, t, content, "")
	} else {
		message = Message{
			ID:         fmt.Sprintf("msg-%s", uuid.New().String()[:8]),
			SessionID:  session.ID,
			SenderID:   senderID,
			SenderRole: role,
			Type:       t,
			Content:    content,
			CreatedAt:  time.Now(),
		}
		session.Messages = append(session.Messages, message)
	}
	o.mu.Unlock()

	o.emit(MessageSent{
		SessionID:   sessionID,
		MessageID:   message.ID,
		SenderRole:  role,
		MessageType: t,
	})
	return &message, nil
}

// RecordDecision appends a decision to shared context and emits
// DecisionMade.
func (o *Orchestrator) RecordDecision(sessionID, description, rationale string, byRole Role) error {
	o.mu.RLock()
	session, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	session.Context.AddDecision(Decision{
		Description: description,
		Rationale:   rationale,
		ByRole:      byRole,
		At:          time.Now(),
	})
	o.emit(DecisionMade{SessionID: sessionID, Description: description, ByRole: byRole})
	return nil
}

// RecordVote registers a vote on the session's consensus state, creating
// the state from the most recent proposal if it does not exist yet. Emits
// ConsensusReached when the vote crosses the threshold.
func (o *Orchestrator) RecordVote(sessionID, participantID string, approve bool, reason string) error {
	lock := o.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}

	state, ok := o.consensusStates[sessionID]
	if !ok {
		state = &ConsensusState{
			Votes:  make(map[string]Vote),
			Status: ConsensusPending,
		}
		if proposal := latestProposal(session); proposal != nil {
			state.ProposalID = proposal.ID
			state.Proposal = proposal.Content
		}
		o.consensusStates[sessionID] = state
	}
	state.Votes[participantID] = Vote{Approve: approve, Reason: reason}
	previous := state.Status
	status := state.evaluate(len(session.Participants), o.threshold)
	if previous == ConsensusPending && status == ConsensusAccepted && !session.Status.IsTerminal() {
		session.Status = SessionConsensusReached
	}
	pct := state.ApprovalPercentage()
	proposal := state.Proposal
	o.mu.Unlock()

	if previous == ConsensusPending && status == ConsensusAccepted {
		o.emit(ConsensusReached{SessionID: sessionID, Proposal: proposal, ApprovalPct: pct})
	}
	return nil
}

// latestProposal returns the newest proposal-type message, or the newest
// message of any type when no proposal exists.
func latestProposal(session *Session) *Message {
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Type == MessageProposal {
			return &session.Messages[i]
		}
	}
	return session.LastMessage()
}

// GetConsensusState returns a copy of the session's consensus state.
func (o *Orchestrator) GetConsensusState(sessionID string) (*ConsensusState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	state, ok := o.consensusStates[sessionID]
	if !ok {
		return nil, false
	}
	out := *state
	out.Votes = make(map[string]Vote, len(state.Votes))
	for k, v := range state.Votes {
		out.Votes[k] = v
	}
	return &out, true
}

// AddArtifact stores a named artifact in the session's shared context.
func (o *Orchestrator) AddArtifact(sessionID, name, content string) error {
	o.mu.RLock()
	session, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	session.Context.SetArtifact(name, content)
	return nil
}

// AddFact appends a fact to the session's shared context.
func (o *Orchestrator) AddFact(sessionID, fact string) error {
	o.mu.RLock()
	session, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	session.Context.AddFact(fact)
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// PauseSession transitions active → paused. Any other state is a no-op.
func (o *Orchestrator) PauseSession(id string) (*Session, error) {
	return o.transition(id, SessionActive, SessionPaused)
}

// ResumeSession transitions paused → active. Any other state is a no-op.
func (o *Orchestrator) ResumeSession(id string) (*Session, error) {
	return o.transition(id, SessionPaused, SessionActive)
}

// transition moves a session from one status to another; any other current
// status leaves the session untouched.
func (o *Orchestrator) transition(id string, from, to SessionStatus) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if session.Status == from {
		session.Status = to
	}
	return session.snapshot(), nil
}

// CancelSession moves a non-terminal session to cancelled. Idempotent.
func (o *Orchestrator) CancelSession(id string) (*Session, error) {
	o.mu.Lock()
	session, ok := o.sessions[id]
	if ok && !session.Status.IsTerminal() {
		session.Status = SessionCancelled
	}
	var snapshot *Session
	if ok {
		snapshot = session.snapshot()
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return snapshot, nil
}

// EndSession finalizes a session and produces the collaboration result.
// Consensus-reached status is preserved; otherwise the session completes or
// fails according to success.
func (o *Orchestrator) EndSession(id string, success bool) (*CollaborationResult, error) {
	o.mu.Lock()
	session, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("session %s not found", id)
	}
	if !session.Status.IsTerminal() {
		if success {
			session.Status = SessionCompletedStatus
		} else {
			session.Status = SessionFailed
		}
	}
	snapshot := session.snapshot()
	o.mu.Unlock()

	result := o.buildResult(snapshot)
	o.emit(SessionCompleted{
		SessionID:     id,
		TotalTurns:    snapshot.CurrentTurn,
		MessageCount:  len(snapshot.Messages),
		DecisionCount: len(result.Decisions),
	})
	o.logger.Info("session ended",
		zap.String("session_id", id),
		zap.String("status", string(snapshot.Status)),
		zap.Int("turns", snapshot.CurrentTurn))
	return result, nil
}

// buildResult summarizes a finished session.
func (o *Orchestrator) buildResult(session *Session) *CollaborationResult {
	decisions := session.Context.Decisions()

	outcome := "Session completed"
	switch {
	case session.Status == SessionConsensusReached:
		outcome = "Consensus reached"
	case len(decisions) > 0:
		outcome = fmt.Sprintf("Decided: %s", decisions[len(decisions)-1].Description)
	case len(session.Messages) > 0:
		outcome = clip(session.Messages[len(session.Messages)-1].Content, 200)
	}

	byRole := make(map[Role]int)
	for _, p := range session.Participants {
		byRole[p.Role] += p.MessageCount
	}

	return &CollaborationResult{
		SessionID:      session.ID,
		Goal:           session.Goal,
		Success:        session.Status == SessionCompletedStatus || session.Status == SessionConsensusReached,
		Outcome:        outcome,
		Decisions:      decisions,
		Artifacts:      session.Context.Artifacts(),
		TotalTurns:     session.CurrentTurn,
		MessageCount:   len(session.Messages),
		MessagesByRole: byRole,
		DurationMs:     time.Since(session.CreatedAt).Milliseconds(),
	}
}

// ============================================================================
// Introspection
// ============================================================================

// GetSession returns a snapshot of a session.
func (o *Orchestrator) GetSession(id string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	session, ok := o.sessions[id]
	if !ok {
		return nil, false
	}
	return session.snapshot(), true
}

// Stats summarizes orchestrator-wide counters.
type Stats struct {
	TotalSessions  int
	ActiveSessions int
	TotalMessages  int
	TotalTurns     int
}

// GetStats returns orchestrator-wide counters.
func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stats := Stats{TotalSessions: len(o.sessions)}
	for _, s := range o.sessions {
		if s.Status.IsActive() {
			stats.ActiveSessions++
		}
		stats.TotalMessages += len(s.Messages)
		stats.TotalTurns += s.CurrentTurn
	}
	return stats
}

// ClearSessions drops all sessions and consensus states.
func (o *Orchestrator) ClearSessions() {
	o.mu.Lock()
	o.sessions = make(map[string]*Session)
	o.consensusStates = make(map[string]*ConsensusState)
	o.mu.Unlock()
}

// ============================================================================
// Listeners
// ============================================================================

// AddListener subscribes to session events and returns a removal token.
func (o *Orchestrator) AddListener(fn Listener) string {
	id := uuid.New().String()
	o.mu.Lock()
	o.listeners[id] = fn
	o.mu.Unlock()
	return id
}

// RemoveListener unsubscribes a listener by its token.
func (o *Orchestrator) RemoveListener(id string) {
	o.mu.Lock()
	delete(o.listeners, id)
	o.mu.Unlock()
}

// emit delivers an event to a snapshot of listeners, isolating panics.
func (o *Orchestrator) emit(event Event) {
	o.mu.RLock()
	listeners := make([]Listener, 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Warn("collab listener panicked", zap.Any("panic", r))
				}
			}()
			fn(event)
		}()
	}
}

func (o *Orchestrator) lockSession(id string) *sync.Mutex {
	lock, _ := o.sessionLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
