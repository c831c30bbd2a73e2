// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collab

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// defaultMaxRounds bounds ExecuteSession when the caller passes no limit.
const defaultMaxRounds = 3

// ExecuteSession drives a session end to end: starts it if needed, runs the
// protocol loop for at most maxRounds, then finalizes and returns the
// collaboration result.
func (o *Orchestrator) ExecuteSession(ctx context.Context, sessionID string, maxRounds int) (*CollaborationResult, error) {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	session, ok := o.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if session.Status == SessionCreated {
		if _, err := o.StartSession(sessionID); err != nil {
			return nil, err
		}
		session, _ = o.GetSession(sessionID)
	}

	switch session.Protocol {
	case ProtocolDebate:
		o.runDebate(ctx, sessionID, maxRounds)
	case ProtocolConsensus:
		o.runConsensus(ctx, sessionID, maxRounds)
	case ProtocolBroadcast:
		// Single pass: every seat speaks once within one turn.
		o.runBroadcastRound(ctx, sessionID)
	case ProtocolLeaderFollower:
		o.runLeaderFollower(ctx, sessionID, maxRounds)
	case ProtocolVoting:
		o.runVoting(ctx, sessionID)
	default:
		// Round-robin and free-form: plain rotation for the budget.
		o.RunUntil(ctx, sessionID, maxRounds*len(session.Participants), nil)
	}

	return o.EndSession(sessionID, true)
}

// runDebate alternates the two sides until one concedes. The concession
// signal is an "agree" anywhere in the transcript once the exchange has had
// at least four messages of substance.
func (o *Orchestrator) runDebate(ctx context.Context, sessionID string, rounds int) {
	o.RunUntil(ctx, sessionID, 2*rounds, func(session *Session, message *Message) bool {
		if message == nil || len(session.Messages) < 4 {
			return false
		}
		for _, m := range session.Messages {
			if strings.Contains(strings.ToLower(m.Content), "agree") {
				return true
			}
		}
		return false
	})
}

// runConsensus runs an opening round, promotes the last contribution to the
// proposal under vote, then keeps polling every seat each round until the
// proposal is accepted or rejected.
func (o *Orchestrator) runConsensus(ctx context.Context, sessionID string, rounds int) {
	o.RunRound(ctx, sessionID)

	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if _, exists := o.consensusStates[sessionID]; !exists {
		state := &ConsensusState{
			Votes:  make(map[string]Vote),
			Status: ConsensusPending,
		}
		if proposal := session.LastMessage(); proposal != nil {
			state.ProposalID = proposal.ID
			state.Proposal = proposal.Content
		}
		o.consensusStates[sessionID] = state
	}
	o.mu.Unlock()

	for round := 0; round < rounds; round++ {
		results := o.RunRound(ctx, sessionID)
		for _, r := range results {
			if !r.Success || r.Message == nil {
				continue
			}
			o.RecordVote(sessionID, r.Message.SenderID, approvalFromContent(r.Message.Content), r.Message.Content)
		}

		state, ok := o.GetConsensusState(sessionID)
		if ok && state.Status != ConsensusPending {
			return
		}
	}
}

// runBroadcastRound has every participant answer the same context within a
// single turn. One TurnAdvanced fires per round regardless of seat count.
func (o *Orchestrator) runBroadcastRound(ctx context.Context, sessionID string) bool {
	lock := o.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.RLock()
	session, ok := o.sessions[sessionID]
	active := ok && session.Status.IsActive() && session.CurrentTurn < session.MaxTurns
	var seats []*Participant
	if active {
		seats = append(seats, session.Participants...)
	}
	o.mu.RUnlock()
	if !active {
		return false
	}

	var sent []MessageSent
	for _, p := range seats {
		o.mu.RLock()
		agent := p.Agent
		var prompt string
		var snap *Session
		if agent != nil {
			prompt = o.buildPrompt(session, p, "")
			snap = session.snapshot()
		}
		o.mu.RUnlock()
		if agent == nil {
			continue
		}

		content, err := o.invoker.Invoke(ctx, agent, prompt, snap)
		if err != nil {
			o.logger.Warn("broadcast invocation failed",
				zap.String("session_id", sessionID),
				zap.String("role", string(p.Role)))
			continue
		}

		o.mu.Lock()
		message := o.appendMessage(session, p, MessageContribution, content, "")
		o.mu.Unlock()
		sent = append(sent, MessageSent{
			SessionID:   sessionID,
			MessageID:   message.ID,
			SenderRole:  p.Role,
			MessageType: message.Type,
		})
	}

	o.mu.Lock()
	session.CurrentTurn++
	turn := TurnAdvanced{SessionID: sessionID, NewTurn: session.CurrentTurn}
	if next := session.CurrentParticipant(); next != nil {
		turn.NextRole = next.Role
	}
	o.mu.Unlock()

	for _, ev := range sent {
		o.emit(ev)
	}
	o.emit(turn)
	return len(sent) > 0
}

// runLeaderFollower runs rounds of leader direction, follower responses,
// and a leader summary. The first seat is the leader. A failed turn ends
// the loop.
func (o *Orchestrator) runLeaderFollower(ctx context.Context, sessionID string, rounds int) {
	session, ok := o.GetSession(sessionID)
	if !ok || len(session.Participants) == 0 {
		return
	}
	seats := len(session.Participants)

	for round := 0; round < rounds; round++ {
		// The summary turn shifts the rotation, so each round starts by
		// realigning the turn pointer to the leader.
		o.alignToLeader(sessionID)

		// Leader speaks, then every follower, then the rotation lands back
		// on the leader for a summary turn.
		for i := 0; i < seats; i++ {
			if r := o.ExecuteTurn(ctx, sessionID, ""); !r.Success {
				return
			}
		}
		if r := o.ExecuteTurn(ctx, sessionID, "Summarize the round and direct the next step."); !r.Success {
			return
		}
	}
}

// alignToLeader advances the turn pointer to the next rotation boundary so
// the first seat speaks next. No messages or events are produced.
func (o *Orchestrator) alignToLeader(sessionID string) {
	lock := o.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[sessionID]
	if !ok || len(session.Participants) == 0 {
		return
	}
	if r := session.CurrentTurn % len(session.Participants); r != 0 {
		session.CurrentTurn += len(session.Participants) - r
	}
}

// runVoting runs one contribution round, promotes the first proposal-shaped
// message, then records a vote from every other seat.
func (o *Orchestrator) runVoting(ctx context.Context, sessionID string) {
	results := o.RunRound(ctx, sessionID)

	// Prefer an explicit proposal message; fall back to the first
	// contribution of the round.
	var proposal *Message
	for _, r := range results {
		if r.Success && r.Message != nil && r.Message.Type == MessageProposal {
			proposal = r.Message
			break
		}
	}
	if proposal == nil {
		for _, r := range results {
			if r.Success && r.Message != nil {
				proposal = r.Message
				break
			}
		}
	}
	if proposal == nil {
		return
	}

	o.mu.Lock()
	if _, exists := o.consensusStates[sessionID]; !exists {
		o.consensusStates[sessionID] = &ConsensusState{
			ProposalID: proposal.ID,
			Proposal:   proposal.Content,
			Votes:      make(map[string]Vote),
			Status:     ConsensusPending,
		}
	}
	session, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return
	}

	// The proposer stands behind their own proposal.
	o.RecordVote(sessionID, proposal.SenderID, true, "proposer")

	for _, r := range results {
		if !r.Success || r.Message == nil || r.Message.ID == proposal.ID {
			continue
		}
		approve := approvalFromContent(r.Message.Content)
		vote := "approve"
		if !approve {
			vote = "reject"
		}

		lock := o.lockSession(sessionID)
		lock.Lock()
		o.mu.Lock()
		var seat *Participant
		for _, p := range session.Participants {
			if p.ID == r.Message.SenderID {
				seat = p
				break
			}
		}
		var ballot *MessageSent
		if seat != nil {
			message := o.appendMessage(session, seat, MessageVote, fmt.Sprintf("Vote: %s", vote), proposal.ID)
			ballot = &MessageSent{
				SessionID:   sessionID,
				MessageID:   message.ID,
				SenderRole:  seat.Role,
				MessageType: MessageVote,
			}
		}
		o.mu.Unlock()
		lock.Unlock()
		if ballot != nil {
			o.emit(*ballot)
		}

		o.RecordVote(sessionID, r.Message.SenderID, approve, r.Message.Content)
	}
}

// approvalFromContent reads a position out of free text. Explicit rejection
// words veto, otherwise the contribution counts as approval.
func approvalFromContent(content string) bool {
	lower := strings.ToLower(content)
	for _, word := range []string{"reject", "disagree", "oppose", "veto"} {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return true
}
