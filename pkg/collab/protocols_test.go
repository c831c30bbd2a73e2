// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collab

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSession_RoundRobin(t *testing.T) {
	o := newTestOrchestrator(t, roleEcho())
	s := o.CreateSession("s", "ship the feature",
		[]Role{RoleArchitect, RoleImplementer}, ProtocolRoundRobin)

	result, err := o.ExecuteSession(context.Background(), s.ID, 2)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.TotalTurns)
	assert.Equal(t, 4, result.MessageCount)
	assert.Equal(t, "ship the feature", result.Goal)

	got, _ := o.GetSession(s.ID)
	assert.Equal(t, SessionCompletedStatus, got.Status)
}

func TestExecuteSession_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(t, roleEcho())
	_, err := o.ExecuteSession(context.Background(), "session-nope", 1)
	assert.Error(t, err)
}

func TestExecuteSession_DebateStopsOnAgreement(t *testing.T) {
	var calls atomic.Int64
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			n := calls.Add(1)
			if n >= 5 {
				return "I agree, LRU is the right call", nil
			}
			return fmt.Sprintf("the %s holds firm", agent.Role), nil
		}))

	s := o.CreateDebate("eviction policy", RoleArchitect, RoleImplementer)
	result, err := o.ExecuteSession(context.Background(), s.ID, 5)
	require.NoError(t, err)

	// Ten turns were allowed; agreement at message five ended it early.
	assert.Equal(t, 5, result.TotalTurns)
	assert.Equal(t, 5, result.MessageCount)
	assert.Contains(t, result.Outcome, "I agree")
}

func TestExecuteSession_DebateNeedsSubstanceBeforeStopping(t *testing.T) {
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(context.Context, *Agent, string, *Session) (string, error) {
			return "I agree already", nil
		}))

	s := o.CreateDebate("anything", RoleArchitect, RoleReviewer)
	result, err := o.ExecuteSession(context.Background(), s.ID, 5)
	require.NoError(t, err)

	// Agreement in the opening exchange does not count until four
	// messages exist.
	assert.Equal(t, 4, result.MessageCount)
}

func TestExecuteSession_DebateHonorsEarlyConcession(t *testing.T) {
	var calls atomic.Int64
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			if calls.Add(1) == 3 {
				return "fine, I agree with your framing", nil
			}
			return fmt.Sprintf("the %s holds firm", agent.Role), nil
		}))

	s := o.CreateDebate("retry strategy", RoleArchitect, RoleImplementer)
	result, err := o.ExecuteSession(context.Background(), s.ID, 5)
	require.NoError(t, err)

	// The concession landed in message three; the debate ends as soon as
	// the exchange reaches four messages, not only when the newest message
	// concedes.
	assert.Equal(t, 4, result.MessageCount)
	assert.Equal(t, 4, result.TotalTurns)
}

func TestExecuteSession_ConsensusReached(t *testing.T) {
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			return fmt.Sprintf("the %s supports the plan", agent.Role), nil
		}))
	rec := &eventRecorder{}
	o.AddListener(rec.listen)

	s := o.CreateSession("s", "agree on the plan",
		[]Role{RoleArchitect, RoleImplementer, RoleReviewer}, ProtocolConsensus)
	result, err := o.ExecuteSession(context.Background(), s.ID, 3)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Consensus reached", result.Outcome)

	got, _ := o.GetSession(s.ID)
	assert.Equal(t, SessionConsensusReached, got.Status)

	state, ok := o.GetConsensusState(s.ID)
	require.True(t, ok)
	assert.Equal(t, ConsensusAccepted, state.Status)
	assert.Equal(t, 1.0, state.ApprovalPercentage())
	assert.NotEmpty(t, state.Proposal)
	require.Len(t, rec.ofKind("consensus-reached"), 1)
}

func TestExecuteSession_ConsensusRejected(t *testing.T) {
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			if agent.Role == RoleArchitect {
				return "we should do this", nil
			}
			return "I reject this plan", nil
		}))

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer, RoleReviewer}, ProtocolConsensus)
	_, err := o.ExecuteSession(context.Background(), s.ID, 2)
	require.NoError(t, err)

	state, ok := o.GetConsensusState(s.ID)
	require.True(t, ok)
	assert.Equal(t, ConsensusRejected, state.Status)

	got, _ := o.GetSession(s.ID)
	assert.NotEqual(t, SessionConsensusReached, got.Status)
}

func TestExecuteSession_Broadcast(t *testing.T) {
	o := newTestOrchestrator(t, roleEcho())
	rec := &eventRecorder{}
	o.AddListener(rec.listen)

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer, RoleReviewer}, ProtocolBroadcast)
	result, err := o.ExecuteSession(context.Background(), s.ID, 2)
	require.NoError(t, err)

	// Everyone speaks once but the turn counter moves only once.
	assert.Equal(t, 3, result.MessageCount)
	assert.Equal(t, 1, result.TotalTurns)
	assert.Len(t, rec.ofKind("message-sent"), 3)
	assert.Len(t, rec.ofKind("turn-advanced"), 1)
}

func TestExecuteSession_LeaderFollower(t *testing.T) {
	var prompts []string
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, prompt string, _ *Session) (string, error) {
			prompts = append(prompts, prompt)
			return fmt.Sprintf("reply from %s", agent.Role), nil
		}))

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer, RoleTester}, ProtocolLeaderFollower)
	result, err := o.ExecuteSession(context.Background(), s.ID, 1)
	require.NoError(t, err)

	// One round: leader, two followers, leader summary.
	assert.Equal(t, 4, result.TotalTurns)
	assert.Equal(t, 2, result.MessagesByRole[RoleArchitect])
	assert.Equal(t, 1, result.MessagesByRole[RoleImplementer])
	assert.Equal(t, 1, result.MessagesByRole[RoleTester])
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[3], "Summarize the round")
}

func TestExecuteSession_LeaderFollowerRealignsEachRound(t *testing.T) {
	o := newTestOrchestrator(t, roleEcho())

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer}, ProtocolLeaderFollower)
	result, err := o.ExecuteSession(context.Background(), s.ID, 2)
	require.NoError(t, err)

	// Each round opens with the leader even though the summary turn shifts
	// the rotation.
	assert.Equal(t, 4, result.MessagesByRole[RoleArchitect])
	assert.Equal(t, 2, result.MessagesByRole[RoleImplementer])

	got, _ := o.GetSession(s.ID)
	wantOrder := []Role{
		RoleArchitect, RoleImplementer, RoleArchitect,
		RoleArchitect, RoleImplementer, RoleArchitect,
	}
	require.Len(t, got.Messages, 6)
	for i, m := range got.Messages {
		assert.Equal(t, wantOrder[i], m.SenderRole, "message %d", i)
	}
}

func TestExecuteSession_LeaderFollowerBreaksOnFailure(t *testing.T) {
	var calls atomic.Int64
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			if calls.Add(1) == 2 {
				return "", fmt.Errorf("follower offline")
			}
			return fmt.Sprintf("reply from %s", agent.Role), nil
		}))

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer}, ProtocolLeaderFollower)
	result, err := o.ExecuteSession(context.Background(), s.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalTurns)
}

func TestExecuteSession_Voting(t *testing.T) {
	o := newTestOrchestrator(t, AgentInvokerFunc(
		func(_ context.Context, agent *Agent, _ string, _ *Session) (string, error) {
			if agent.Role == RoleArchitect {
				return "Proposal: adopt plan A", nil
			}
			return "plan A works for me", nil
		}))
	rec := &eventRecorder{}
	o.AddListener(rec.listen)

	s := o.CreateSession("s", "g",
		[]Role{RoleArchitect, RoleImplementer, RoleReviewer}, ProtocolVoting)
	result, err := o.ExecuteSession(context.Background(), s.ID, 1)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Consensus reached", result.Outcome)

	state, ok := o.GetConsensusState(s.ID)
	require.True(t, ok)
	assert.Equal(t, "Proposal: adopt plan A", state.Proposal)
	assert.Equal(t, ConsensusAccepted, state.Status)
	assert.Len(t, state.Votes, 3)

	// The two non-proposers cast explicit ballot messages.
	got, _ := o.GetSession(s.ID)
	votes := 0
	for _, m := range got.Messages {
		if m.Type == MessageVote {
			votes++
			assert.Equal(t, state.ProposalID, m.ReplyTo)
		}
	}
	assert.Equal(t, 2, votes)
	require.Len(t, rec.ofKind("consensus-reached"), 1)
}

func TestApprovalFromContent(t *testing.T) {
	assert.True(t, approvalFromContent("sounds good to me"))
	assert.True(t, approvalFromContent("I agree with the plan"))
	assert.False(t, approvalFromContent("I must REJECT this"))
	assert.False(t, approvalFromContent("I disagree strongly"))
	assert.False(t, approvalFromContent("veto"))
}
