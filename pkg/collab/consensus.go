// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package collab

import "math"

// DefaultConsensusThreshold is the approval fraction a proposal needs.
const DefaultConsensusThreshold = 0.66

// tally counts approvals and rejections.
func (cs *ConsensusState) tally() (approvals, rejections int) {
	for _, v := range cs.Votes {
		if v.Approve {
			approvals++
		} else {
			rejections++
		}
	}
	return approvals, rejections
}

// ApprovalPercentage is approvals over total votes, 0 with no votes.
func (cs *ConsensusState) ApprovalPercentage() float64 {
	approvals, rejections := cs.tally()
	total := approvals + rejections
	if total == 0 {
		return 0
	}
	return float64(approvals) / float64(total)
}

// evaluate recomputes the proposal status. Accepted once every participant
// has voted and the approval fraction meets the threshold; rejected as soon
// as enough rejections make acceptance impossible.
func (cs *ConsensusState) evaluate(participantCount int, threshold float64) ConsensusStatus {
	if cs.Status != ConsensusPending {
		return cs.Status
	}
	approvals, rejections := cs.tally()
	total := approvals + rejections

	if total >= participantCount && cs.ApprovalPercentage() >= threshold {
		cs.Status = ConsensusAccepted
		return cs.Status
	}

	needed := int(math.Ceil(float64(participantCount) * threshold))
	if rejections > participantCount-needed {
		cs.Status = ConsensusRejected
	}
	return cs.Status
}
