// Package quorum reduces a set of node responses to a single verdict.
package quorum

import (
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// Verdict is the outcome of an all-respond evaluation.
type Verdict struct {
	AllGood      bool
	Good         []*fab.NodeResponse
	Bad          []*fab.NodeResponse
	FirstFailure *fab.NodeResponse
}

// Evaluate marks the set failed if any targeted node answered badly. Good
// responses are still returned so callers can log them.
func Evaluate(set *fab.NodeResponseSet) Verdict {
	v := Verdict{}
	if set == nil || len(set.Responses) == 0 {
		return v
	}

	for i, r := range set.Responses {
		if r == nil {
			r = missingResponse(set, i)
		}
		if r.Good() {
			v.Good = append(v.Good, r)
			continue
		}
		v.Bad = append(v.Bad, r)
		if v.FirstFailure == nil {
			v.FirstFailure = r
		}
	}
	v.AllGood = len(v.Bad) == 0
	return v
}

// Check evaluates the set and converts a failed verdict into an EndorsementError.
func Check(set *fab.NodeResponseSet) (Verdict, error) {
	v := Evaluate(set)
	if v.AllGood {
		return v, nil
	}

	txID := ""
	if set != nil && set.Proposal != nil {
		txID = set.Proposal.TxID.ID
	}
	if len(v.Bad) == 0 {
		return v, fab.Preconditionf("no responses collected for %s", txID)
	}
	return v, &fab.EndorsementError{TxID: txID, Bad: v.Bad, Good: len(v.Good)}
}

// missingResponse stands in for a slot no node answered.
func missingResponse(set *fab.NodeResponseSet, i int) *fab.NodeResponse {
	r := &fab.NodeResponse{Err: errors.Errorf("no response recorded for target %d", i)}
	if set.Proposal != nil && i < len(set.Proposal.Targets) {
		r.Node = set.Proposal.Targets[i]
		r.Err = errors.Errorf("no response recorded for %s", r.Node.Name)
	}
	return r
}
