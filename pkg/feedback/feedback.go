// Package feedback implements C7, the Feedback Store's round-scoped
// predicates and aggregation (§4.7). The read-modify-write cycle here is
// coupled to the phase state machine, per §1, so it reads the active
// participant set from pkg/registry directly rather than going back
// through the repository on every check.
package feedback

import (
	"context"
	"math"

	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/registry"
	"github.com/clinround/sessioncore/pkg/repo"
)

// GivenByRole reports whether some active participant holding role has
// submitted feedback for (caseID, round) (§4.7 feedbackGivenByRole).
func GivenByRole(ctx context.Context, fr repo.FeedbackRepo, reg *registry.Registry, sessionID, caseID string, round int, role model.Role) (bool, error) {
	actives := reg.ActiveByRole(role)
	if len(actives) == 0 {
		return false, nil
	}

	rows, err := fr.FindByRound(ctx, sessionID, caseID, round)
	if err != nil {
		return false, err
	}

	senders := make(map[uint32]bool, len(rows))
	for _, f := range rows {
		senders[f.SenderUserID] = true
	}

	for _, p := range actives {
		if senders[p.UserID] {
			return true, nil
		}
	}
	return false, nil
}

// GatingSatisfied implements §4.7 gatingSatisfied: PATIENT must have
// submitted, and OBSERVER must have submitted if any active observer
// exists.
func GatingSatisfied(ctx context.Context, fr repo.FeedbackRepo, reg *registry.Registry, sessionID, caseID string, round int) (bool, error) {
	patientOK, err := GivenByRole(ctx, fr, reg, sessionID, caseID, round, model.Patient)
	if err != nil {
		return false, err
	}
	if !patientOK {
		return false, nil
	}

	if len(reg.ActiveByRole(model.Observer)) == 0 {
		return true, nil
	}

	return GivenByRole(ctx, fr, reg, sessionID, caseID, round, model.Observer)
}

// ValidationError is returned by ValidateSubmission (§7 Validation kind,
// SPEC_FULL.md §12.3).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "feedback: " + e.Reason }

// ValidateSubmission enforces the criteria-score shape implied by §3's
// Feedback invariants: a non-empty comment, and every criterion has
// either a direct score or sub-scores (not both, not neither), each score
// in [0,10].
func ValidateSubmission(comment string, criteria []model.Criterion) error {
	if comment == "" {
		return &ValidationError{Reason: "comment must not be empty"}
	}
	if len(criteria) == 0 {
		return &ValidationError{Reason: "criteriaScores must not be empty"}
	}

	for _, c := range criteria {
		hasDirect := c.Score != nil
		hasSub := len(c.SubScores) > 0
		if hasDirect == hasSub {
			return &ValidationError{Reason: "criterion " + c.Name + " must have either a score or sub-scores, not both or neither"}
		}
		if hasDirect && (*c.Score < 0 || *c.Score > 10) {
			return &ValidationError{Reason: "criterion " + c.Name + " score out of range [0,10]"}
		}
		for _, s := range c.SubScores {
			if s < 0 || s > 10 {
				return &ValidationError{Reason: "criterion " + c.Name + " sub-score out of range [0,10]"}
			}
		}
	}
	return nil
}

// BuildAndSubmit computes overallPerformance and upserts the Feedback row
// keyed uniquely on (sessionID, senderID, caseID, round) — a second
// submission in the same round updates the prior row (§4.1 SubmitFeedback,
// §8 property 8).
func BuildAndSubmit(ctx context.Context, fr repo.FeedbackRepo, newID func() string, f model.Feedback) (*model.Feedback, error) {
	f.OverallPerformance = model.ComputeOverallPerformance(f.CriteriaScores)
	f.OverallPerformanceLegacy = int(math.Round(f.OverallPerformance))
	if f.ID == "" {
		f.ID = newID()
	}
	if err := fr.UpsertOnRound(ctx, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
