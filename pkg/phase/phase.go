// Package phase implements C6, the Phase State Machine: the legal
// transition table of §4.2, phase-duration computation, and
// PHASE_CHANGE/TIMER_START envelope construction. Grounded on the
// teacher's provider dispatch (pkg/model/model_router.go switches on a
// closed set of provider-type constants the same way this switches on
// phase constants) and on pkg/operator's timer re-arm sequencing.
package phase

import (
	"fmt"
	"time"

	"github.com/clinround/sessioncore/pkg/model"
)

// Duration returns the configured duration of phase p given the session's
// reading/consultation minutes and the fixed feedback timeout (§4.2).
// WAITING and COMPLETED have no timer (duration 0, not armed).
func Duration(p model.Phase, readingMinutes, consultationMinutes int, feedbackTimeout time.Duration) time.Duration {
	switch p {
	case model.Reading:
		return time.Duration(readingMinutes) * time.Minute
	case model.Consultation:
		return time.Duration(consultationMinutes) * time.Minute
	case model.Feedback:
		return feedbackTimeout
	default:
		return 0
	}
}

// IsTimed reports whether p is a phase the orchestrator arms a scheduler
// callback for (§4.2, §4.6).
func IsTimed(p model.Phase) bool {
	switch p {
	case model.Reading, model.Consultation, model.Feedback:
		return true
	}
	return false
}

// NaturalNext is the phase a timer expiry in p transitions to when no
// Skip/NewCase/ChangeRole intervenes (§4.2, §4.6 step 3):
// READING->CONSULTATION, CONSULTATION->FEEDBACK, FEEDBACK->COMPLETED.
func NaturalNext(p model.Phase) (model.Phase, bool) {
	switch p {
	case model.Reading:
		return model.Consultation, true
	case model.Consultation:
		return model.Feedback, true
	case model.Feedback:
		return model.Completed, true
	default:
		return "", false
	}
}

// CanSkip reports whether Skip is legal in phase p (§4.1 SkipPhase: only
// READING and CONSULTATION).
func CanSkip(p model.Phase) bool {
	return p == model.Reading || p == model.Consultation
}

// ChangeEnvelopes builds the ordered PHASE_CHANGE + TIMER_START pair for
// entering phase p at startTimestamp (epoch-ms) with the given duration.
// Ordering is significant: PHASE_CHANGE must be published strictly before
// TIMER_START for the same transition (§4.2, §5, §8 property 2). For
// untimed phases (WAITING/COMPLETED) only PHASE_CHANGE is returned.
func ChangeEnvelopes(code string, p model.Phase, duration time.Duration, startTimestamp int64) []model.Envelope {
	envs := []model.Envelope{
		{
			Type:        model.EnvPhaseChange,
			SessionCode: code,
			Payload: model.PhaseChangePayload{
				Phase:           p,
				DurationSeconds: int(duration / time.Second),
				StartTimestamp:  startTimestamp,
			},
		},
	}

	if IsTimed(p) {
		envs = append(envs, model.Envelope{
			Type:        model.EnvTimerStart,
			SessionCode: code,
			Payload: model.TimerStartPayload{
				Phase:           p,
				DurationSeconds: int(duration / time.Second),
				StartTimestamp:  startTimestamp,
			},
		})
	}

	return envs
}

// ValidateTransition reports an error unless from->to is one of the edges
// in the transition table of §4.2. endSession's any-state->COMPLETED edge
// is not checked by this function or by any caller: endSessionLocked
// applies it unconditionally.
func ValidateTransition(from, to model.Phase) error {
	legal := map[model.Phase][]model.Phase{
		model.Waiting:      {model.Reading},
		model.Reading:       {model.Consultation, model.Reading},
		model.Consultation: {model.Feedback},
		model.Feedback:     {model.Completed, model.Reading, model.Waiting},
	}

	for _, t := range legal[from] {
		if t == to {
			return nil
		}
	}
	return fmt.Errorf("phase: illegal transition %s -> %s", from, to)
}
