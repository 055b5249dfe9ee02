package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/clinround/sessioncore/pkg/bus"
	"github.com/clinround/sessioncore/pkg/logger"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/phase"
	"github.com/clinround/sessioncore/pkg/scheduler"
)

// stopTimerLocked cancels st's armed handle, if any, and clears the
// bookkeeping fields. Callers must hold st.mu. enterPhase always calls
// this before arming a new handle (§4.3: "at most one armed handle per
// session").
func (o *Orchestrator) stopTimerLocked(st *sessionState) {
	if st.timerHandle != (scheduler.Handle{}) {
		o.sched.Cancel(st.timerHandle)
	}
	st.timerHandle = scheduler.Handle{}
	st.timerArmedAt = ""
}

// enterPhase drives st into phase next: validates the edge against the
// transition table, stops any prior timer, stamps phaseStartTime/
// timerStartTimestamp, persists, arms a fresh scheduler callback for timed
// phases, and publishes the PHASE_CHANGE/TIMER_START pair (§4.2, §4.6).
// Every real transition site (Start, SkipPhase, NewCase, ChangeRole, and
// onTimerExpiry's natural advances) routes through here, so validating at
// this single choke point covers them all; the forced any-state->COMPLETED
// edge bypasses enterPhase entirely via endSessionLocked, matching
// ValidateTransition's own doc comment. Callers must hold st.mu.
func (o *Orchestrator) enterPhase(ctx context.Context, st *sessionState, next model.Phase) error {
	if err := phase.ValidateTransition(st.session.Phase, next); err != nil {
		return invalidState(err.Error())
	}

	o.stopTimerLocked(st)

	now := time.Now()
	st.session.Phase = next
	st.session.PhaseStartTime = now

	var startMs int64
	if phase.IsTimed(next) {
		startMs = now.UnixMilli()
		ts := startMs
		st.session.TimerStartTimestamp = &ts
	} else {
		st.session.TimerStartTimestamp = nil
	}

	if err := o.persistSession(ctx, st); err != nil {
		return err
	}

	duration := phase.Duration(next, st.session.Config.ReadingMinutes, st.session.Config.ConsultationMinutes, o.feedbackTimeout)

	if phase.IsTimed(next) {
		code := st.session.Code
		armed := next
		st.timerHandle = o.sched.Schedule(duration, func() {
			o.onTimerExpiry(code, armed)
		})
		st.timerArmedAt = armed
	}

	o.publishAll(st.session.Code, phase.ChangeEnvelopes(st.session.Code, next, duration, startMs))
	return nil
}

// onTimerExpiry is the scheduler callback armed by enterPhase. It
// re-acquires the session lock and re-checks the phase before acting, so
// a callback that lost a race to a concurrent Skip/Leave/NewCase becomes a
// no-op (§4.3, §8 property 3).
func (o *Orchestrator) onTimerExpiry(code string, armedPhase model.Phase) {
	v, ok := o.sessions.Load(code)
	if !ok {
		return
	}
	st := v.(*sessionState)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted || st.session.Phase != armedPhase {
		return
	}

	next, ok := phase.NaturalNext(armedPhase)
	if !ok {
		return
	}

	ctx := o.ctx

	if next == model.Completed {
		if err := o.endSessionLocked(ctx, st, "Session completed successfully"); err != nil {
			logger.Error("orchestrator: end session on timer expiry failed for %s: %v", code, err)
		}
		return
	}

	if err := o.enterPhase(ctx, st, next); err != nil {
		logger.Error("orchestrator: timer-driven transition failed for %s: %v", code, err)
		return
	}
	o.publish(code, o.sessionUpdateEnvelope(st))
}

// endSessionLocked implements the common tail of §4.8's endgame rules and
// the natural FEEDBACK timer expiry: cancel the timer, force COMPLETED,
// persist, publish PHASE_CHANGE + SESSION_ENDED, and drop the session from
// the live registry. Callers must hold st.mu.
func (o *Orchestrator) endSessionLocked(ctx context.Context, st *sessionState, reason string) error {
	o.stopTimerLocked(st)

	now := time.Now()
	st.session.Phase = model.Completed
	st.session.Status = model.StatusCompleted
	st.session.EndedAt = &now
	st.session.TimerStartTimestamp = nil

	if err := o.persistSession(ctx, st); err != nil {
		return err
	}

	code := st.session.Code
	o.publishAll(code, phase.ChangeEnvelopes(code, model.Completed, 0, now.UnixMilli()))
	o.publish(code, model.Envelope{
		Type:        model.EnvSessionEnded,
		SessionCode: code,
		Payload:     model.SessionEndedPayload{Reason: reason, Timestamp: now.UnixMilli()},
	})

	o.forget(code)
	return nil
}

// broadcastCaseData loads st's selected case and sends every active
// participant their role-filtered view over their private per-user topic
// (§4.9, §4.10). It is called on entering READING from Start or NewCase
// only; other phase entries reuse the existing case without re-emission
// (§9 Open Questions).
func (o *Orchestrator) broadcastCaseData(ctx context.Context, st *sessionState) error {
	if st.session.SelectedCaseID == nil {
		return nil
	}

	c, err := o.repo.Cases.FindByID(ctx, *st.session.SelectedCaseID)
	if err != nil {
		return transient(fmt.Errorf("orchestrator: load selected case: %w", err))
	}

	for _, p := range st.reg.Active() {
		env := o.caseDataEnvelope(st.session.Code, *c, p.Role)
		o.bus.Publish(bus.PrivateTopic(st.session.Code, p.UserID), env)
	}
	return nil
}
