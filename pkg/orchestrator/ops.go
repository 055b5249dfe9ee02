package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinround/sessioncore/pkg/feedback"
	"github.com/clinround/sessioncore/pkg/logger"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/phase"
	"github.com/clinround/sessioncore/pkg/recall"
	"github.com/clinround/sessioncore/pkg/registry"
	"github.com/clinround/sessioncore/pkg/repo"
)

// Create implements §4.1 Create: a new session in CREATED/WAITING with
// the caller recorded as the DOCTOR participant.
func (o *Orchestrator) Create(ctx context.Context, creatorUserID uint32, creatorName, title string, cfg model.Config) (*model.Session, error) {
	code, err := o.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := model.Session{
		ID:              newID(),
		Code:            code,
		Title:           title,
		Status:          model.StatusCreated,
		Phase:           model.Waiting,
		Config:          cfg,
		CurrentRound:    1,
		CreatedByUserID: creatorUserID,
		CreatedAt:       now,
	}
	if err := o.repo.Sessions.Save(ctx, &sess); err != nil {
		return nil, transient(fmt.Errorf("orchestrator: save new session: %w", err))
	}

	p := &model.Participant{
		SessionID: sess.ID,
		UserID:    creatorUserID,
		UserName:  creatorName,
		Role:      model.Doctor,
		IsActive:  true,
		JoinedAt:  now,
	}
	if err := o.repo.Participants.Save(ctx, p); err != nil {
		return nil, transient(fmt.Errorf("orchestrator: save creator participant: %w", err))
	}

	reg := registry.New()
	reg.Load([]*model.Participant{p})
	st := &sessionState{session: sess, reg: reg}
	o.registerNew(st)

	return &st.session, nil
}

// Join implements §4.1/§4.4 Join, including the reactivation path and the
// "session activity singleton" side effect carried out after this
// session's own lock is released (see deactivateElsewhere).
func (o *Orchestrator) Join(ctx context.Context, code string, requestedRole model.Role, userID uint32, userName string) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()

	if st.session.Status == model.StatusCompleted {
		st.mu.Unlock()
		return nil, invalidState("session " + code + " has completed")
	}
	if requestedRole == model.Doctor && userID != st.session.CreatedByUserID {
		st.mu.Unlock()
		return nil, forbidden("only the session creator may hold DOCTOR")
	}

	existing, ferr := o.repo.Participants.FindBySessionIDAndUserID(ctx, st.session.ID, userID)
	if ferr != nil && ferr != repo.ErrNotFound {
		st.mu.Unlock()
		return nil, transient(fmt.Errorf("orchestrator: load participant: %w", ferr))
	}

	if requestedRole != model.Doctor {
		available := st.reg.AvailableRoles()
		ok := false
		for _, r := range available {
			if r == requestedRole {
				ok = true
				break
			}
		}
		if !ok {
			st.mu.Unlock()
			return nil, conflict("role " + string(requestedRole) + " is not available")
		}
	}

	var p *model.Participant
	if existing != nil {
		existing.Role = requestedRole
		existing.UserName = userName
		existing.IsActive = true
		p = existing
	} else {
		p = &model.Participant{
			SessionID: st.session.ID,
			UserID:    userID,
			UserName:  userName,
			Role:      requestedRole,
			IsActive:  true,
			JoinedAt:  time.Now(),
		}
	}

	if err := o.persistParticipant(ctx, p); err != nil {
		st.mu.Unlock()
		return nil, err
	}
	st.reg.Put(p)

	o.publish(code, o.participantUpdateEnvelope(st))
	sessionCopy := st.session
	sessionID := st.session.ID
	st.mu.Unlock()

	o.deactivateElsewhere(ctx, sessionID, code, userID)

	return &sessionCopy, nil
}

// deactivateElsewhere implements the "session activity singleton" rule
// (§4.4): a user successfully joining one session is deactivated in every
// other non-completed session. It runs only after the joining session's
// lock is released, so no two session locks are ever held at once. It
// walks the live session table rather than a repository query, relying on
// §1's single-process-authority assumption: every resident session is
// present in o.sessions (a session only absent here has no active
// in-memory participants of this process to deactivate).
func (o *Orchestrator) deactivateElsewhere(ctx context.Context, joinedSessionID, joinedCode string, userID uint32) {
	o.sessions.Range(func(key, value any) bool {
		otherCode := key.(string)
		if otherCode == joinedCode {
			return true
		}
		ost := value.(*sessionState)

		ost.mu.Lock()
		defer ost.mu.Unlock()

		if ost.session.ID == joinedSessionID || ost.session.Status == model.StatusCompleted {
			return true
		}
		p, ok := ost.reg.Get(userID)
		if !ok || !p.IsActive {
			return true
		}

		p.IsActive = false
		if err := o.persistParticipant(ctx, p); err != nil {
			logger.Warn("orchestrator: deactivate-elsewhere persist failed for user %d in session %s: %v", userID, otherCode, err)
			return true
		}
		ost.reg.Put(p)

		active := ost.reg.Active()
		if len(active) < 2 {
			if err := o.endSessionLocked(ctx, ost, "insufficient_participants"); err != nil {
				logger.Warn("orchestrator: endgame after deactivate-elsewhere failed for session %s: %v", otherCode, err)
			}
			return true
		}
		if !ost.reg.HasActiveDoctor() && ost.session.Phase != model.Completed {
			if err := o.endSessionLocked(ctx, ost, "doctor_left"); err != nil {
				logger.Warn("orchestrator: endgame after deactivate-elsewhere failed for session %s: %v", otherCode, err)
			}
			return true
		}

		o.publish(otherCode, model.Envelope{
			Type:        model.EnvUserLeft,
			SessionCode: otherCode,
			Payload:     model.UserLeftPayload{UserID: p.UserID, UserName: p.UserName, UserRole: p.Role},
		})
		o.publish(otherCode, o.participantUpdateEnvelope(ost))
		return true
	})
}

// requireActiveDoctor enforces the common Forbidden check of §4.1: Start,
// SkipPhase, NewCase, and ChangeRole are DOCTOR-only.
func (o *Orchestrator) requireActiveDoctor(st *sessionState, userID uint32) error {
	p, ok := st.reg.Get(userID)
	if !ok || !p.IsActive || p.Role != model.Doctor {
		return forbidden("operation requires the session's active DOCTOR")
	}
	return nil
}

// pickCase selects a case per the session's configured selector — a
// topic list or a recall date range — excluding usedCaseIds (§3 invariant
// iv, §8 property 7). repo.ErrNotFound is returned unwrapped so callers
// can distinguish "topics exhausted" from a downstream failure.
func (o *Orchestrator) pickCase(ctx context.Context, st *sessionState) (*model.Case, error) {
	cfg := st.session.Config

	var c *model.Case
	var err error
	if cfg.RecallDateRange != nil {
		c, err = o.repo.Cases.PickRandomByDateRange(ctx, cfg.RecallDateRange.From, cfg.RecallDateRange.To, st.session.UsedCaseIDs)
	} else {
		c, err = o.repo.Cases.PickRandomByCategoryNames(ctx, cfg.SelectedTopics, st.session.UsedCaseIDs)
	}
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, repo.ErrNotFound
		}
		return nil, transient(fmt.Errorf("orchestrator: pick case: %w", err))
	}
	return c, nil
}

func topicLabel(cfg model.Config) string {
	if cfg.RecallDateRange != nil {
		return "recall date range"
	}
	return strings.Join(cfg.SelectedTopics, ", ")
}

// Configure implements §4.1 Configure: DOCTOR-only, WAITING-only, binds
// config and selects the session's first case.
func (o *Orchestrator) Configure(ctx context.Context, code string, userID uint32, cfg model.Config) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}
	if err := o.requireActiveDoctor(st, userID); err != nil {
		return nil, err
	}
	if st.session.Phase != model.Waiting {
		return nil, invalidState("configure is only legal in WAITING")
	}
	if cfg.ReadingMinutes <= 0 || cfg.ConsultationMinutes <= 0 {
		return nil, validation("readingMinutes and consultationMinutes must be positive")
	}

	st.session.Config = cfg

	c, err := o.pickCase(ctx, st)
	if err == repo.ErrNotFound {
		return nil, conflict("no case available for the selected topics")
	}
	if err != nil {
		return nil, err
	}

	st.session.SelectedCaseID = &c.ID
	st.session.UsedCaseIDs = append(st.session.UsedCaseIDs, c.ID)

	if err := o.persistSession(ctx, st); err != nil {
		return nil, err
	}

	o.publish(code, o.sessionUpdateEnvelope(st))
	return &st.session, nil
}

// Start implements §4.1 Start: DOCTOR-only, WAITING-only, requires at
// least one participant, transitions into READING and sends the first
// CASE_DATA round (§9 Open Questions: case-data on entering READING).
func (o *Orchestrator) Start(ctx context.Context, code string, userID uint32) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}
	if err := o.requireActiveDoctor(st, userID); err != nil {
		return nil, err
	}
	if st.session.Phase != model.Waiting {
		return nil, invalidState("start is only legal in WAITING")
	}
	if st.reg.ActiveCount() < 1 {
		return nil, invalidState("at least one participant is required to start")
	}

	st.session.Status = model.StatusInProgress
	now := time.Now()
	st.session.StartedAt = &now

	if err := o.enterPhase(ctx, st, model.Reading); err != nil {
		return nil, err
	}

	o.publish(code, o.sessionUpdateEnvelope(st))
	if err := o.broadcastCaseData(ctx, st); err != nil {
		return nil, err
	}
	return &st.session, nil
}

// SkipPhase implements §4.1/§4.2 SkipPhase: DOCTOR-only, legal only in
// READING/CONSULTATION, immediately forces the natural next transition.
func (o *Orchestrator) SkipPhase(ctx context.Context, code string, userID uint32) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}
	if err := o.requireActiveDoctor(st, userID); err != nil {
		return nil, err
	}
	if !phase.CanSkip(st.session.Phase) {
		return nil, invalidState("skip is only legal in READING or CONSULTATION")
	}

	next, _ := phase.NaturalNext(st.session.Phase)
	if err := o.enterPhase(ctx, st, next); err != nil {
		return nil, err
	}
	o.publish(code, o.sessionUpdateEnvelope(st))
	return &st.session, nil
}

// NewCase implements §4.1/§4.7 NewCase: DOCTOR-only, legal in READING
// freely or in FEEDBACK when gated, picks a fresh case excluding
// usedCaseIds, bumps currentRound, and re-enters READING.
func (o *Orchestrator) NewCase(ctx context.Context, code string, userID uint32) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}
	if err := o.requireActiveDoctor(st, userID); err != nil {
		return nil, err
	}

	switch st.session.Phase {
	case model.Reading:
		// always allowed
	case model.Feedback:
		if st.session.SelectedCaseID == nil {
			return nil, invalidState("no case selected for the current round")
		}
		ok, err := feedback.GatingSatisfied(ctx, o.repo.Feedback, st.reg, st.session.ID, *st.session.SelectedCaseID, st.session.CurrentRound)
		if err != nil {
			return nil, transient(err)
		}
		if !ok {
			return nil, conflict("feedback gating not satisfied for the current round")
		}
	default:
		return nil, invalidState("new case is not legal in phase " + string(st.session.Phase))
	}

	c, err := o.pickCase(ctx, st)
	if err == repo.ErrNotFound {
		hint := recall.Format(ctx, o.recall, topicLabel(st.session.Config), nil)
		o.publish(code, model.Envelope{
			Type:        model.EnvTopicSelectionNeeded,
			SessionCode: code,
			Payload: model.TopicSelectionNeededPayload{
				CompletedTopic: topicLabel(st.session.Config),
				Hint:           hint,
			},
		})
		return nil, conflict("no more cases available for the selected topics")
	}
	if err != nil {
		return nil, err
	}

	st.session.SelectedCaseID = &c.ID
	st.session.UsedCaseIDs = append(st.session.UsedCaseIDs, c.ID)
	st.session.CurrentRound++
	st.reg.ResetCompletionFlags()

	if err := o.enterPhase(ctx, st, model.Reading); err != nil {
		return nil, err
	}

	o.publish(code, o.sessionUpdateEnvelope(st))
	if err := o.broadcastCaseData(ctx, st); err != nil {
		return nil, err
	}
	return &st.session, nil
}

// ChangeRole implements §4.1/§4.2 ChangeRole: DOCTOR-only, gated, in
// FEEDBACK only; clears non-creator role assignments and returns to
// WAITING so the creator can re-run Join for everyone else.
func (o *Orchestrator) ChangeRole(ctx context.Context, code string, userID uint32) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}
	if err := o.requireActiveDoctor(st, userID); err != nil {
		return nil, err
	}
	if st.session.Phase != model.Feedback {
		return nil, invalidState("change-role is only legal in FEEDBACK")
	}
	if st.session.SelectedCaseID == nil {
		return nil, invalidState("no case selected for the current round")
	}
	ok, err := feedback.GatingSatisfied(ctx, o.repo.Feedback, st.reg, st.session.ID, *st.session.SelectedCaseID, st.session.CurrentRound)
	if err != nil {
		return nil, transient(err)
	}
	if !ok {
		return nil, conflict("feedback gating not satisfied for the current round")
	}

	o.publish(code, model.Envelope{
		Type:        model.EnvRoleChange,
		SessionCode: code,
		Payload:     model.RoleChangePayload{Message: "roles are being reassigned; rejoin with your new role"},
	})

	for _, p := range st.reg.Active() {
		if p.UserID == st.session.CreatedByUserID {
			continue
		}
		cp := p
		cp.IsActive = false
		if err := o.persistParticipant(ctx, cp); err != nil {
			return nil, err
		}
	}
	st.reg.ClearNonCreatorRoles(st.session.CreatedByUserID)

	if err := o.enterPhase(ctx, st, model.Waiting); err != nil {
		return nil, err
	}

	o.publish(code, o.sessionUpdateEnvelope(st))
	o.publish(code, o.participantUpdateEnvelope(st))
	return &st.session, nil
}

// Leave implements §4.1 Leave and the §4.8 endgame rules.
func (o *Orchestrator) Leave(ctx context.Context, code string, userID uint32) (*model.Session, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return &st.session, nil
	}

	p, ok := st.reg.Get(userID)
	if !ok || !p.IsActive {
		return &st.session, nil
	}

	p.IsActive = false
	if err := o.persistParticipant(ctx, p); err != nil {
		return nil, err
	}
	st.reg.Put(p)
	o.act.Remove(code, userID)

	active := st.reg.Active()
	if len(active) < 2 {
		if err := o.endSessionLocked(ctx, st, "insufficient_participants"); err != nil {
			return nil, err
		}
		return &st.session, nil
	}
	if !st.reg.HasActiveDoctor() && st.session.Phase != model.Completed {
		if err := o.endSessionLocked(ctx, st, "doctor_left"); err != nil {
			return nil, err
		}
		return &st.session, nil
	}

	o.publish(code, model.Envelope{
		Type:        model.EnvUserLeft,
		SessionCode: code,
		Payload:     model.UserLeftPayload{UserID: p.UserID, UserName: p.UserName, UserRole: p.Role},
	})
	o.publish(code, o.participantUpdateEnvelope(st))
	return &st.session, nil
}

// FeedbackInput is SubmitFeedback's payload (§6.1 feedback/submit).
type FeedbackInput struct {
	Comment        string
	CriteriaScores []model.Criterion
}

// SubmitFeedback implements §4.1/§4.7 SubmitFeedback: PATIENT/OBSERVER
// only, legal in CONSULTATION or FEEDBACK, idempotent per round.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, code string, senderUserID uint32, in FeedbackInput) (*model.Feedback, error) {
	st, err := o.state(ctx, code)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Status == model.StatusCompleted {
		return nil, invalidState("session " + code + " has completed")
	}

	p, ok := st.reg.Get(senderUserID)
	if !ok || !p.IsActive || (p.Role != model.Patient && p.Role != model.Observer) {
		return nil, forbidden("feedback may only be submitted by an active PATIENT or OBSERVER")
	}
	if st.session.Phase != model.Consultation && st.session.Phase != model.Feedback {
		return nil, invalidState("feedback is only accepted in CONSULTATION or FEEDBACK")
	}
	if st.session.SelectedCaseID == nil {
		return nil, invalidState("no case selected for the current round")
	}

	if err := feedback.ValidateSubmission(in.Comment, in.CriteriaScores); err != nil {
		var verr *feedback.ValidationError
		if errors.As(err, &verr) {
			return nil, validation(verr.Error())
		}
		return nil, err
	}

	doctors := st.reg.ActiveByRole(model.Doctor)
	if len(doctors) == 0 {
		return nil, invalidState("no active doctor to receive feedback")
	}

	f := model.Feedback{
		SessionID:       st.session.ID,
		SenderUserID:    senderUserID,
		RecipientUserID: doctors[0].UserID,
		CaseID:          *st.session.SelectedCaseID,
		RoundNumber:     st.session.CurrentRound,
		Comment:         in.Comment,
		CriteriaScores:  in.CriteriaScores,
		CreatedAt:       time.Now(),
	}

	saved, err := feedback.BuildAndSubmit(ctx, o.repo.Feedback, newID, f)
	if err != nil {
		return nil, transient(fmt.Errorf("orchestrator: submit feedback: %w", err))
	}

	p.HasGivenFeedback = true
	if err := o.persistParticipant(ctx, p); err != nil {
		logger.Warn("orchestrator: failed to persist legacy feedback flag for user %d in session %s: %v", senderUserID, code, err)
	}
	st.reg.Put(p)

	return saved, nil
}

// TouchActivity implements §4.1/§4.5 TouchActivity, invoked on every
// inbound message on a client's topic subscription and on each intent.
func (o *Orchestrator) TouchActivity(code string, userID uint32) {
	o.act.Touch(code, userID)
}

// JoinableSession is ListJoinable's summary row — an added operation
// beyond §4.1 for session discovery, since a client must learn a session's
// code and open roles from somewhere before it can Join.
type JoinableSession struct {
	Code             string
	Title            string
	Phase            model.Phase
	ParticipantCount int
	AvailableRoles   []model.Role
}

// ListJoinable lists every non-completed session with its available
// roles, a read-only query that never touches the live sessions map.
func (o *Orchestrator) ListJoinable(ctx context.Context) ([]JoinableSession, error) {
	sessions, err := o.repo.Sessions.FindActive(ctx)
	if err != nil {
		return nil, transient(fmt.Errorf("orchestrator: list active sessions: %w", err))
	}

	out := make([]JoinableSession, 0, len(sessions))
	for _, s := range sessions {
		parts, err := o.repo.Participants.FindBySessionIDAndActive(ctx, s.ID, true)
		if err != nil {
			return nil, transient(fmt.Errorf("orchestrator: list participants for %s: %w", s.Code, err))
		}
		reg := registry.New()
		reg.Load(parts)

		out = append(out, JoinableSession{
			Code:             s.Code,
			Title:            s.Title,
			Phase:            s.Phase,
			ParticipantCount: reg.ActiveCount(),
			AvailableRoles:   reg.AvailableRoles(),
		})
	}
	return out, nil
}
