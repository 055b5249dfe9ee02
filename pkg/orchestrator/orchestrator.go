// Package orchestrator implements C8, the Session Orchestrator facade: the
// only component allowed to mutate in-memory session state (§3
// Ownership). It coordinates the Repository (C3), Participant Registry
// (C4), Activity Tracker (C5), Phase State Machine (C6), Feedback Store
// (C7), Scheduler (C2) and Message Bus (C1) behind nine client-facing
// operations plus TouchActivity.
//
// Grounded on the teacher's pkg/startpoint.Start: an interface-composed
// facade owning a cancellable context, constructed with New(parent, ...)
// and torn down with Shutdown().
package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinround/sessioncore/pkg/activity"
	"github.com/clinround/sessioncore/pkg/bus"
	"github.com/clinround/sessioncore/pkg/logger"
	"github.com/clinround/sessioncore/pkg/mode"
	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/projection"
	"github.com/clinround/sessioncore/pkg/recall"
	"github.com/clinround/sessioncore/pkg/registry"
	"github.com/clinround/sessioncore/pkg/repo"
	"github.com/clinround/sessioncore/pkg/scheduler"
)

// sessionState is the per-session unit of mutable state and the
// granularity of the mutual-exclusion model of §5: one mutex per session,
// held across validate/mutate/persist/schedule/publish.
type sessionState struct {
	mu sync.Mutex

	session model.Session
	reg     *registry.Registry

	timerHandle  scheduler.Handle
	timerArmedAt model.Phase // the phase that armed timerHandle
}

// Orchestrator is C8. One instance owns every live session for a process;
// Non-goals exclude multi-node replication, so a single in-memory instance
// is the authority (§1).
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc

	repo  repo.Repository
	bus   *bus.Bus
	sched *scheduler.Scheduler
	act   *activity.Tracker

	recall recall.Suggester // optional, may be nil

	codeLength      int
	idleTimeout     time.Duration
	feedbackTimeout time.Duration

	createMu sync.Mutex // serializes first-touch creation of a sessionState
	sessions sync.Map   // code -> *sessionState
}

// Config bundles the constructor knobs, mirroring the teacher's
// conf.TimingConfig/conf.CodeConfig split.
type Config struct {
	CodeLength      int
	IdleTimeout     time.Duration
	FeedbackTimeout time.Duration
	Recall          recall.Suggester
}

// New wires C1-C7 into a facade, the same New(parent, collaborators...)
// shape as the teacher's startpoint.New.
func New(parent context.Context, repository repo.Repository, msgBus *bus.Bus, sched *scheduler.Scheduler, cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(parent)

	o := &Orchestrator{
		ctx:             ctx,
		cancel:          cancel,
		repo:            repository,
		bus:             msgBus,
		sched:           sched,
		codeLength:      cfg.CodeLength,
		recall:          cfg.Recall,
		idleTimeout:     cfg.IdleTimeout,
		feedbackTimeout: cfg.FeedbackTimeout,
	}
	if o.codeLength <= 0 {
		o.codeLength = mode.SessionCodeLength
	}
	if o.feedbackTimeout <= 0 {
		o.feedbackTimeout = mode.FeedbackTimeout
	}
	if o.idleTimeout <= 0 {
		o.idleTimeout = mode.IdleTimeout
	}
	o.act = activity.New(o.idleTimeout, o.onIdleEvict)
	return o
}

// Shutdown cancels the orchestrator's own context (the one timer callbacks
// and idle evictions run under) and shuts the scheduler down, cancelling
// every armed handle and waiting for running callbacks (§5 "global
// shutdown cancels all handles"). Client operations called afterwards
// still run, the activity tracker's idle watchdogs stay armed, and bus
// subscriptions stay open.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	o.sched.Shutdown()
	return nil
}

func (o *Orchestrator) onIdleEvict(code string, userID uint32) {
	if _, err := o.Leave(o.ctx, code, userID); err != nil {
		logger.Warn("idle eviction leave failed for user %d in session %s: %v", userID, code, err)
	}
}

// state returns the sessionState for code, creating and loading it from
// the repository on first touch. createMu only serializes the
// find-or-create race; the returned state's own mutex governs everything
// else.
func (o *Orchestrator) state(ctx context.Context, code string) (*sessionState, error) {
	if v, ok := o.sessions.Load(code); ok {
		return v.(*sessionState), nil
	}

	o.createMu.Lock()
	defer o.createMu.Unlock()

	if v, ok := o.sessions.Load(code); ok {
		return v.(*sessionState), nil
	}

	sess, err := o.repo.Sessions.FindByCode(ctx, code)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, notFound("session " + code + " not found")
		}
		return nil, transient(fmt.Errorf("orchestrator: load session: %w", err))
	}

	parts, err := o.repo.Participants.FindBySessionIDAndActive(ctx, sess.ID, true)
	if err != nil {
		return nil, transient(fmt.Errorf("orchestrator: load participants: %w", err))
	}

	reg := registry.New()
	reg.Load(parts)

	st := &sessionState{session: *sess, reg: reg}
	actual, _ := o.sessions.LoadOrStore(code, st)
	return actual.(*sessionState), nil
}

// registerNew places a freshly created session's state directly into the
// live map, bypassing the repository round-trip state() would otherwise
// do, since Create already holds the authoritative copy.
func (o *Orchestrator) registerNew(st *sessionState) {
	o.sessions.Store(st.session.Code, st)
}

func (o *Orchestrator) forget(code string) {
	o.sessions.Delete(code)
	o.act.RemoveSession(code)
}

// generateCode produces a unique 6-digit session code with retry-on-
// collision against non-completed sessions (§6.4).
func (o *Orchestrator) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		code, err := randomDigits(o.codeLength)
		if err != nil {
			return "", transient(fmt.Errorf("orchestrator: generate code: %w", err))
		}
		inUse, err := o.repo.Sessions.CodeInUse(ctx, code)
		if err != nil {
			return "", transient(fmt.Errorf("orchestrator: check code collision: %w", err))
		}
		if !inUse {
			return code, nil
		}
	}
	return "", transient(fmt.Errorf("orchestrator: could not allocate a unique %d-digit code", o.codeLength))
}

func randomDigits(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = byte('0') + v%10
	}
	return string(out), nil
}

func newID() string { return uuid.NewString() }

// publish sends env on this session's topic.
func (o *Orchestrator) publish(code string, env model.Envelope) {
	o.bus.Publish(bus.Topic(code), env)
}

// publishAll sends every envelope in order; callers use this to preserve
// the PHASE_CHANGE-before-TIMER_START ordering guarantee of §5/§8
// property 2.
func (o *Orchestrator) publishAll(code string, envs []model.Envelope) {
	for _, e := range envs {
		o.publish(code, e)
	}
}

// sessionUpdateEnvelope builds the SESSION_UPDATE envelope reflecting st's
// current state for the shared topic. Case content is deliberately never
// attached here — it is role-filtered and therefore only ever delivered
// over each participant's private topic as CASE_DATA (§4.9, §4.10); a
// single broadcast envelope cannot carry a per-viewer projection.
func (o *Orchestrator) sessionUpdateEnvelope(st *sessionState) model.Envelope {
	views := make([]model.ParticipantView, 0, len(st.reg.Active()))
	for _, p := range st.reg.Active() {
		views = append(views, model.ParticipantView{
			UserID:       p.UserID,
			Name:         p.UserName,
			Role:         p.Role,
			IsActive:     p.IsActive,
			HasCompleted: p.HasCompleted,
		})
	}

	return model.Envelope{
		Type:        model.EnvSessionUpdate,
		SessionCode: st.session.Code,
		Payload: model.SessionUpdatePayload{
			Title:  st.session.Title,
			Phase:  st.session.Phase,
			Status: st.session.Status,
			Config: model.ConfigView{
				ReadingTime:      st.session.Config.ReadingMinutes,
				ConsultationTime: st.session.Config.ConsultationMinutes,
				TimingType:       string(st.session.Config.TimingType),
				SessionType:      string(st.session.Config.SessionType),
				SelectedTopics:   st.session.Config.SelectedTopics,
			},
			Participants:        views,
			CurrentRound:        st.session.CurrentRound,
			TimerStartTimestamp: st.session.TimerStartTimestamp,
		},
	}
}

func (o *Orchestrator) participantUpdateEnvelope(st *sessionState) model.Envelope {
	views := make([]model.ParticipantView, 0, len(st.reg.Active()))
	for _, p := range st.reg.Active() {
		views = append(views, model.ParticipantView{
			UserID:       p.UserID,
			Name:         p.UserName,
			Role:         p.Role,
			IsActive:     p.IsActive,
			HasCompleted: p.HasCompleted,
		})
	}
	return model.Envelope{
		Type:        model.EnvParticipantUpdate,
		SessionCode: st.session.Code,
		Payload:     model.ParticipantUpdatePayload{Participants: views},
	}
}

// caseDataEnvelope builds the private, role-filtered CASE_DATA envelope
// for one user (§4.9, §4.10) — never published on the shared topic.
func (o *Orchestrator) caseDataEnvelope(code string, c model.Case, role model.Role) model.Envelope {
	return model.Envelope{
		Type:        model.EnvCaseData,
		SessionCode: code,
		Payload:     model.CaseDataPayload{Case: projection.ForRole(c, role)},
	}
}

// persistSession saves st.session, wrapping repository failures as
// Transient (§7).
func (o *Orchestrator) persistSession(ctx context.Context, st *sessionState) error {
	if err := o.repo.Sessions.Save(ctx, &st.session); err != nil {
		return transient(fmt.Errorf("orchestrator: save session: %w", err))
	}
	return nil
}

func (o *Orchestrator) persistParticipant(ctx context.Context, p *model.Participant) error {
	if err := o.repo.Participants.Save(ctx, p); err != nil {
		return transient(fmt.Errorf("orchestrator: save participant: %w", err))
	}
	return nil
}
