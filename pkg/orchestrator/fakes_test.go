package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/repo"
)

// The fakes below are in-memory stand-ins for the four repo.Repository
// collaborators, exercised the same way the teacher's startpoint tests
// drive MockModel/MockEndpoint/MockBot against the real production
// interfaces rather than a mocking framework.

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*model.Session // by code
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]*model.Session)}
}

func (f *fakeSessions) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[code]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Save(ctx context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.rows[s.Code] = &cp
	return nil
}

func (f *fakeSessions) FindActive(ctx context.Context) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.rows {
		if s.Status != model.StatusCompleted {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessions) CountActive(ctx context.Context) (int, error) {
	active, _ := f.FindActive(ctx)
	return len(active), nil
}

func (f *fakeSessions) CodeInUse(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[code]
	return ok && s.Status != model.StatusCompleted, nil
}

type participantKey struct {
	sessionID string
	userID    uint32
}

type fakeParticipants struct {
	mu   sync.Mutex
	rows map[participantKey]*model.Participant
}

func newFakeParticipants() *fakeParticipants {
	return &fakeParticipants{rows: make(map[participantKey]*model.Participant)}
}

func (f *fakeParticipants) FindBySessionIDAndActive(ctx context.Context, sessionID string, active bool) ([]*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Participant
	for _, p := range f.rows {
		if p.SessionID == sessionID && p.IsActive == active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeParticipants) FindBySessionIDAndUserID(ctx context.Context, sessionID string, userID uint32) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[participantKey{sessionID, userID}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeParticipants) FindByUserIDAndActive(ctx context.Context, userID uint32, active bool) ([]*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Participant
	for _, p := range f.rows {
		if p.UserID == userID && p.IsActive == active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeParticipants) Save(ctx context.Context, p *model.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[participantKey{p.SessionID, p.UserID}] = &cp
	return nil
}

type feedbackKey struct {
	sessionID string
	senderID  uint32
	caseID    string
	round     int
}

type fakeFeedback struct {
	mu   sync.Mutex
	rows map[feedbackKey]*model.Feedback
}

func newFakeFeedback() *fakeFeedback {
	return &fakeFeedback{rows: make(map[feedbackKey]*model.Feedback)}
}

func (f *fakeFeedback) FindBySessionIDAndSenderID(ctx context.Context, sessionID string, senderID uint32) ([]*model.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Feedback
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.SenderUserID == senderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFeedback) FindByRound(ctx context.Context, sessionID, caseID string, round int) ([]*model.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Feedback
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.CaseID == caseID && r.RoundNumber == round {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFeedback) UpsertOnRound(ctx context.Context, fb *model.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[feedbackKey{fb.SessionID, fb.SenderUserID, fb.CaseID, fb.RoundNumber}] = fb
	return nil
}

type fakeCases struct {
	mu    sync.Mutex
	cases map[string]*model.Case
}

func newFakeCases(cases ...*model.Case) *fakeCases {
	fc := &fakeCases{cases: make(map[string]*model.Case)}
	for _, c := range cases {
		fc.cases[c.ID] = c
	}
	return fc
}

func excluded(id string, excludeIDs []string) bool {
	for _, e := range excludeIDs {
		if e == id {
			return true
		}
	}
	return false
}

func hasAnyTopic(c *model.Case, topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, ct := range c.CategoryNames {
		for _, t := range topics {
			if ct == t {
				return true
			}
		}
	}
	return false
}

func (f *fakeCases) PickRandomByCategoryNames(ctx context.Context, topics []string, excludeIDs []string) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if !excluded(c.ID, excludeIDs) && hasAnyTopic(c, topics) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeCases) PickRandomByDateRange(ctx context.Context, from, to time.Time, excludeIDs []string) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if excluded(c.ID, excludeIDs) {
			continue
		}
		if c.AuthoredAt.Before(from) || c.AuthoredAt.After(to) {
			continue
		}
		cp := *c
		return &cp, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeCases) FindByID(ctx context.Context, id string) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// testRepo bundles fresh fakes into a repo.Repository, mirroring
// Repository's own four-collaborator shape.
func testRepo(cases ...*model.Case) (repo.Repository, *fakeSessions, *fakeParticipants, *fakeFeedback) {
	sessions := newFakeSessions()
	participants := newFakeParticipants()
	fb := newFakeFeedback()
	return repo.Repository{
		Sessions:     sessions,
		Participants: participants,
		Feedback:     fb,
		Cases:        newFakeCases(cases...),
	}, sessions, participants, fb
}
