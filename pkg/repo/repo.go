// Package repo defines C3, the Session Repository interfaces (§6.3). Any
// durable store satisfying these is acceptable (§1); pkg/repo/mysql is the
// implementation grounded on the teacher's pkg/comdb.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/clinround/sessioncore/pkg/model"
)

var ErrNotFound = errors.New("repo: not found")

// Sessions is the session half of C3 (§6.3).
type Sessions interface {
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	FindActive(ctx context.Context) ([]*model.Session, error)
	CountActive(ctx context.Context) (int, error)
	// CodeInUse reports whether code belongs to a non-completed session,
	// for collision retry during generation (§6.4).
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// Participants is the participant half of C3.
type Participants interface {
	FindBySessionIDAndActive(ctx context.Context, sessionID string, active bool) ([]*model.Participant, error)
	FindBySessionIDAndUserID(ctx context.Context, sessionID string, userID uint32) (*model.Participant, error)
	FindByUserIDAndActive(ctx context.Context, userID uint32, active bool) ([]*model.Participant, error)
	Save(ctx context.Context, p *model.Participant) error
}

// FeedbackRepo is the feedback half of C3.
type FeedbackRepo interface {
	FindBySessionIDAndSenderID(ctx context.Context, sessionID string, senderID uint32) ([]*model.Feedback, error)
	// FindByRound returns feedback rows for (sessionID, caseID, round),
	// used by gating predicates (§4.7).
	FindByRound(ctx context.Context, sessionID, caseID string, round int) ([]*model.Feedback, error)
	// UpsertOnRound inserts or updates the row uniquely keyed on
	// (sessionId, senderId, caseId, roundNumber) (§3 Feedback invariant,
	// §8 property 8).
	UpsertOnRound(ctx context.Context, f *model.Feedback) error
}

// Cases is the case-content half of C3; case authoring/storage is out of
// scope (§1) — this is a read-only query surface.
type Cases interface {
	PickRandomByCategoryNames(ctx context.Context, topics []string, excludeIDs []string) (*model.Case, error)
	PickRandomByDateRange(ctx context.Context, from, to time.Time, excludeIDs []string) (*model.Case, error)
	FindByID(ctx context.Context, id string) (*model.Case, error)
}

// Repository aggregates the four collaborators behind one handle, the
// shape C8 depends on.
type Repository struct {
	Sessions     Sessions
	Participants Participants
	Feedback     FeedbackRepo
	Cases        Cases
}
