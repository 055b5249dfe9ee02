// Package registry implements C4, the Participant Registry: a per-session
// cache of the active participant set and the availableRoles derivation
// (§4.4). The Repository remains the durable source of truth (§9); this
// cache is invalidated on every Join/Leave, the caching strategy §9
// explicitly permits in place of the teacher's database-serialized
// derivation.
package registry

import (
	"sync"

	"github.com/clinround/sessioncore/pkg/model"
)

// Registry caches one session's participants, keyed by userID.
type Registry struct {
	mu           sync.RWMutex
	participants map[uint32]*model.Participant
}

func New() *Registry {
	return &Registry{participants: make(map[uint32]*model.Participant)}
}

// Load replaces the cache wholesale, e.g. after rebuilding from the
// repository (§1 Ownership, crash recovery).
func (r *Registry) Load(participants []*model.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[uint32]*model.Participant, len(participants))
	for _, p := range participants {
		cp := *p
		r.participants[p.UserID] = &cp
	}
}

// Put upserts a single participant into the cache (on Join/Leave/role
// change).
func (r *Registry) Put(p *model.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.participants[p.UserID] = &cp
}

// Get returns the cached participant for userID, if any.
func (r *Registry) Get(userID uint32) (*model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[userID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Active returns every active participant in map iteration order, which
// is unspecified and may differ between calls; callers that need a
// visible order should sort the result.
func (r *Registry) Active() []*model.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Participant
	for _, p := range r.participants {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ActiveCount reports the number of active participants.
func (r *Registry) ActiveCount() int {
	return len(r.Active())
}

// ActiveByRole returns every active participant holding role.
func (r *Registry) ActiveByRole(role model.Role) []*model.Participant {
	var out []*model.Participant
	for _, p := range r.Active() {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// HasActiveDoctor reports whether any active DOCTOR exists (§3 Participant
// invariant i, §4.8).
func (r *Registry) HasActiveDoctor() bool {
	return len(r.ActiveByRole(model.Doctor)) > 0
}

// AvailableRoles derives the joinable roles for this session (§4.4):
// DOCTOR is never available to joiners (creator-only, enforced by the
// orchestrator, not here); PATIENT is available iff no active PATIENT
// exists; OBSERVER is always available.
func (r *Registry) AvailableRoles() []model.Role {
	roles := []model.Role{model.Observer}
	if len(r.ActiveByRole(model.Patient)) == 0 {
		roles = append(roles, model.Patient)
	}
	return roles
}

// ResetCompletionFlags clears HasCompleted/HasGivenFeedback on every
// cached participant, active or not, called by NewCase (§4.1).
func (r *Registry) ResetCompletionFlags() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		p.HasCompleted = false
		p.HasGivenFeedback = false
	}
}

// ClearNonCreatorRoles deactivates role assignments for everyone except
// creatorUserID, who keeps DOCTOR; used by ChangeRole (§4.1, §4.2 transition
// table: FEEDBACK --ChangeRole(gated)--> WAITING, "clear non-creator
// roles"). Non-creator participants are deactivated rather than
// role-stripped-in-place so Join's reactivation path (§4.4) applies
// uniformly when they rejoin.
func (r *Registry) ClearNonCreatorRoles(creatorUserID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, p := range r.participants {
		if uid == creatorUserID {
			continue
		}
		p.IsActive = false
	}
}
