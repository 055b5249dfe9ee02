package orchestrator

import (
	"context"
	"fmt"

	"github.com/clinround/sessioncore/pkg/model"
)

// Snapshot is a read-only view of one live session, the shape C11 (the
// admin/replication hook) exposes over gRPC. It never permits mutation —
// Ownership of session state stays with the orchestrator (§3).
type Snapshot struct {
	Session      model.Session
	Participants []*model.Participant
}

// Snapshot returns code's current in-memory state without creating it if
// absent, so an admin query never has the side effect of loading a
// session into the live map.
func (o *Orchestrator) Snapshot(ctx context.Context, code string) (*Snapshot, error) {
	v, ok := o.sessions.Load(code)
	if !ok {
		return nil, notFound("session " + code + " not found")
	}
	st := v.(*sessionState)

	st.mu.Lock()
	defer st.mu.Unlock()

	return &Snapshot{
		Session:      st.session,
		Participants: st.reg.Active(),
	}, nil
}

// ActiveSessionCodes lists every session currently resident in memory, for
// C11's ListActiveSessions RPC.
func (o *Orchestrator) ActiveSessionCodes() []string {
	var codes []string
	o.sessions.Range(func(key, _ any) bool {
		codes = append(codes, key.(string))
		return true
	})
	return codes
}

// CountActive delegates to the repository for the durable count, used when
// an admin query needs sessions this process hasn't touched yet.
func (o *Orchestrator) CountActive(ctx context.Context) (int, error) {
	n, err := o.repo.Sessions.CountActive(ctx)
	if err != nil {
		return 0, transient(fmt.Errorf("orchestrator: count active: %w", err))
	}
	return n, nil
}
