// Package adminrpc implements C11, the Admin/Replication Hook: a
// read-only gRPC surface over the orchestrator's live session state, for
// an operator dashboard or a future multi-node replication agent (§9
// Open Questions: the core stays single-authority, but nothing prevents
// an external reader). Grounded on the teacher's pkg/rpc/pkg/contactsvc
// pair: a Server wrapping *grpc.Server plus a Handler implementing the
// generated server interface.
package adminrpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/clinround/sessioncore/pkg/adminrpc/pb"
	"github.com/clinround/sessioncore/pkg/orchestrator"
)

// statusFor maps the orchestrator's structural error kinds onto gRPC
// status codes, so a remote admin client sees NOT_FOUND rather than an
// opaque Unknown.
func statusFor(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case orchestrator.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case orchestrator.IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Handler implements pb.AdminServer against a live Orchestrator. It never
// calls a mutating orchestrator method (§3 Ownership: only the
// orchestrator's own client-facing operations mutate).
type Handler struct {
	pb.UnimplementedAdminServer

	o *orchestrator.Orchestrator
}

func NewHandler(o *orchestrator.Orchestrator) *Handler {
	return &Handler{o: o}
}

func (h *Handler) GetSessionSnapshot(ctx context.Context, req *pb.SnapshotRequest) (*pb.SessionSnapshot, error) {
	snap, err := h.o.Snapshot(ctx, req.Code)
	if err != nil {
		return nil, statusFor(err)
	}

	views := make([]*pb.ParticipantView, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		views = append(views, &pb.ParticipantView{
			UserId:   int64(p.UserID),
			UserName: p.UserName,
			Role:     string(p.Role),
			IsActive: p.IsActive,
		})
	}

	return &pb.SessionSnapshot{
		Code:             snap.Session.Code,
		Title:            snap.Session.Title,
		Status:           string(snap.Session.Status),
		Phase:            string(snap.Session.Phase),
		CurrentRound:     int32(snap.Session.CurrentRound),
		Participants:     views,
		PhaseStartedUnix: snap.Session.PhaseStartTime.Unix(),
	}, nil
}

func (h *Handler) ListActiveSessions(ctx context.Context, req *pb.ActiveSessionsRequest) (*pb.ActiveSessionsResponse, error) {
	codes := h.o.ActiveSessionCodes()

	total, err := h.o.CountActive(ctx)
	if err != nil {
		return nil, statusFor(err)
	}

	return &pb.ActiveSessionsResponse{
		Codes:        codes,
		DurableTotal: int32(total),
	}, nil
}
