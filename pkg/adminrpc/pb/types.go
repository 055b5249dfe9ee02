// Package pb holds the hand-written message and service-descriptor types
// for the admin service (C11), in the legacy proto.Message-stub style of
// the teacher's pkg/contactsvc/pb: plain structs carrying
// ProtoMessage/Reset/String rather than protoc-generated code, since
// nothing downstream needs wire-compatible .proto descriptors.
package pb

import "time"

// ParticipantView is one participant row in a SessionSnapshot.
type ParticipantView struct {
	UserId   int64
	UserName string
	Role     string
	IsActive bool
}

func (*ParticipantView) ProtoMessage()  {}
func (*ParticipantView) Reset()         {}
func (*ParticipantView) String() string { return "ParticipantView" }

// SnapshotRequest names the session to inspect.
type SnapshotRequest struct {
	Code string
}

func (*SnapshotRequest) ProtoMessage()  {}
func (*SnapshotRequest) Reset()         {}
func (*SnapshotRequest) String() string { return "SnapshotRequest" }

// SessionSnapshot is the read-only view returned by GetSessionSnapshot.
type SessionSnapshot struct {
	Code             string
	Title            string
	Status           string
	Phase            string
	CurrentRound     int32
	Participants     []*ParticipantView
	PhaseStartedUnix int64
}

func (*SessionSnapshot) ProtoMessage()  {}
func (*SessionSnapshot) Reset()         {}
func (*SessionSnapshot) String() string { return "SessionSnapshot" }

func (x *SessionSnapshot) GetParticipants() []*ParticipantView {
	if x != nil {
		return x.Participants
	}
	return nil
}

// ActiveSessionsRequest has no fields today; it exists so the RPC
// signature can grow without breaking callers.
type ActiveSessionsRequest struct{}

func (*ActiveSessionsRequest) ProtoMessage()  {}
func (*ActiveSessionsRequest) Reset()         {}
func (*ActiveSessionsRequest) String() string { return "ActiveSessionsRequest" }

// ActiveSessionsResponse lists every session code resident in the
// queried process's memory, plus the durable total for comparison.
type ActiveSessionsResponse struct {
	Codes          []string
	DurableTotal   int32
	QueriedAtUnix  int64
	QueriedAtLocal time.Time `json:"-"`
}

func (*ActiveSessionsResponse) ProtoMessage()  {}
func (*ActiveSessionsResponse) Reset()         {}
func (*ActiveSessionsResponse) String() string { return "ActiveSessionsResponse" }

type Empty struct{}

func (*Empty) ProtoMessage()  {}
func (*Empty) Reset()         {}
func (*Empty) String() string { return "Empty" }
