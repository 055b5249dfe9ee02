// Package model holds the core's plain-data domain types: Session,
// Participant, Feedback, Case, and the enums that constrain them. Shapes
// follow the teacher's pkg/model style — typed constants with a validity
// method, struct-of-fields records.
package model

import "time"

// Role is a participant's assumed role within a session (§3 Participant).
type Role string

const (
	Doctor   Role = "DOCTOR"
	Patient  Role = "PATIENT"
	Observer Role = "OBSERVER"
)

func (r Role) Valid() bool {
	switch r {
	case Doctor, Patient, Observer:
		return true
	}
	return false
}

// Phase is one of the session's five protocol states (§2 GLOSSARY).
type Phase string

const (
	Waiting      Phase = "WAITING"
	Reading      Phase = "READING"
	Consultation Phase = "CONSULTATION"
	Feedback     Phase = "FEEDBACK"
	Completed    Phase = "COMPLETED"
)

// Status is the session's top-level lifecycle status (§3 Session).
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// TimingType and SessionType are opaque configuration tags the core
// threads through unexamined (§3 Session Configuration); the edge and
// case-content layers give them meaning.
type TimingType string
type SessionType string

// RecallDateRange selects cases by an authored-date window instead of a
// topic list (§3 Session, "recall" case search).
type RecallDateRange struct {
	From time.Time
	To   time.Time
}

// Config is a session's configurable parameters (§3 Session Configuration).
type Config struct {
	ReadingMinutes      int
	ConsultationMinutes int
	TimingType          TimingType
	SessionType         SessionType
	SelectedTopics      []string
	RecallDateRange     *RecallDateRange
}

// Session is the aggregate root of the core (§3 Session).
type Session struct {
	ID     string
	Code   string
	Title  string
	Status Status
	Phase  Phase

	Config Config

	SelectedCaseID *string
	UsedCaseIDs    []string

	PhaseStartTime      time.Time
	TimerStartTimestamp *int64 // epoch-ms, matches the last TIMER_START (§3 invariant iii)
	CurrentRound        int

	CreatedByUserID uint32
	CreatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// UsesCaseID reports whether id is already in UsedCaseIDs (§3 invariant iv,
// §8 property 7).
func (s *Session) UsesCaseID(id string) bool {
	for _, u := range s.UsedCaseIDs {
		if u == id {
			return true
		}
	}
	return false
}

// Participant is a (session, user) membership record (§3 Participant).
type Participant struct {
	SessionID        string
	UserID           uint32
	UserName         string
	Role             Role
	IsActive         bool
	HasCompleted     bool
	HasGivenFeedback bool // legacy, ignored by gating (§3)
	JoinedAt         time.Time
}

// Criterion is one scored dimension of a Feedback submission (§3 Feedback).
// Score is used directly when SubScores is empty; otherwise the
// criterion's score is the mean of SubScores (§4.7 overallPerformance).
type Criterion struct {
	Name      string
	Score     *float64
	SubScores []float64
}

// Value returns this criterion's contribution to overallPerformance.
func (c Criterion) Value() float64 {
	if len(c.SubScores) > 0 {
		var sum float64
		for _, s := range c.SubScores {
			sum += s
		}
		return sum / float64(len(c.SubScores))
	}
	if c.Score != nil {
		return *c.Score
	}
	return 0
}

// Feedback is one round-scoped feedback submission (§3 Feedback).
type Feedback struct {
	ID                 string
	SessionID          string
	SenderUserID       uint32
	RecipientUserID    uint32
	CaseID             string
	RoundNumber        int
	Comment            string
	CriteriaScores     []Criterion
	OverallPerformance float64
	// OverallPerformanceLegacy is round(OverallPerformance), carried for
	// older clients that still read an integer score (§4.7), the same
	// role Participant.HasGivenFeedback plays for its own legacy reader.
	OverallPerformanceLegacy int
	CreatedAt                time.Time
}

// ComputeOverallPerformance sums each criterion's Value() (§4.7).
func ComputeOverallPerformance(criteria []Criterion) float64 {
	var total float64
	for _, c := range criteria {
		total += c.Value()
	}
	return total
}

// CaseSection is one role-facing block of case content (§4.10).
type CaseSection struct {
	Heading string
	Body    string
}

// Case is the untrimmed case content; it is never published on a shared
// topic (§4.10) — only a role-filtered Projection is.
type Case struct {
	ID               string
	Title            string
	CategoryNames    []string
	Description      string
	DoctorSections   []CaseSection
	PatientSections  []CaseSection
	Notes            string
	ImageRef         string
	FeedbackCriteria []string
	AuthoredAt       time.Time
}
