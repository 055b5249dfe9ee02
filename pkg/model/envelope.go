package model

import "encoding/json"

// EnvelopeType discriminates the outbound envelope variants of §6.2.
type EnvelopeType string

const (
	EnvSessionUpdate       EnvelopeType = "SESSION_UPDATE"
	EnvParticipantUpdate   EnvelopeType = "PARTICIPANT_UPDATE"
	EnvPhaseChange         EnvelopeType = "PHASE_CHANGE"
	EnvTimerStart          EnvelopeType = "TIMER_START"
	EnvCaseData            EnvelopeType = "CASE_DATA"
	EnvUserLeft            EnvelopeType = "USER_LEFT"
	EnvSessionEnded        EnvelopeType = "SESSION_ENDED"
	EnvRoleChange          EnvelopeType = "ROLE_CHANGE"
	EnvTopicSelectionNeeded EnvelopeType = "TOPIC_SELECTION_NEEDED"
)

// Envelope is the tagged outbound record of §3 "Envelope" / §6.2.
type Envelope struct {
	Type        EnvelopeType `json:"type"`
	SessionCode string       `json:"sessionCode"`
	Payload     interface{}  `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside type/sessionCode so the
// wire object is the single JSON document §6.2 describes ("All envelopes
// are JSON objects with a type discriminator and sessionCode"), rather
// than type/sessionCode riding only on the SSE frame and the payload
// arriving as a separate, untagged object.
func (e Envelope) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}

	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	code, err := json.Marshal(e.SessionCode)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	fields["sessionCode"] = code

	return json.Marshal(fields)
}

// ParticipantView is the wire shape of one participant inside
// SESSION_UPDATE/PARTICIPANT_UPDATE (§6.2) — deliberately omits
// HasGivenFeedback (legacy, §3) and internal bookkeeping.
type ParticipantView struct {
	UserID       uint32 `json:"userId"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	IsActive     bool   `json:"isActive"`
	HasCompleted bool   `json:"hasCompleted"`
}

// CaseView is the role-filtered projection of a Case (§4.10). DOCTOR's
// view has Title == "".
type CaseView struct {
	Title            string   `json:"title,omitempty"`
	Description      string   `json:"description"`
	DoctorSections   []CaseSection `json:"doctorSections,omitempty"`
	PatientSections  []CaseSection `json:"patientSections,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	ImageRef         string   `json:"imageRef"`
	FeedbackCriteria []string `json:"feedbackCriteria"`
}

type ConfigView struct {
	ReadingTime         int      `json:"readingTime"`
	ConsultationTime    int      `json:"consultationTime"`
	TimingType          string   `json:"timingType"`
	SessionType         string   `json:"sessionType"`
	SelectedTopics      []string `json:"selectedTopics"`
}

type SessionUpdatePayload struct {
	Title               string            `json:"title"`
	Phase               Phase             `json:"phase"`
	Status              Status            `json:"status"`
	Config              ConfigView        `json:"config"`
	Participants        []ParticipantView `json:"participants"`
	SelectedCase        *CaseView         `json:"selectedCase,omitempty"`
	CurrentRound        int               `json:"currentRound"`
	TimerStartTimestamp *int64            `json:"timerStartTimestamp,omitempty"`
}

type ParticipantUpdatePayload struct {
	Participants []ParticipantView `json:"participants"`
}

type PhaseChangePayload struct {
	Phase           Phase `json:"phase"`
	DurationSeconds int   `json:"durationSeconds"`
	StartTimestamp  int64 `json:"startTimestamp"`
}

type TimerStartPayload struct {
	Phase           Phase `json:"phase"`
	DurationSeconds int   `json:"durationSeconds"`
	StartTimestamp  int64 `json:"startTimestamp"`
}

type CaseDataPayload struct {
	Case CaseView `json:"case"`
}

type UserLeftPayload struct {
	UserID   uint32 `json:"userId"`
	UserName string `json:"userName"`
	UserRole Role   `json:"userRole"`
}

type SessionEndedPayload struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type RoleChangePayload struct {
	Message string `json:"message"`
}

type TopicSelectionNeededPayload struct {
	CompletedTopic  string   `json:"completedTopic"`
	AvailableTopics []string `json:"availableTopics"`
	Hint            string   `json:"hint,omitempty"`
}
