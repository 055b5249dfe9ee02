package feedback

import (
	"context"
	"testing"

	"github.com/clinround/sessioncore/pkg/model"
	"github.com/clinround/sessioncore/pkg/registry"
)

// fakeFeedbackRepo is an in-memory stand-in for repo.FeedbackRepo, grounded
// on the same round-scoped upsert semantics the real mysql repo provides.
type fakeFeedbackRepo struct {
	rows []*model.Feedback
}

func (f *fakeFeedbackRepo) FindBySessionIDAndSenderID(ctx context.Context, sessionID string, senderID uint32) ([]*model.Feedback, error) {
	var out []*model.Feedback
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.SenderUserID == senderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) FindByRound(ctx context.Context, sessionID, caseID string, round int) ([]*model.Feedback, error) {
	var out []*model.Feedback
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.CaseID == caseID && r.RoundNumber == round {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) UpsertOnRound(ctx context.Context, fb *model.Feedback) error {
	for i, r := range f.rows {
		if r.SessionID == fb.SessionID && r.SenderUserID == fb.SenderUserID && r.CaseID == fb.CaseID && r.RoundNumber == fb.RoundNumber {
			f.rows[i] = fb
			return nil
		}
	}
	f.rows = append(f.rows, fb)
	return nil
}

func score(v float64) *float64 { return &v }

func TestGivenByRoleFalseWhenNoActiveHolder(t *testing.T) {
	reg := registry.New()
	fr := &fakeFeedbackRepo{}

	got, err := GivenByRole(context.Background(), fr, reg, "sess-1", "case-1", 1, model.Patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Fatalf("expected false when no active PATIENT exists")
	}
}

func TestGivenByRoleTrueAfterSubmission(t *testing.T) {
	reg := registry.New()
	reg.Put(&model.Participant{UserID: 2, Role: model.Patient, IsActive: true})

	fr := &fakeFeedbackRepo{rows: []*model.Feedback{
		{SessionID: "sess-1", CaseID: "case-1", RoundNumber: 1, SenderUserID: 2},
	}}

	got, err := GivenByRole(context.Background(), fr, reg, "sess-1", "case-1", 1, model.Patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatalf("expected true once the active PATIENT has submitted")
	}
}

func TestGatingSatisfiedRequiresPatientAndActiveObserver(t *testing.T) {
	reg := registry.New()
	reg.Put(&model.Participant{UserID: 2, Role: model.Patient, IsActive: true})
	reg.Put(&model.Participant{UserID: 3, Role: model.Observer, IsActive: true})

	fr := &fakeFeedbackRepo{rows: []*model.Feedback{
		{SessionID: "sess-1", CaseID: "case-1", RoundNumber: 1, SenderUserID: 2},
	}}

	ok, err := GatingSatisfied(context.Background(), fr, reg, "sess-1", "case-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("gating must fail until the active OBSERVER also submits")
	}

	fr.rows = append(fr.rows, &model.Feedback{SessionID: "sess-1", CaseID: "case-1", RoundNumber: 1, SenderUserID: 3})

	ok, err = GatingSatisfied(context.Background(), fr, reg, "sess-1", "case-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("gating must pass once both the PATIENT and the active OBSERVER have submitted")
	}
}

func TestGatingSatisfiedSkipsObserverWhenNoneActive(t *testing.T) {
	reg := registry.New()
	reg.Put(&model.Participant{UserID: 2, Role: model.Patient, IsActive: true})

	fr := &fakeFeedbackRepo{rows: []*model.Feedback{
		{SessionID: "sess-1", CaseID: "case-1", RoundNumber: 1, SenderUserID: 2},
	}}

	ok, err := GatingSatisfied(context.Background(), fr, reg, "sess-1", "case-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("with no active OBSERVER, the PATIENT's submission alone must satisfy gating")
	}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name    string
		comment string
		scores  []model.Criterion
		wantErr bool
	}{
		{"valid direct score", "good job", []model.Criterion{{Name: "History", Score: score(8)}}, false},
		{"valid sub-scores", "good job", []model.Criterion{{Name: "History", SubScores: []float64{7, 9}}}, false},
		{"empty comment", "", []model.Criterion{{Name: "History", Score: score(8)}}, true},
		{"no criteria", "good job", nil, true},
		{"both score and sub-scores", "good job", []model.Criterion{{Name: "History", Score: score(8), SubScores: []float64{7}}}, true},
		{"neither score nor sub-scores", "good job", []model.Criterion{{Name: "History"}}, true},
		{"score out of range", "good job", []model.Criterion{{Name: "History", Score: score(11)}}, true},
		{"sub-score out of range", "good job", []model.Criterion{{Name: "History", SubScores: []float64{-1}}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSubmission(tc.comment, tc.scores)
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildAndSubmitComputesOverallPerformanceAndAssignsID(t *testing.T) {
	fr := &fakeFeedbackRepo{}
	calls := 0
	newID := func() string {
		calls++
		return "generated-id"
	}

	got, err := BuildAndSubmit(context.Background(), fr, newID, model.Feedback{
		SessionID:    "sess-1",
		SenderUserID: 2,
		CaseID:       "case-1",
		RoundNumber:  1,
		Comment:      "nice work",
		CriteriaScores: []model.Criterion{
			{Name: "History", Score: score(8)},
			{Name: "Communication", SubScores: []float64{6, 10}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "generated-id" {
		t.Fatalf("expected a generated ID, got %q", got.ID)
	}
	if calls != 1 {
		t.Fatalf("newID should be called exactly once, got %d", calls)
	}
	if got.OverallPerformance != 16 {
		t.Fatalf("OverallPerformance = %v, want 16 (8 + mean(6,10))", got.OverallPerformance)
	}
	if got.OverallPerformanceLegacy != 16 {
		t.Fatalf("OverallPerformanceLegacy = %v, want 16", got.OverallPerformanceLegacy)
	}
	if len(fr.rows) != 1 {
		t.Fatalf("expected one row persisted, got %d", len(fr.rows))
	}
}

func TestBuildAndSubmitRoundsLegacyOverallPerformance(t *testing.T) {
	fr := &fakeFeedbackRepo{}
	newID := func() string { return "id-1" }

	got, err := BuildAndSubmit(context.Background(), fr, newID, model.Feedback{
		SessionID: "sess-1", SenderUserID: 2, CaseID: "case-1", RoundNumber: 1,
		Comment:        "nice work",
		CriteriaScores: []model.Criterion{{Name: "History", Score: score(8.6)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OverallPerformance != 8.6 {
		t.Fatalf("OverallPerformance = %v, want 8.6", got.OverallPerformance)
	}
	if got.OverallPerformanceLegacy != 9 {
		t.Fatalf("OverallPerformanceLegacy = %v, want 9 (round(8.6))", got.OverallPerformanceLegacy)
	}
}

func TestBuildAndSubmitUpsertsOnSecondCallSameRound(t *testing.T) {
	fr := &fakeFeedbackRepo{}
	newID := func() string { return "id-1" }

	f := model.Feedback{
		SessionID: "sess-1", SenderUserID: 2, CaseID: "case-1", RoundNumber: 1,
		Comment: "first pass", CriteriaScores: []model.Criterion{{Name: "History", Score: score(5)}},
	}
	if _, err := BuildAndSubmit(context.Background(), fr, newID, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Comment = "revised"
	f.CriteriaScores = []model.Criterion{{Name: "History", Score: score(9)}}
	if _, err := BuildAndSubmit(context.Background(), fr, newID, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fr.rows) != 1 {
		t.Fatalf("a second submission in the same round must update the existing row, got %d rows", len(fr.rows))
	}
	if fr.rows[0].Comment != "revised" {
		t.Fatalf("expected the updated comment to win, got %q", fr.rows[0].Comment)
	}
}
