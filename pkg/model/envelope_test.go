package model

import (
	"encoding/json"
	"testing"
)

// TestEnvelopeMarshalJSONFlattensPayload pins §6.2's "all envelopes are
// JSON objects with a type discriminator and sessionCode": the wire bytes
// must carry type/sessionCode alongside the payload's own fields in one
// object, not as a separate untagged document.
func TestEnvelopeMarshalJSONFlattensPayload(t *testing.T) {
	env := Envelope{
		Type:        EnvPhaseChange,
		SessionCode: "ABC123",
		Payload: PhaseChangePayload{
			Phase:           Reading,
			DurationSeconds: 300,
			StartTimestamp:  1000,
		},
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["type"] != string(EnvPhaseChange) {
		t.Errorf("type = %v, want %s", got["type"], EnvPhaseChange)
	}
	if got["sessionCode"] != "ABC123" {
		t.Errorf("sessionCode = %v, want ABC123", got["sessionCode"])
	}
	if got["phase"] != string(Reading) {
		t.Errorf("phase = %v, want %s (payload fields must ride alongside type/sessionCode)", got["phase"], Reading)
	}
	if got["durationSeconds"] != float64(300) {
		t.Errorf("durationSeconds = %v, want 300", got["durationSeconds"])
	}
	if got["startTimestamp"] != float64(1000) {
		t.Errorf("startTimestamp = %v, want 1000", got["startTimestamp"])
	}
}

// TestEnvelopeMarshalJSONNilPayload covers envelopes with no payload
// (none currently defined, but MarshalJSON must not panic on one).
func TestEnvelopeMarshalJSONNilPayload(t *testing.T) {
	env := Envelope{Type: EnvSessionEnded, SessionCode: "XYZ789"}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != string(EnvSessionEnded) || got["sessionCode"] != "XYZ789" {
		t.Errorf("got %v, want type/sessionCode preserved with a nil payload", got)
	}
}
