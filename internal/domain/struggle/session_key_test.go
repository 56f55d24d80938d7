package struggle

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseSessionKeyRoundTrip(t *testing.T) {
	for _, raw := range []string{"acme/learner-1", "acme/learner-1/course-9"} {
		k, err := ParseSessionKey(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if k.String() != raw {
			t.Fatalf("round trip: got=%q want=%q", k.String(), raw)
		}
	}
}

func TestParseSessionKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "acme", "acme/", "/learner", "a/b/c/d", "a/b/"} {
		if _, err := ParseSessionKey(raw); !errors.Is(err, ErrInvalidSessionKey) {
			t.Fatalf("%q: expected ErrInvalidSessionKey, got %v", raw, err)
		}
	}
}

func TestSessionKeyDecodesBothForms(t *testing.T) {
	want := SessionKey{TenantID: "acme", LearnerID: "learner-1", CourseID: "bio-101"}
	for _, body := range []string{
		`{"session_key":"acme/learner-1/bio-101"}`,
		`{"session_key":{"tenant_id":"acme","learner_id":"learner-1","course_id":"bio-101"}}`,
	} {
		var ev SignalEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if ev.SessionKey != want {
			t.Fatalf("%s: got %+v", body, ev.SessionKey)
		}
	}

	var k SessionKey
	if err := json.Unmarshal([]byte(`"acme"`), &k); !errors.Is(err, ErrInvalidSessionKey) {
		t.Fatalf("expected ErrInvalidSessionKey, got %v", err)
	}
	b, err := json.Marshal(want)
	if err != nil || string(b) != `{"tenant_id":"acme","learner_id":"learner-1","course_id":"bio-101"}` {
		t.Fatalf("encoding should stay the object form: %s %v", b, err)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession(SessionKey{TenantID: "t", LearnerID: "l"}, now, ConsentFull, map[string]string{"page": "1"})
	d := 0.5
	s.Signals = append(s.Signals, Signal{Type: SignalHover, Timestamp: now, Magnitude: 6, Difficulty: &d})
	s.Interventions = append(s.Interventions, InterventionRecord{ID: "x"})

	c := s.Clone()
	*c.Signals[0].Difficulty = 0.9
	c.Metadata["page"] = "2"
	c.Interventions[0].ID = "y"

	if *s.Signals[0].Difficulty != 0.5 || s.Metadata["page"] != "1" || s.Interventions[0].ID != "x" {
		t.Fatalf("clone shares state with original")
	}
}

func TestCheckIntegrity(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewSession(SessionKey{TenantID: "t", LearnerID: "l"}, now, "", nil)
	if s.Consent != ConsentFull {
		t.Fatalf("expected default consent full, got %q", s.Consent)
	}
	if err := s.CheckIntegrity(); err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	s.Signals = []Signal{
		{Type: SignalIdle, Timestamp: now.Add(time.Minute), Magnitude: 30},
		{Type: SignalIdle, Timestamp: now, Magnitude: 30},
	}
	if err := s.CheckIntegrity(); !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected out-of-order corruption, got %v", err)
	}
	s.Signals = nil
	s.Score = 1.5
	if err := s.CheckIntegrity(); !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected score corruption, got %v", err)
	}
}

func TestOutcomePatchValidate(t *testing.T) {
	bad := 1.2
	if err := (OutcomePatch{Effectiveness: &bad}).Validate(); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected invalid effectiveness, got %v", err)
	}
	if err := (OutcomePatch{Response: "maybe"}).Validate(); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected invalid response, got %v", err)
	}
	if err := (OutcomePatch{Response: ResponseSnoozed}).Validate(); err != nil {
		t.Fatalf("snoozed should be valid: %v", err)
	}
}
