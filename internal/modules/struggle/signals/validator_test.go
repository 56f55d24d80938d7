package signals

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

func TestValidateAcceptsWellFormedSignal(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := 0.4
	sig, err := NewValidator(DefaultConfig()).Validate(struggle.RawSignal{
		Type: " Hover ", Timestamp: now.Add(3 * time.Second), Magnitude: 6, PageID: "p-1", Difficulty: &d,
	}, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sig.Type != struggle.SignalHover || sig.Magnitude != 6 || sig.PageID != "p-1" || *sig.Difficulty != 0.4 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	d = 0.9
	if *sig.Difficulty != 0.4 {
		t.Fatalf("signal must not alias the raw payload")
	}
}

func TestValidateRejects(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bad := 1.5
	cases := []struct {
		name string
		raw  struggle.RawSignal
	}{
		{"unknown type", struggle.RawSignal{Type: "blink", Timestamp: now}},
		{"missing timestamp", struggle.RawSignal{Type: "idle"}},
		{"future", struggle.RawSignal{Type: "idle", Timestamp: now.Add(6 * time.Second), Magnitude: 1}},
		{"too old", struggle.RawSignal{Type: "idle", Timestamp: now.Add(-25 * time.Hour), Magnitude: 1}},
		{"older than retention", struggle.RawSignal{Type: "idle", Timestamp: now.Add(-45 * time.Minute), Magnitude: 400}},
		{"negative", struggle.RawSignal{Type: "idle", Timestamp: now, Magnitude: -1}},
		{"nan", struggle.RawSignal{Type: "idle", Timestamp: now, Magnitude: math.NaN()}},
		{"inf", struggle.RawSignal{Type: "hover", Timestamp: now, Magnitude: math.Inf(1)}},
		{"idle above ceiling", struggle.RawSignal{Type: "idle", Timestamp: now, Magnitude: 4*3600 + 1}},
		{"scroll above ceiling", struggle.RawSignal{Type: "scroll", Timestamp: now, Magnitude: 1001}},
		{"help above ceiling", struggle.RawSignal{Type: "help_request", Timestamp: now, Magnitude: 101}},
		{"difficulty", struggle.RawSignal{Type: "hover", Timestamp: now, Magnitude: 1, Difficulty: &bad}},
	}
	v := NewValidator(DefaultConfig())
	for _, tc := range cases {
		if _, err := v.Validate(tc.raw, now); !errors.Is(err, struggle.ErrInvalidSignal) {
			t.Fatalf("%s: expected ErrInvalidSignal, got %v", tc.name, err)
		}
	}
}

func TestValidateBoundaryValues(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	v := NewValidator(DefaultConfig())
	for _, raw := range []struggle.RawSignal{
		{Type: "idle", Timestamp: now.Add(5 * time.Second), Magnitude: 0},
		{Type: "idle", Timestamp: now, Magnitude: 4 * 3600},
		{Type: "scroll", Timestamp: now, Magnitude: 1000},
		{Type: "idle", Timestamp: now.Add(-30 * time.Minute), Magnitude: 400},
	} {
		if _, err := v.Validate(raw, now); err != nil {
			t.Fatalf("%+v should be accepted: %v", raw, err)
		}
	}
}
