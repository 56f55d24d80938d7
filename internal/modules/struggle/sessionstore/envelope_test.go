package sessionstore

import (
	"errors"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

func TestStorageKeyRoundTrip(t *testing.T) {
	k := struggle.SessionKey{TenantID: "acme", LearnerID: "l1"}
	got, err := KeyFromStorage(StorageKey(k))
	if err != nil || got != k {
		t.Fatalf("round trip: %+v %v", got, err)
	}
	if _, err := KeyFromStorage("other:acme/l1"); err == nil {
		t.Fatalf("expected prefix error")
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not json":      "{{{",
		"wrong version": `{"version":7,"saved_at":"2026-03-02T09:00:00Z","session":{}}`,
		"no session":    `{"version":1,"saved_at":"2026-03-02T09:00:00Z"}`,
		"bad score":     `{"version":1,"saved_at":"2026-03-02T09:00:00Z","session":{"key":{"tenant_id":"a","learner_id":"b"},"created_at":"2026-03-02T09:00:00Z","score":4,"consent":"full"}}`,
	}
	for name, payload := range cases {
		if _, _, err := DecodeEnvelope([]byte(payload)); !errors.Is(err, struggle.ErrCorruptSession) {
			t.Fatalf("%s: expected corrupt session, got %v", name, err)
		}
	}
}

func TestEncodeEnvelopeKeepsSavedAt(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := struggle.NewSession(struggle.SessionKey{TenantID: "acme", LearnerID: "l1"}, now, struggle.ConsentFull, map[string]string{"course": "algebra"})
	s.Signals = append(s.Signals, struggle.Signal{Type: struggle.SignalHover, Timestamp: now, Magnitude: 7})
	s.LastSignalAt = now
	b, err := EncodeEnvelope(s, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, savedAt, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !savedAt.Equal(now.Add(time.Minute)) || len(got.Signals) != 1 || got.Metadata["course"] != "algebra" {
		t.Fatalf("unexpected decode: %+v saved %s", got, savedAt)
	}
}
