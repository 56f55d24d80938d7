package logger

import (
	"strings"
	"testing"
)

func TestSanitizeHashesLearnerIdentifiers(t *testing.T) {
	if !redactionOn() {
		t.Skip("LOG_REDACTION_ENABLED is off")
	}
	out := sanitizeKVs([]interface{}{
		"learner_id", "learner-42",
		"session_key", "acme/learner-42/bio-101",
		"auth_token", "abc",
		"score", 0.8,
	})
	if len(out) != 8 {
		t.Fatalf("expected 8 values, got %d", len(out))
	}
	for _, i := range []int{1, 3} {
		s, _ := out[i].(string)
		if !strings.HasPrefix(s, "hash:") || strings.Contains(s, "learner-42") {
			t.Fatalf("identifier not hashed: %v", out[i])
		}
	}
	if out[1] != hashValue("learner-42") {
		t.Fatalf("hash must be stable for correlation")
	}
	if out[5] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", out[5])
	}
	if out[7] != 0.8 {
		t.Fatalf("score should pass through, got %v", out[7])
	}
}

func TestSanitizeRedactsBearerLookalikes(t *testing.T) {
	if !redactionOn() {
		t.Skip("LOG_REDACTION_ENABLED is off")
	}
	jwtish := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJsZWFybmVyIn0.sig"
	out := sanitizeKVs([]interface{}{"header", jwtish, "dangling"})
	if out[1] != "[REDACTED]" {
		t.Fatalf("jwt-shaped value leaked: %v", out[1])
	}
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd trailing key must be preserved: %v", out)
	}
}
