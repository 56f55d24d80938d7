package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

var errMissing = errors.New("missing")

func TestClassifyMatchesWrappedSentinel(t *testing.T) {
	rules := []Rule{{Target: errMissing, Status: http.StatusNotFound, Code: "missing"}}
	got := Classify(fmt.Errorf("load: %w", errMissing), rules)
	if got.Status != http.StatusNotFound || got.Code != "missing" {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if !errors.Is(got, errMissing) {
		t.Fatalf("classified error must still match sentinel")
	}
}

func TestClassifyKeepsExistingAPIError(t *testing.T) {
	orig := New(http.StatusConflict, "conflict", nil)
	if got := Classify(fmt.Errorf("wrap: %w", orig), nil); got != orig {
		t.Fatalf("expected original *Error back")
	}
	if got := Classify(errors.New("boom"), nil); got.Status != http.StatusInternalServerError {
		t.Fatalf("unmatched error should be 500, got %d", got.Status)
	}
}
