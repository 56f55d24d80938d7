package signalgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/signals"
)

type recordingSink struct {
	mu     sync.Mutex
	events map[struggle.SessionKey][]struggle.SignalEvent
}

func (s *recordingSink) Send(ctx context.Context, ev struggle.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[struggle.SessionKey][]struggle.SignalEvent)
	}
	s.events[ev.SessionKey] = append(s.events[ev.SessionKey], ev)
	return nil
}

func TestGeneratedEventsAreValidAndOrdered(t *testing.T) {
	g := New(Config{Tenant: "acme", Courses: 2, Learners: 6, Events: 10, Concurrency: 3, StruggleRate: 0.5}, 42)
	sink := &recordingSink{}
	rep, err := g.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 60 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	v := signals.NewValidator(signals.DefaultConfig())
	now := time.Now()
	for key, evs := range sink.events {
		if err := key.Validate(); err != nil {
			t.Fatalf("bad key %v: %v", key, err)
		}
		for i, ev := range evs {
			if _, err := v.Validate(ev.RawSignal, now); err != nil {
				t.Fatalf("generated invalid signal %+v: %v", ev.RawSignal, err)
			}
			if i > 0 && ev.Timestamp.Before(evs[i-1].Timestamp) {
				t.Fatalf("events for %s out of order", key)
			}
		}
	}
}

func TestSameSeedSamePopulation(t *testing.T) {
	a := New(Config{Tenant: "acme", Learners: 5, StruggleRate: 0.3}, 7).Learners()
	b := New(Config{Tenant: "acme", Learners: 5, StruggleRate: 0.3}, 7).Learners()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("learner %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestHTTPSinkPostsJSON(t *testing.T) {
	var got struggle.SignalEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := struggle.SignalEvent{
		SessionKey: struggle.SessionKey{TenantID: "acme", LearnerID: "l-1"},
		RawSignal:  struggle.RawSignal{Type: "idle", Timestamp: time.Now().UTC(), Magnitude: 40},
	}
	if err := NewHTTPSink(srv.URL, "tok").Send(context.Background(), ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer tok" || got.SessionKey != ev.SessionKey || got.Type != "idle" {
		t.Fatalf("server saw auth=%q event=%+v", auth, got)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"invalid_signal"}}`, http.StatusBadRequest)
	}))
	defer bad.Close()
	if err := NewHTTPSink(bad.URL, "").Send(context.Background(), ev); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}
