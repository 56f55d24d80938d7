package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/data/archive"
	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/tuning"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
)

type captureEmitter struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (c *captureEmitter) Emit(ctx context.Context, msg realtime.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureEmitter) events(channel string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, m := range c.msgs {
		if m.Channel == channel {
			out = append(out, m.Event)
		}
	}
	return out
}

type chanAlerts struct {
	ch  chan struggle.InterventionAlert
	err error
}

func (a *chanAlerts) PublishAlert(ctx context.Context, alert struggle.InterventionAlert) error {
	a.ch <- alert
	return a.err
}

var now0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type svcFixture struct {
	svc     StruggleService
	emitter *captureEmitter
	alerts  *chanAlerts
	metrics *observability.Metrics
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	tun := tuning.Defaults()
	tun.Decision.MediumMargin = 0.05
	tun.Decision.HighMargin = 0.1

	cfg := sessionstore.DefaultConfig()
	cfg.PersistMaxElapsed = 50 * time.Millisecond
	cfg.ArchiveMaxElapsed = 50 * time.Millisecond
	now := func() time.Time { return now0 }
	store := sessionstore.New(cfg, tun, sessionstore.Deps{Archiver: archive.NewMemory(), Now: now})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = store.Close(ctx)
	})

	f := &svcFixture{
		emitter: &captureEmitter{},
		alerts:  &chanAlerts{ch: make(chan struggle.InterventionAlert, 4)},
		metrics: observability.New(),
	}
	f.svc = NewStruggleService(StruggleDeps{
		Store:    store,
		Notifier: NewStruggleNotifier(f.emitter),
		Alerts:   f.alerts,
		Metrics:  f.metrics,
		Now:      now,
	})
	return f
}

func idleEvent(key struggle.SessionKey, ago time.Duration) struggle.SignalEvent {
	return struggle.SignalEvent{
		SessionKey: key,
		RawSignal:  struggle.RawSignal{Type: "idle", Timestamp: now0.Add(-ago), Magnitude: 35},
	}
}

func TestIngestSignalTriggersNotificationAndAlert(t *testing.T) {
	f := newSvcFixture(t)
	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l-1", CourseID: "algebra"}
	ctx := context.Background()

	var last struggle.ScoreUpdateResult
	for _, ago := range []time.Duration{30 * time.Second, 20 * time.Second, 10 * time.Second} {
		res, err := f.svc.IngestSignal(ctx, idleEvent(key, ago), SourceHTTP)
		if err != nil {
			t.Fatalf("IngestSignal: %v", err)
		}
		last = res
	}
	if !last.InterventionFired || last.Intervention == nil {
		t.Fatalf("expected intervention on third idle signal, got %+v", last)
	}
	if last.Intervention.Urgency != struggle.UrgencyHigh {
		t.Fatalf("expected high urgency, got %s", last.Intervention.Urgency)
	}

	got := f.emitter.events(realtime.LearnerChannel(key))
	if len(got) != 1 || got[0] != realtime.EventInterventionTriggered {
		t.Fatalf("learner channel events: %v", got)
	}
	if len(f.emitter.events(realtime.TenantChannel("acme"))) != 1 {
		t.Fatalf("high urgency should reach the tenant channel")
	}

	select {
	case alert := <-f.alerts.ch:
		if alert.Intervention.ID != last.Intervention.ID || alert.SessionKey != key {
			t.Fatalf("unexpected alert: %+v", alert)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alert was not published")
	}
	if v := f.metrics.SignalsIngestedValue(SourceHTTP, "ok"); v != 3 {
		t.Fatalf("signals ingested ok = %v, want 3", v)
	}
}

func TestIngestSignalRejectsInvalidPayload(t *testing.T) {
	f := newSvcFixture(t)
	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l-2"}
	ev := idleEvent(key, time.Second)
	ev.Type = "telepathy"
	if _, err := f.svc.IngestSignal(context.Background(), ev, SourceKafka); !errors.Is(err, struggle.ErrInvalidSignal) {
		t.Fatalf("expected ErrInvalidSignal, got %v", err)
	}
	if v := f.metrics.SignalsIngestedValue(SourceKafka, "invalid"); v != 1 {
		t.Fatalf("invalid counter = %v", v)
	}

	bad := idleEvent(struggle.SessionKey{LearnerID: "l-2"}, time.Second)
	if _, err := f.svc.IngestSignal(context.Background(), bad, SourceHTTP); !errors.Is(err, struggle.ErrInvalidSessionKey) {
		t.Fatalf("expected ErrInvalidSessionKey, got %v", err)
	}
}

func TestAuthorizeByPrincipal(t *testing.T) {
	f := newSvcFixture(t)
	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l-3"}

	cases := []struct {
		name string
		p    *ctxutil.Principal
		ok   bool
	}{
		{"anonymous", nil, true},
		{"same learner", &ctxutil.Principal{TenantID: "acme", LearnerID: "l-3"}, true},
		{"other learner", &ctxutil.Principal{TenantID: "acme", LearnerID: "l-9"}, false},
		{"service in tenant", &ctxutil.Principal{TenantID: "acme", Service: true}, true},
		{"service other tenant", &ctxutil.Principal{TenantID: "globex", Service: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.p != nil {
				ctx = ctxutil.WithPrincipal(ctx, tc.p)
			}
			err := f.svc.Authorize(ctx, key)
			if tc.ok && err != nil {
				t.Fatalf("expected access, got %v", err)
			}
			if !tc.ok && !errors.Is(err, struggle.ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestEndSessionEmitsArchived(t *testing.T) {
	f := newSvcFixture(t)
	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l-4"}
	ctx := context.Background()
	if _, err := f.svc.StartSession(ctx, key, struggle.StartOptions{}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sum, err := f.svc.EndSession(ctx, key)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if sum.Key != key {
		t.Fatalf("summary key = %+v", sum.Key)
	}
	got := f.emitter.events(realtime.LearnerChannel(key))
	if len(got) != 1 || got[0] != realtime.EventSessionArchived {
		t.Fatalf("events: %v", got)
	}
	if _, err := f.svc.GetStatus(ctx, key); !errors.Is(err, struggle.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
}

func TestRecordOutcomeUnknownIntervention(t *testing.T) {
	f := newSvcFixture(t)
	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l-5"}
	ctx := context.Background()
	if _, err := f.svc.StartSession(ctx, key, struggle.StartOptions{}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	_, err := f.svc.RecordOutcome(ctx, key, "missing", struggle.OutcomePatch{Response: struggle.ResponseAccepted})
	if !errors.Is(err, struggle.ErrInterventionNotFound) {
		t.Fatalf("expected ErrInterventionNotFound, got %v", err)
	}
	if len(f.emitter.events(realtime.LearnerChannel(key))) != 0 {
		t.Fatalf("failed outcome must not emit")
	}
}
