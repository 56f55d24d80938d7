package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/data/archive"
	"github.com/yungbote/neurobridge-struggle/internal/data/kv"
	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/tuning"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fixture struct {
	clock *clock
	kv    kv.Store
	arch  *archive.Memory
	store *sessionstore.Store
	mgr   *Manager
}

func newFixture(t *testing.T, maxActive int) *fixture {
	t.Helper()
	f := &fixture{
		clock: &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		kv:    kv.NewMemoryStore(),
		arch:  archive.NewMemory(),
	}
	f.reopen(t, maxActive)
	return f
}

// reopen simulates a process restart over the same backends.
func (f *fixture) reopen(t *testing.T, maxActive int) {
	t.Helper()
	cfg := sessionstore.DefaultConfig()
	cfg.MaxActiveSessions = maxActive
	cfg.PersistMaxElapsed = 50 * time.Millisecond
	cfg.ArchiveMaxElapsed = 50 * time.Millisecond
	f.store = sessionstore.New(cfg, tuning.Defaults(), sessionstore.Deps{KV: f.kv, Archiver: f.arch, Now: f.clock.Now})
	f.mgr = NewManager(DefaultConfig(), f.store, f.kv, nil, f.clock.Now)
	store := f.store
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = store.Close(ctx)
	})
}

func key(learner string) struggle.SessionKey {
	return struggle.SessionKey{TenantID: "acme", LearnerID: learner}
}

func hover(at time.Time) struggle.Signal {
	return struggle.Signal{Type: struggle.SignalHover, Timestamp: at, Magnitude: 8}
}

func putEnvelope(t *testing.T, store kv.Store, s *struggle.Session) {
	t.Helper()
	b, err := sessionstore.EncodeEnvelope(s, s.LastActivityAt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.Put(context.Background(), sessionstore.StorageKey(s.Key), b); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestSweepArchivesIdleSessions(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	if _, err := f.store.AppendSignal(ctx, key("idle"), hover(f.clock.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := f.store.AppendSignal(ctx, key("busy"), hover(f.clock.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}

	f.clock.Advance(50 * time.Minute)
	if _, err := f.store.AppendSignal(ctx, key("busy"), hover(f.clock.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.clock.Advance(11 * time.Minute)

	rep := f.mgr.Sweep(ctx)
	if rep.Scanned != 2 || rep.IdleTimeout != 1 {
		t.Fatalf("unexpected sweep report: %+v", rep)
	}
	if _, err := f.store.GetStatus(ctx, key("idle")); !errors.Is(err, struggle.ErrSessionNotFound) {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := f.store.GetStatus(ctx, key("busy")); err != nil {
		t.Fatalf("busy session should survive: %v", err)
	}
	rows := f.arch.ByReason(struggle.ReasonIdleTimeout)
	if len(rows) != 1 || rows[0].LearnerID != "idle" {
		t.Fatalf("expected one idle_timeout archive row, got %d", len(rows))
	}
}

func TestSweepArchivesOverlongSessions(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := f.store.AppendSignal(ctx, key("marathon"), hover(f.clock.Now())); err != nil {
			t.Fatalf("append: %v", err)
		}
		f.clock.Advance(50 * time.Minute)
	}
	rep := f.mgr.Sweep(ctx)
	if rep.MaxDuration != 1 {
		t.Fatalf("expected max_duration archival, got %+v", rep)
	}
	if f.store.Active() != 0 {
		t.Fatalf("expected empty active set")
	}
}

func TestRecoverRestoresArchivesAndDiscards(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	now := f.clock.Now()

	fresh := struggle.NewSession(key("fresh"), now.Add(-10*time.Minute), struggle.ConsentFull, nil)
	fresh.Signals = []struggle.Signal{hover(now.Add(-time.Minute))}
	fresh.LastSignalAt = now.Add(-time.Minute)
	fresh.LastActivityAt = now.Add(-time.Minute)
	fresh.Counters.SignalCount = 1
	putEnvelope(t, f.kv, fresh)

	old := struggle.NewSession(key("old"), now.Add(-5*time.Hour), struggle.ConsentFull, nil)
	old.LastActivityAt = now.Add(-30 * time.Minute)
	putEnvelope(t, f.kv, old)

	if err := f.kv.Put(ctx, sessionstore.StorageKey(key("broken")), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}

	rep, err := f.mgr.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Envelopes != 3 || rep.Restored != 1 || rep.Stale != 1 || rep.Corrupt != 1 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	snap, err := f.store.GetStatus(ctx, key("fresh"))
	if err != nil {
		t.Fatalf("fresh session should be active: %v", err)
	}
	if len(snap.Signals) != 1 || snap.Counters.SignalCount != 1 {
		t.Fatalf("restored history differs: %+v", snap.Counters)
	}
	if _, err := f.store.GetStatus(ctx, key("old")); !errors.Is(err, struggle.ErrSessionNotFound) {
		t.Fatalf("stale session must not be resumed")
	}
	if len(f.arch.ByReason(struggle.ReasonStaleOnRestart)) != 1 || len(f.arch.ByReason(struggle.ReasonCorrupt)) != 1 {
		t.Fatalf("expected stale and corrupt archive rows")
	}
	keys, _ := f.kv.List(ctx, sessionstore.KeyPrefix)
	if len(keys) != 1 || keys[0] != sessionstore.StorageKey(key("fresh")) {
		t.Fatalf("only the restored envelope should remain, got %v", keys)
	}
}

func TestRecoverRespectsCapacity(t *testing.T) {
	f := newFixture(t, 1)
	now := f.clock.Now()
	for _, l := range []string{"a", "b"} {
		s := struggle.NewSession(key(l), now.Add(-time.Minute), struggle.ConsentFull, nil)
		putEnvelope(t, f.kv, s)
	}
	rep, err := f.mgr.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Restored != 1 || rep.OverLimit != 1 || f.store.Active() != 1 {
		t.Fatalf("unexpected report: %+v active=%d", rep, f.store.Active())
	}
	if len(f.arch.ByReason(struggle.ReasonCapacityOnRestart)) != 1 {
		t.Fatalf("expected capacity_on_restart archive row")
	}
}

func TestRestartRoundTrip(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	k := key("restart")
	for i := 0; i < 4; i++ {
		if _, err := f.store.AppendSignal(ctx, k, struggle.Signal{Type: struggle.SignalIdle, Timestamp: f.clock.Advance(20 * time.Second), Magnitude: 45}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	before, _ := f.store.GetStatus(ctx, k)
	if err := f.store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	f.reopen(t, 100)
	if _, err := f.mgr.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	after, err := f.store.GetStatus(ctx, k)
	if err != nil {
		t.Fatalf("status after restart: %v", err)
	}
	if after.Score != before.Score || len(after.Signals) != len(before.Signals) || len(after.Interventions) != len(before.Interventions) {
		t.Fatalf("state changed across restart: %v/%d vs %v/%d", after.Score, len(after.Signals), before.Score, len(before.Signals))
	}
}

func TestSchedulerTickRunsSweep(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	if _, err := f.store.AppendSignal(ctx, key("tick"), hover(f.clock.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	s := NewScheduler(f.mgr)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	s.tick()
	if f.store.Active() != 0 {
		t.Fatalf("tick should have archived the idle session")
	}
}

func TestSweepArchivesCorruptSessions(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	now := f.clock.Now()
	if _, err := f.store.AppendSignal(ctx, key("healthy"), hover(now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	broken := struggle.NewSession(key("broken"), now.Add(-time.Minute), struggle.ConsentFull, nil)
	broken.Score = 2
	if err := f.store.Restore(broken); err != nil {
		t.Fatalf("restore: %v", err)
	}

	rep := f.mgr.Sweep(ctx)
	if rep.Scanned != 2 || rep.Corrupt != 1 || rep.Failed != 0 {
		t.Fatalf("unexpected sweep report: %+v", rep)
	}
	if _, err := f.store.GetStatus(ctx, key("broken")); !errors.Is(err, struggle.ErrSessionNotFound) {
		t.Fatalf("corrupt session should be gone, got %v", err)
	}
	if _, err := f.store.GetStatus(ctx, key("healthy")); err != nil {
		t.Fatalf("healthy session should survive: %v", err)
	}
	rows := f.arch.ByReason(struggle.ReasonCorrupt)
	if len(rows) != 1 || rows[0].LearnerID != "broken" {
		t.Fatalf("expected one corrupt archive row, got %d", len(rows))
	}
}
