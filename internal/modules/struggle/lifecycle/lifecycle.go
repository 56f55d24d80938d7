package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-struggle/internal/data/kv"
	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type Config struct {
	IdleCeiling        time.Duration
	MaxSessionDuration time.Duration
	SweepInterval      time.Duration
	// RecoverConcurrency bounds parallel envelope reads on cold start.
	RecoverConcurrency int
}

func DefaultConfig() Config {
	return Config{
		IdleCeiling:        time.Hour,
		MaxSessionDuration: 4 * time.Hour,
		SweepInterval:      5 * time.Minute,
		RecoverConcurrency: 16,
	}
}

func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		IdleCeiling:        envutil.Duration("STRUGGLE_IDLE_CEILING", d.IdleCeiling),
		MaxSessionDuration: envutil.Duration("STRUGGLE_MAX_SESSION_DURATION", d.MaxSessionDuration),
		SweepInterval:      envutil.Duration("STRUGGLE_SWEEP_INTERVAL", d.SweepInterval),
		RecoverConcurrency: envutil.Int("STRUGGLE_RECOVER_CONCURRENCY", d.RecoverConcurrency),
	}
}

// Manager owns cold-start recovery and the periodic archival sweep.
type Manager struct {
	cfg   Config
	store *sessionstore.Store
	kv    kv.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewManager(cfg Config, store *sessionstore.Store, backend kv.Store, log *logger.Logger, now func() time.Time) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.RecoverConcurrency <= 0 {
		cfg.RecoverConcurrency = 1
	}
	return &Manager{
		cfg:   cfg,
		store: store,
		kv:    backend,
		log:   log.With("component", "StruggleLifecycle"),
		now:   func() time.Time { return now().UTC() },
	}
}

func (m *Manager) Config() Config { return m.cfg }

type RecoveryReport struct {
	Restored   int   `json:"restored"`
	Stale      int   `json:"stale"`
	Corrupt    int   `json:"corrupt"`
	OverLimit  int   `json:"over_limit"`
	Failed     int   `json:"failed"`
	Envelopes  int   `json:"envelopes"`
	DurationMs int64 `json:"duration_ms"`
}

// Recover reloads persisted envelopes. Stale and undecodable ones are
// archived instead of resumed. Per-envelope failures are logged and counted;
// only a failed listing aborts recovery.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	started := time.Now()
	keys, err := m.kv.List(ctx, sessionstore.KeyPrefix)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("%w: list envelopes: %v", struggle.ErrStorageUnavailable, err)
	}

	var restored, stale, corrupt, overLimit, failed atomic.Int64
	now := m.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RecoverConcurrency)
	for _, storageKey := range keys {
		storageKey := storageKey
		g.Go(func() error {
			payload, err := m.kv.Get(gctx, storageKey)
			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}
			if err != nil {
				failed.Add(1)
				m.log.Warn("envelope read failed", "storage_key", storageKey, "error", err)
				return nil
			}

			sess, _, err := sessionstore.DecodeEnvelope(payload)
			if err != nil {
				m.log.Warn("corrupt envelope on restart", "storage_key", storageKey, "error", err)
				if aerr := m.store.ArchiveRaw(gctx, storageKey, payload, struggle.ReasonCorrupt); aerr != nil {
					failed.Add(1)
					m.log.Error("archive of corrupt envelope failed", "storage_key", storageKey, "error", aerr)
					return nil
				}
				corrupt.Add(1)
				return nil
			}

			if m.expired(sess, now) {
				if aerr := m.store.ArchiveDetached(gctx, sess, struggle.ReasonStaleOnRestart); aerr != nil {
					failed.Add(1)
					m.log.Error("archive of stale session failed", "storage_key", storageKey, "error", aerr)
					return nil
				}
				stale.Add(1)
				return nil
			}

			switch err := m.store.Restore(sess); {
			case err == nil:
				restored.Add(1)
			case errors.Is(err, struggle.ErrCapacityExceeded):
				if aerr := m.store.ArchiveDetached(gctx, sess, struggle.ReasonCapacityOnRestart); aerr != nil {
					failed.Add(1)
					m.log.Error("archive of over-capacity session failed", "storage_key", storageKey, "error", aerr)
					return nil
				}
				overLimit.Add(1)
			default:
				failed.Add(1)
				m.log.Warn("restore failed", "storage_key", storageKey, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := RecoveryReport{
		Restored:   int(restored.Load()),
		Stale:      int(stale.Load()),
		Corrupt:    int(corrupt.Load()),
		OverLimit:  int(overLimit.Load()),
		Failed:     int(failed.Load()),
		Envelopes:  len(keys),
		DurationMs: time.Since(started).Milliseconds(),
	}
	m.log.Info("session recovery finished",
		"envelopes", rep.Envelopes,
		"restored", rep.Restored,
		"stale", rep.Stale,
		"corrupt", rep.Corrupt,
		"over_limit", rep.OverLimit,
		"failed", rep.Failed,
		"duration_ms", rep.DurationMs,
	)
	return rep, ctx.Err()
}

// expired reports whether a persisted session should not be resumed.
func (m *Manager) expired(s *struggle.Session, now time.Time) bool {
	if m.cfg.MaxSessionDuration > 0 && now.Sub(s.CreatedAt) > m.cfg.MaxSessionDuration {
		return true
	}
	return m.cfg.IdleCeiling > 0 && now.Sub(s.LastActivityAt) > m.cfg.IdleCeiling
}

type SweepReport struct {
	Scanned     int `json:"scanned"`
	IdleTimeout int `json:"idle_timeout"`
	MaxDuration int `json:"max_duration"`
	Corrupt     int `json:"corrupt"`
	Failed      int `json:"failed"`
	Reflushed   int `json:"reflushed"`
}

// Sweep archives idle, overlong and corrupt sessions, then reschedules
// envelopes whose last write failed.
func (m *Manager) Sweep(ctx context.Context) SweepReport {
	var rep SweepReport
	for _, key := range m.store.Keys() {
		if ctx.Err() != nil {
			break
		}
		rep.Scanned++
		reason, archived, err := m.store.ArchiveIf(ctx, key, m.decide)
		switch {
		case errors.Is(err, struggle.ErrSessionNotFound):
			// ended concurrently
		case err != nil:
			rep.Failed++
			m.log.Warn("sweep archive failed", "session_key", key.String(), "reason", reason, "error", err)
		case !archived:
		case reason == struggle.ReasonIdleTimeout:
			rep.IdleTimeout++
		case reason == struggle.ReasonMaxDuration:
			rep.MaxDuration++
		case reason == struggle.ReasonCorrupt:
			rep.Corrupt++
		}
	}
	rep.Reflushed = m.store.FlushDirty()
	if rep.IdleTimeout+rep.MaxDuration+rep.Corrupt+rep.Failed+rep.Reflushed > 0 {
		m.log.Info("lifecycle sweep",
			"scanned", rep.Scanned,
			"idle_timeout", rep.IdleTimeout,
			"max_duration", rep.MaxDuration,
			"corrupt", rep.Corrupt,
			"failed", rep.Failed,
			"reflushed", rep.Reflushed,
		)
	} else {
		m.log.Debug("lifecycle sweep", "scanned", rep.Scanned)
	}
	return rep
}

func (m *Manager) decide(s *struggle.Session, now time.Time) (struggle.ArchiveReason, bool) {
	if m.cfg.IdleCeiling > 0 && now.Sub(s.LastActivityAt) > m.cfg.IdleCeiling {
		return struggle.ReasonIdleTimeout, true
	}
	if m.cfg.MaxSessionDuration > 0 && now.Sub(s.CreatedAt) > m.cfg.MaxSessionDuration {
		return struggle.ReasonMaxDuration, true
	}
	return "", false
}
