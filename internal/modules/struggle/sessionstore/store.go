package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-struggle/internal/data/kv"
	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/decision"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/prediction"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/scoring"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/tuning"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

// Archiver receives sessions leaving the active set. Writing the same row
// twice must be harmless.
type Archiver interface {
	Archive(ctx context.Context, row *struggle.SessionArchive) error
}

type Deps struct {
	KV       kv.Store
	Archiver Archiver
	Observer Observer
	Log      *logger.Logger
	// Now defaults to time.Now; tests inject a fake clock.
	Now func() time.Time
}

// entry is one session's serialized unit. mu guards sess; persistMu orders
// durable writes against archival for the same key. score mirrors sess.Score
// so aggregate reads never wait on a session lock.
type entry struct {
	mu         sync.Mutex
	sess       *struggle.Session
	key        string
	storageKey string
	score      atomic.Uint64

	persistMu sync.Mutex
	// encodeSeq numbers envelopes in state order (guarded by mu); writtenSeq
	// is the newest one stored (guarded by persistMu).
	encodeSeq  uint64
	writtenSeq uint64

	closed  atomic.Bool
	pending atomic.Bool
	dirty   atomic.Bool
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type Store struct {
	cfg     Config
	tuning  tuning.Tuning
	machine *decision.Machine

	shards []*shard
	active atomic.Int64

	kv       kv.Store
	archiver Archiver
	obs      Observer
	log      *logger.Logger
	now      func() time.Time

	persister *persister

	signalsProcessed   atomic.Int64
	interventionsFired atomic.Int64
	suppressed         atomic.Int64
	slowOps            atomic.Int64
	persistFailures    atomic.Int64
}

func New(cfg Config, t tuning.Tuning, deps Deps) *Store {
	cfg = cfg.normalized()
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.KV == nil {
		deps.KV = kv.NewMemoryStore()
	}
	s := &Store{
		cfg:      cfg,
		tuning:   t,
		machine:  decision.New(t.Decision),
		shards:   make([]*shard, cfg.Shards),
		kv:       deps.KV,
		archiver: deps.Archiver,
		obs:      deps.Observer,
		log:      deps.Log.With("component", "SessionStore"),
		now:      func() time.Time { return deps.Now().UTC() },
	}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]*entry)}
	}
	s.persister = newPersister(s, cfg.PersistWorkers, cfg.PersistQueueSize)
	return s
}

// WithInterventionIDs overrides intervention id generation.
func (s *Store) WithInterventionIDs(fn func() string) *Store {
	s.machine.WithIDs(fn)
	return s
}

func (s *Store) Tuning() tuning.Tuning { return s.tuning }

// ---------- registry ----------

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) lookup(key string) *entry {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e := sh.m[key]
	sh.mu.RUnlock()
	return e
}

// insert adds a new entry unless one exists. Capacity is reserved under the
// shard lock so the ceiling holds across concurrent starts.
func (s *Store) insert(key struggle.SessionKey, build func() *struggle.Session) (*entry, bool, error) {
	k := key.String()
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e := sh.m[k]; e != nil {
		return e, true, nil
	}
	if !s.reserve() {
		return nil, false, fmt.Errorf("%w: %d active sessions", struggle.ErrCapacityExceeded, s.cfg.MaxActiveSessions)
	}
	e := &entry{sess: build(), key: k, storageKey: StorageKey(key)}
	e.setScore(e.sess.Score)
	sh.m[k] = e
	s.obs.ActiveSessions(s.active.Load())
	return e, false, nil
}

func (e *entry) setScore(v float64) { e.score.Store(math.Float64bits(v)) }

func (e *entry) loadScore() float64 { return math.Float64frombits(e.score.Load()) }

func (s *Store) reserve() bool {
	for {
		n := s.active.Load()
		if n >= int64(s.cfg.MaxActiveSessions) {
			return false
		}
		if s.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Store) release(e *entry) {
	sh := s.shardFor(e.key)
	sh.mu.Lock()
	if sh.m[e.key] == e {
		delete(sh.m, e.key)
		s.active.Add(-1)
	}
	sh.mu.Unlock()
	s.obs.ActiveSessions(s.active.Load())
}

// acquire returns the live entry for key with its lock held.
func (s *Store) acquire(key struggle.SessionKey, create bool) (*entry, bool, error) {
	k := key.String()
	for {
		created := false
		e := s.lookup(k)
		if e == nil {
			if !create {
				return nil, false, fmt.Errorf("%w: %s", struggle.ErrSessionNotFound, k)
			}
			var existing bool
			var err error
			e, existing, err = s.insert(key, func() *struggle.Session {
				return struggle.NewSession(key, s.now(), struggle.ConsentFull, nil)
			})
			if err != nil {
				return nil, false, err
			}
			created = !existing
		}
		e.mu.Lock()
		if e.closed.Load() {
			// archived between lookup and lock
			e.mu.Unlock()
			continue
		}
		return e, created, nil
	}
}

func (s *Store) Active() int64 { return s.active.Load() }

// Keys returns a point-in-time list of active session keys.
func (s *Store) Keys() []struggle.SessionKey {
	var out []struggle.SessionKey
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.m {
			out = append(out, e.sess.Key)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (s *Store) entries() []*entry {
	var out []*entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.m {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// ---------- operations ----------

func (s *Store) StartSession(ctx context.Context, key struggle.SessionKey, opts struggle.StartOptions) (struggle.SessionHandle, error) {
	defer s.track("start_session", time.Now())
	if err := key.Validate(); err != nil {
		return struggle.SessionHandle{}, err
	}
	if opts.Consent != "" && !opts.Consent.Valid() {
		return struggle.SessionHandle{}, fmt.Errorf("%w: %q", struggle.ErrInvalidConsent, opts.Consent)
	}
	for {
		e, existing, err := s.insert(key, func() *struggle.Session {
			return struggle.NewSession(key, s.now(), opts.Consent, opts.Metadata)
		})
		if err != nil {
			return struggle.SessionHandle{}, err
		}
		if existing && !opts.Idempotent {
			return struggle.SessionHandle{}, fmt.Errorf("%w: %s", struggle.ErrAlreadyActive, key)
		}
		e.mu.Lock()
		if e.closed.Load() {
			e.mu.Unlock()
			continue
		}
		h := struggle.SessionHandle{Key: key, CreatedAt: e.sess.CreatedAt, Consent: e.sess.Consent, Existing: existing}
		e.mu.Unlock()
		if !existing {
			s.log.Info("session started", "session_key", e.key, "consent", h.Consent)
			s.schedule(e)
		}
		return h, nil
	}
}

func (s *Store) AppendSignal(ctx context.Context, key struggle.SessionKey, sig struggle.Signal) (struggle.ScoreUpdateResult, error) {
	started := time.Now()
	defer s.track("append_signal", started)
	if err := key.Validate(); err != nil {
		return struggle.ScoreUpdateResult{}, err
	}
	e, created, err := s.acquire(key, true)
	if err != nil {
		return struggle.ScoreUpdateResult{}, err
	}
	if created {
		s.log.Debug("session auto-created by signal", "session_key", e.key)
	}
	res, err := s.appendLocked(ctx, e, sig, started)
	e.mu.Unlock()
	if err != nil {
		return struggle.ScoreUpdateResult{}, err
	}
	s.schedule(e)
	return res, nil
}

func (s *Store) appendLocked(ctx context.Context, e *entry, sig struggle.Signal, started time.Time) (struggle.ScoreUpdateResult, error) {
	sess := e.sess
	now := s.now()

	if sess.Consent == struggle.ConsentNone {
		sess.Counters.DroppedSignals++
		sess.LastActivityAt = later(sess.LastActivityAt, now)
		return struggle.ScoreUpdateResult{Score: 0, State: sess.State}, nil
	}
	if sig.Timestamp.Before(sess.LastSignalAt) {
		return struggle.ScoreUpdateResult{}, fmt.Errorf("%w: timestamp %s precedes last accepted %s",
			struggle.ErrInvalidSignal, sig.Timestamp.Format(time.RFC3339Nano), sess.LastSignalAt.Format(time.RFC3339Nano))
	}
	// a signal outside retention would be trimmed straight away
	if w := s.cfg.RetentionWindow; w > 0 && sig.Timestamp.Before(now.Add(-w)) {
		return struggle.ScoreUpdateResult{}, fmt.Errorf("%w: timestamp %s is outside the %s retention window",
			struggle.ErrInvalidSignal, sig.Timestamp.Format(time.RFC3339Nano), w)
	}

	sess.Signals = append(sess.Signals, sig)
	sess.LastSignalAt = sig.Timestamp
	sess.Signals = trimSignals(sess.Signals, now, s.cfg.RetentionWindow, s.cfg.RetentionMaxSignals)

	scored := scoring.Score(sess.Signals, now, s.tuning.Scoring)
	sess.Score = scored.Score
	e.setScore(scored.Score)
	if scored.Score > sess.HighWaterScore {
		sess.HighWaterScore = scored.Score
	}

	if s.cfg.PredictOnAppend {
		s.refreshPrediction(sess, now)
	}

	out := s.machine.Evaluate(sess, decision.Input{Score: scored, Prediction: sess.LatestValidPrediction(now), Now: now})

	sess.Counters.SignalCount++
	sess.LastActivityAt = later(sess.LastActivityAt, now)
	elapsed := time.Since(started)
	sess.Counters.ObserveProcessing(elapsed)
	if elapsed > s.cfg.OperationBudget {
		sess.Counters.SlowOperations++
	}

	if err := sess.CheckIntegrity(); err != nil {
		s.log.Error("session state corrupt; archiving", "session_key", e.key, "error", err)
		if aerr := s.archiveLocked(ctx, e, struggle.ReasonCorrupt, true); aerr != nil {
			s.log.Error("archive of corrupt session failed", "session_key", e.key, "error", aerr)
		}
		return struggle.ScoreUpdateResult{}, err
	}

	s.signalsProcessed.Add(1)
	s.obs.SignalScored(scored.Score)
	res := struggle.ScoreUpdateResult{
		Score:         scored.Score,
		State:         out.State,
		Contributions: scored.Contributions,
		Recorded:      true,
	}
	if p := sess.LatestValidPrediction(now); p != nil {
		cp := p.Clone()
		res.Prediction = &cp
	}
	if out.Fired() {
		rec := out.Record.Clone()
		res.InterventionFired = true
		res.Intervention = &rec
		s.interventionsFired.Add(1)
		s.obs.InterventionFired(rec)
		s.log.Info("intervention triggered",
			"session_key", e.key,
			"intervention_id", rec.ID,
			"type", rec.Type,
			"urgency", rec.Urgency,
			"score", rec.ScoreAtTrigger,
		)
	}
	if out.NearMiss != nil {
		s.suppressed.Add(1)
		s.obs.InterventionSuppressed(out.NearMiss.Reason)
		s.log.Debug("intervention suppressed", "session_key", e.key, "reason", out.NearMiss.Reason, "score", out.NearMiss.Score)
	}
	return res, nil
}

// refreshPrediction records a new prediction when none is valid or the risk
// level moved.
func (s *Store) refreshPrediction(sess *struggle.Session, now time.Time) {
	p, err := prediction.Predict(sess.Signals, now, prediction.Inputs{CognitiveLoad: sess.CognitiveLoad}, s.tuning.Prediction)
	if err != nil {
		return
	}
	if cur := sess.LatestValidPrediction(now); cur != nil && cur.RiskLevel == p.RiskLevel {
		return
	}
	sess.Predictions = prediction.Append(sess.Predictions, p, s.tuning.Prediction.HistoryLimit)
}

func (s *Store) Predict(ctx context.Context, key struggle.SessionKey, in prediction.Inputs) (struggle.Prediction, error) {
	defer s.track("predict", time.Now())
	e, _, err := s.acquire(key, false)
	if err != nil {
		return struggle.Prediction{}, err
	}
	sess := e.sess
	now := s.now()
	if sess.Consent == struggle.ConsentNone {
		e.mu.Unlock()
		return struggle.Prediction{}, fmt.Errorf("%w: signals are not collected for this session", struggle.ErrInsufficientData)
	}
	if in.CognitiveLoad == nil {
		in.CognitiveLoad = sess.CognitiveLoad
	}
	p, err := prediction.Predict(sess.Signals, now, in, s.tuning.Prediction)
	if err != nil {
		e.mu.Unlock()
		return struggle.Prediction{}, err
	}
	if in.CognitiveLoad != nil {
		l := *in.CognitiveLoad
		sess.CognitiveLoad = &l
	}
	sess.Predictions = prediction.Append(sess.Predictions, p, s.tuning.Prediction.HistoryLimit)
	e.mu.Unlock()
	s.schedule(e)
	return p.Clone(), nil
}

func (s *Store) GetStatus(ctx context.Context, key struggle.SessionKey) (struggle.SessionSnapshot, error) {
	defer s.track("get_status", time.Now())
	e, _, err := s.acquire(key, false)
	if err != nil {
		return struggle.SessionSnapshot{}, err
	}
	defer e.mu.Unlock()
	now := s.now()
	s.machine.Refresh(e.sess, now)
	return struggle.SessionSnapshot{Session: e.sess.Clone(), InCooldown: now.Before(e.sess.CooldownUntil)}, nil
}

func (s *Store) RecordOutcome(ctx context.Context, key struggle.SessionKey, interventionID string, patch struggle.OutcomePatch) (struggle.InterventionRecord, error) {
	defer s.track("record_outcome", time.Now())
	e, _, err := s.acquire(key, false)
	if err != nil {
		return struggle.InterventionRecord{}, err
	}
	rec, err := s.machine.ApplyOutcome(e.sess, interventionID, patch, s.now())
	e.mu.Unlock()
	if err != nil {
		return struggle.InterventionRecord{}, err
	}
	s.schedule(e)
	return rec, nil
}

// EndSession archives synchronously. On storage failure the session stays
// active and ErrStorageUnavailable is returned.
func (s *Store) EndSession(ctx context.Context, key struggle.SessionKey) (struggle.SessionSummary, error) {
	defer s.track("end_session", time.Now())
	e, _, err := s.acquire(key, false)
	if err != nil {
		return struggle.SessionSummary{}, err
	}
	defer e.mu.Unlock()
	summary := struggle.Summarize(e.sess, struggle.ReasonEnded, s.now())
	if err := s.archiveLocked(ctx, e, struggle.ReasonEnded, false); err != nil {
		return struggle.SessionSummary{}, err
	}
	return summary, nil
}

// ArchiveIf archives the session when decide says so, or when its state
// fails the integrity check.
func (s *Store) ArchiveIf(ctx context.Context, key struggle.SessionKey, decide func(*struggle.Session, time.Time) (struggle.ArchiveReason, bool)) (struggle.ArchiveReason, bool, error) {
	e, _, err := s.acquire(key, false)
	if err != nil {
		return "", false, err
	}
	defer e.mu.Unlock()
	now := s.now()
	reason, ok := struggle.ReasonCorrupt, true
	if e.sess.CheckIntegrity() == nil {
		reason, ok = decide(e.sess, now)
	}
	if !ok {
		return "", false, nil
	}
	if err := s.archiveLocked(ctx, e, reason, reason == struggle.ReasonCorrupt); err != nil {
		return reason, false, err
	}
	return reason, true, nil
}

// Restore re-inserts a session decoded from durable storage.
func (s *Store) Restore(sess *struggle.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: nil session", struggle.ErrCorruptSession)
	}
	_, existing, err := s.insert(sess.Key, func() *struggle.Session { return sess })
	if err != nil {
		return err
	}
	if existing {
		return fmt.Errorf("%w: %s", struggle.ErrAlreadyActive, sess.Key)
	}
	return nil
}

// ArchiveDetached archives a session that is not in the active set and
// removes its envelope.
func (s *Store) ArchiveDetached(ctx context.Context, sess *struggle.Session, reason struggle.ArchiveReason) error {
	row := s.archiveRow(sess, reason, s.now())
	if err := s.writeArchive(ctx, row); err != nil {
		return err
	}
	s.deleteEnvelope(ctx, StorageKey(sess.Key))
	s.obs.SessionArchived(reason)
	s.log.Info("session archived", "session_key", sess.Key.String(), "reason", reason)
	return nil
}

// ArchiveRaw archives an envelope that could not be decoded.
func (s *Store) ArchiveRaw(ctx context.Context, storageKey string, payload []byte, reason struggle.ArchiveReason) error {
	now := s.now()
	row := &struggle.SessionArchive{
		ID:           uuid.New(),
		SessionKey:   storageKey,
		Reason:       string(reason),
		StartedAt:    now,
		EndedAt:      now,
		EnvelopeJSON: datatypes.JSON(rawArchivePayload(payload)),
	}
	if k, err := KeyFromStorage(storageKey); err == nil {
		row.SessionKey, row.TenantID, row.LearnerID, row.CourseID = k.String(), k.TenantID, k.LearnerID, k.CourseID
	}
	if err := s.writeArchive(ctx, row); err != nil {
		return err
	}
	s.deleteEnvelope(ctx, storageKey)
	s.obs.SessionArchived(reason)
	s.log.Warn("undecodable envelope archived", "storage_key", storageKey, "reason", reason)
	return nil
}

// ---------- archival ----------

// archiveLocked archives e while its lock is held. With force the entry is
// removed from the active set even when the archive write fails.
func (s *Store) archiveLocked(ctx context.Context, e *entry, reason struggle.ArchiveReason, force bool) error {
	row := s.archiveRow(e.sess, reason, s.now())
	werr := s.writeArchive(ctx, row)
	if werr != nil && !force {
		return werr
	}
	e.closed.Store(true)
	if werr == nil {
		// waits for an in-flight envelope write so it cannot land after the delete
		e.persistMu.Lock()
		s.deleteEnvelope(ctx, e.storageKey)
		e.persistMu.Unlock()
	}
	s.release(e)
	s.obs.SessionArchived(reason)
	s.log.Info("session archived", "session_key", e.key, "reason", reason, "signals", e.sess.Counters.SignalCount)
	return werr
}

func (s *Store) archiveRow(sess *struggle.Session, reason struggle.ArchiveReason, now time.Time) *struggle.SessionArchive {
	sum := struggle.Summarize(sess, reason, now)
	payload, err := EncodeEnvelope(sess, now)
	if err != nil {
		payload = rawArchivePayload([]byte(err.Error()))
	}
	return &struggle.SessionArchive{
		ID:                uuid.New(),
		SessionKey:        sess.Key.String(),
		TenantID:          sess.Key.TenantID,
		LearnerID:         sess.Key.LearnerID,
		CourseID:          sess.Key.CourseID,
		Reason:            string(reason),
		FinalScore:        finiteOrZero(sum.FinalScore),
		HighWaterScore:    finiteOrZero(sum.HighWaterScore),
		SignalCount:       sum.SignalCount,
		InterventionCount: sum.InterventionCount,
		StartedAt:         sess.CreatedAt,
		EndedAt:           now,
		EnvelopeJSON:      datatypes.JSON(payload),
	}
}

func (s *Store) writeArchive(ctx context.Context, row *struggle.SessionArchive) error {
	if s.archiver == nil {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = s.cfg.ArchiveMaxElapsed
	err := backoff.Retry(func() error {
		return s.archiver.Archive(ctx, row)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%w: archive %s: %v", struggle.ErrStorageUnavailable, row.SessionKey, err)
	}
	return nil
}

func (s *Store) deleteEnvelope(ctx context.Context, storageKey string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = s.cfg.ArchiveMaxElapsed
	err := backoff.Retry(func() error {
		if err := s.kv.Delete(ctx, storageKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		// recovery will find the envelope again and archive it as stale
		s.log.Error("envelope delete failed after archive", "storage_key", storageKey, "error", err)
	}
}

// ---------- stats ----------

type Stats struct {
	ActiveSessions     int64   `json:"active_sessions"`
	AverageScore       float64 `json:"average_score"`
	SignalsProcessed   int64   `json:"signals_processed"`
	InterventionsFired int64   `json:"interventions_fired"`
	Suppressed         int64   `json:"suppressed"`
	InterventionRate   float64 `json:"intervention_rate"`
	SlowOperations     int64   `json:"slow_operations"`
	PersistFailures    int64   `json:"persist_failures"`
	DirtySessions      int     `json:"dirty_sessions"`
}

func (s *Store) Stats() Stats {
	st := Stats{
		ActiveSessions:     s.active.Load(),
		SignalsProcessed:   s.signalsProcessed.Load(),
		InterventionsFired: s.interventionsFired.Load(),
		Suppressed:         s.suppressed.Load(),
		SlowOperations:     s.slowOps.Load(),
		PersistFailures:    s.persistFailures.Load(),
	}
	var sum float64
	var n int
	for _, e := range s.entries() {
		if !e.closed.Load() {
			sum += e.loadScore()
			n++
		}
		if e.dirty.Load() {
			st.DirtySessions++
		}
	}
	if n > 0 {
		st.AverageScore = sum / float64(n)
	}
	if st.SignalsProcessed > 0 {
		st.InterventionRate = float64(st.InterventionsFired) / float64(st.SignalsProcessed)
	}
	return st
}

func (s *Store) track(op string, started time.Time) {
	d := time.Since(started)
	slow := d > s.cfg.OperationBudget
	if slow {
		s.slowOps.Add(1)
		s.log.Warn("slow struggle operation", "op", op, "elapsed_ms", d.Milliseconds(), "budget_ms", s.cfg.OperationBudget.Milliseconds())
	}
	s.obs.OperationObserved(op, d, slow)
}

// ---------- helpers ----------

// trimSignals keeps signals inside the retention window and under the count
// cap. History is time ordered, so both cuts come off the front.
func trimSignals(sigs []struggle.Signal, now time.Time, window time.Duration, max int) []struggle.Signal {
	cut := 0
	if window > 0 {
		from := now.Add(-window)
		for cut < len(sigs) && sigs[cut].Timestamp.Before(from) {
			cut++
		}
	}
	if max > 0 && len(sigs)-cut > max {
		cut = len(sigs) - max
	}
	if cut == 0 {
		return sigs
	}
	return append(make([]struggle.Signal, 0, len(sigs)-cut), sigs[cut:]...)
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func finiteOrZero(v float64) float64 {
	if v != v || v > 1 || v < 0 {
		return 0
	}
	return v
}
