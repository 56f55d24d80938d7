package struggle

import (
	"fmt"
	"math"
	"time"
)

type ConsentLevel string

const (
	ConsentFull      ConsentLevel = "full"
	ConsentEssential ConsentLevel = "essential"
	ConsentNone      ConsentLevel = "none"
)

func (c ConsentLevel) Valid() bool {
	switch c {
	case ConsentFull, ConsentEssential, ConsentNone:
		return true
	default:
		return false
	}
}

type DecisionState string

const (
	StateMonitoring DecisionState = "monitoring"
	StateEvaluating DecisionState = "evaluating"
	StateSuppressed DecisionState = "suppressed"
	StateTriggered  DecisionState = "triggered"
	StateCooldown   DecisionState = "cooldown"
)

type Counters struct {
	SignalCount         int64   `json:"signal_count"`
	DroppedSignals      int64   `json:"dropped_signals"`
	AvgProcessingMicros float64 `json:"avg_processing_micros"`
	SlowOperations      int64   `json:"slow_operations"`
	SuppressedCount     int64   `json:"suppressed_count"`
}

// ObserveProcessing folds one operation latency into the running mean.
func (c *Counters) ObserveProcessing(d time.Duration) {
	n := float64(c.SignalCount)
	if n <= 0 {
		n = 1
	}
	c.AvgProcessingMicros += (float64(d.Microseconds()) - c.AvgProcessingMicros) / n
}

// Session is one learner's continuous activity window. It is only mutated
// under its own lock inside the session store.
type Session struct {
	Key            SessionKey           `json:"key"`
	CreatedAt      time.Time            `json:"created_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	Signals        []Signal             `json:"signals"`
	LastSignalAt   time.Time            `json:"last_signal_at"`
	Score          float64              `json:"score"`
	HighWaterScore float64              `json:"high_water_score"`
	Predictions    []Prediction         `json:"predictions"`
	Interventions  []InterventionRecord `json:"interventions"`
	NearMisses     []NearMiss           `json:"near_misses"`
	CooldownUntil  time.Time            `json:"cooldown_until"`
	State          DecisionState        `json:"state"`
	Consent        ConsentLevel         `json:"consent"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	CognitiveLoad  *float64             `json:"cognitive_load,omitempty"`
	Counters       Counters             `json:"counters"`
}

func NewSession(key SessionKey, now time.Time, consent ConsentLevel, metadata map[string]string) *Session {
	if !consent.Valid() {
		consent = ConsentFull
	}
	s := &Session{
		Key:            key,
		CreatedAt:      now,
		LastActivityAt: now,
		Signals:        []Signal{},
		Predictions:    []Prediction{},
		Interventions:  []InterventionRecord{},
		NearMisses:     []NearMiss{},
		State:          StateMonitoring,
		Consent:        consent,
	}
	if len(metadata) > 0 {
		s.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			s.Metadata[k] = v
		}
	}
	return s
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Signals = make([]Signal, len(s.Signals))
	for i, sig := range s.Signals {
		out.Signals[i] = sig
		if sig.Difficulty != nil {
			d := *sig.Difficulty
			out.Signals[i].Difficulty = &d
		}
	}
	out.Predictions = make([]Prediction, len(s.Predictions))
	for i, p := range s.Predictions {
		out.Predictions[i] = p.Clone()
	}
	out.Interventions = make([]InterventionRecord, len(s.Interventions))
	for i, r := range s.Interventions {
		out.Interventions[i] = r.Clone()
	}
	out.NearMisses = append([]NearMiss{}, s.NearMisses...)
	if s.CognitiveLoad != nil {
		l := *s.CognitiveLoad
		out.CognitiveLoad = &l
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// LatestValidPrediction returns the newest prediction still valid at now.
func (s *Session) LatestValidPrediction(now time.Time) *Prediction {
	if len(s.Predictions) == 0 {
		return nil
	}
	p := s.Predictions[len(s.Predictions)-1]
	if !p.ValidAt(now) {
		return nil
	}
	return &p
}

func (s *Session) FindIntervention(id string) (int, bool) {
	for i := range s.Interventions {
		if s.Interventions[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// CheckIntegrity detects state that the single-writer discipline should
// never produce.
func (s *Session) CheckIntegrity() error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrCorruptSession)
	}
	if err := s.Key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if !validScore(s.Score) || !validScore(s.HighWaterScore) {
		return fmt.Errorf("%w: score out of range (score=%v high=%v)", ErrCorruptSession, s.Score, s.HighWaterScore)
	}
	if s.Score > s.HighWaterScore {
		return fmt.Errorf("%w: score above high-water mark", ErrCorruptSession)
	}
	if s.CreatedAt.IsZero() || s.LastActivityAt.Before(s.CreatedAt) {
		return fmt.Errorf("%w: activity precedes creation", ErrCorruptSession)
	}
	for i, sig := range s.Signals {
		if !sig.Type.Valid() || math.IsNaN(sig.Magnitude) || math.IsInf(sig.Magnitude, 0) || sig.Magnitude < 0 {
			return fmt.Errorf("%w: bad signal at %d", ErrCorruptSession, i)
		}
		if i > 0 && sig.Timestamp.Before(s.Signals[i-1].Timestamp) {
			return fmt.Errorf("%w: signals out of order at %d", ErrCorruptSession, i)
		}
		if sig.Timestamp.After(s.LastSignalAt) {
			return fmt.Errorf("%w: signal newer than last accepted", ErrCorruptSession)
		}
	}
	if !s.Consent.Valid() {
		return fmt.Errorf("%w: consent %q", ErrCorruptSession, s.Consent)
	}
	return nil
}

func validScore(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

type StartOptions struct {
	Metadata   map[string]string
	Consent    ConsentLevel
	Idempotent bool
}

type SessionHandle struct {
	Key       SessionKey   `json:"key"`
	CreatedAt time.Time    `json:"created_at"`
	Consent   ConsentLevel `json:"consent"`
	Existing  bool         `json:"existing"`
}

type ScoreUpdateResult struct {
	Score             float64                `json:"score"`
	State             DecisionState          `json:"state"`
	InterventionFired bool                   `json:"intervention_fired"`
	Intervention      *InterventionRecord    `json:"intervention,omitempty"`
	Prediction        *Prediction            `json:"prediction,omitempty"`
	Contributions     map[SignalType]float64 `json:"contributions,omitempty"`
	Recorded          bool                   `json:"recorded"`
}

// SessionSnapshot is a deep copy handed to readers.
type SessionSnapshot struct {
	*Session
	InCooldown bool `json:"in_cooldown"`
}

type ArchiveReason string

const (
	ReasonEnded             ArchiveReason = "ended"
	ReasonIdleTimeout       ArchiveReason = "idle_timeout"
	ReasonMaxDuration       ArchiveReason = "max_duration"
	ReasonStaleOnRestart    ArchiveReason = "stale_on_restart"
	ReasonCapacityOnRestart ArchiveReason = "capacity_on_restart"
	ReasonCorrupt           ArchiveReason = "corrupt"
)

type SessionSummary struct {
	Key               SessionKey    `json:"key"`
	FinalScore        float64       `json:"final_score"`
	HighWaterScore    float64       `json:"high_water_score"`
	SignalCount       int64         `json:"signal_count"`
	InterventionCount int           `json:"intervention_count"`
	Duration          time.Duration `json:"-"`
	DurationSeconds   float64       `json:"duration_seconds"`
	Reason            ArchiveReason `json:"reason"`
	EndedAt           time.Time     `json:"ended_at"`
}

func Summarize(s *Session, reason ArchiveReason, now time.Time) SessionSummary {
	d := now.Sub(s.CreatedAt)
	if d < 0 {
		d = 0
	}
	return SessionSummary{
		Key:               s.Key,
		FinalScore:        s.Score,
		HighWaterScore:    s.HighWaterScore,
		SignalCount:       s.Counters.SignalCount,
		InterventionCount: len(s.Interventions),
		Duration:          d,
		DurationSeconds:   d.Seconds(),
		Reason:            reason,
		EndedAt:           now,
	}
}
