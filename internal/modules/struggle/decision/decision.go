package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/scoring"
)

type Config struct {
	Threshold       float64       `yaml:"threshold"`
	Cooldown        time.Duration `yaml:"cooldown"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SnoozeDuration  time.Duration `yaml:"snooze_duration"`
	MediumMargin    float64       `yaml:"medium_margin"`
	HighMargin      float64       `yaml:"high_margin"`
	// MaxPerHour caps emissions in any trailing hour; 0 disables the cap.
	MaxPerHour    int `yaml:"max_per_hour"`
	NearMissLimit int `yaml:"near_miss_limit"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:       0.7,
		Cooldown:        5 * time.Minute,
		ResponseTimeout: 10 * time.Minute,
		SnoozeDuration:  10 * time.Minute,
		MediumMargin:    0.1,
		HighMargin:      0.2,
		MaxPerHour:      6,
		NearMissLimit:   50,
	}
}

func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("decision: threshold must be in (0,1]")
	}
	if c.Cooldown <= 0 || c.ResponseTimeout <= 0 || c.SnoozeDuration < 0 {
		return fmt.Errorf("decision: cooldown and response timeout must be positive")
	}
	if c.MediumMargin < 0 || c.HighMargin < c.MediumMargin {
		return fmt.Errorf("decision: urgency margins must ascend")
	}
	if c.MaxPerHour < 0 || c.NearMissLimit <= 0 {
		return fmt.Errorf("decision: limits must be non-negative")
	}
	return nil
}

type Input struct {
	Score scoring.Result
	// Prediction is the newest prediction still valid at Now, if any.
	Prediction *struggle.Prediction
	Now        time.Time
}

type Outcome struct {
	State    struggle.DecisionState
	Record   *struggle.InterventionRecord
	NearMiss *struggle.NearMiss
	// TimedOut lists interventions resolved as timeout during this evaluation.
	TimedOut []string
}

func (o Outcome) Fired() bool { return o.Record != nil }

// Machine is the only emitter of intervention records. It keeps no state of
// its own; everything lives on the session it is handed.
type Machine struct {
	cfg   Config
	newID func() string
}

func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, newID: uuid.NewString}
}

// WithIDs overrides id generation.
func (m *Machine) WithIDs(fn func() string) *Machine {
	if fn != nil {
		m.newID = fn
	}
	return m
}

func (m *Machine) Config() Config { return m.cfg }

// Evaluate runs one Monitoring -> Evaluating -> (Suppressed | Triggered)
// pass and applies the result to s. The caller holds the session lock.
func (m *Machine) Evaluate(s *struggle.Session, in Input) Outcome {
	now := in.Now
	out := Outcome{TimedOut: m.ResolveTimeouts(s, now)}
	s.State = struggle.StateEvaluating

	if in.Score.Score < m.cfg.Threshold {
		out.State = m.idleState(s, now)
		s.State = out.State
		return out
	}

	if reason := m.blockReason(s, now); reason != "" {
		nm := struggle.NearMiss{At: now, Score: in.Score.Score, CooldownUntil: s.CooldownUntil, Reason: reason}
		s.NearMisses = append(s.NearMisses, nm)
		if len(s.NearMisses) > m.cfg.NearMissLimit {
			s.NearMisses = append([]struggle.NearMiss(nil), s.NearMisses[len(s.NearMisses)-m.cfg.NearMissLimit:]...)
		}
		s.Counters.SuppressedCount++
		s.State = struggle.StateSuppressed
		out.State = struggle.StateSuppressed
		out.NearMiss = &nm
		return out
	}

	rec := struggle.InterventionRecord{
		ID:             m.newID(),
		Type:           InterventionFor(in.Score.Dominant),
		Urgency:        m.urgency(in),
		TriggeredAt:    now,
		ScoreAtTrigger: in.Score.Score,
		DominantSignal: in.Score.Dominant,
	}
	if in.Prediction != nil && in.Prediction.ValidAt(now) {
		rec.PredictedRisk = in.Prediction.RiskLevel
	}
	s.Interventions = append(s.Interventions, rec)
	s.CooldownUntil = now.Add(m.cfg.Cooldown)
	// Triggered hands over to Cooldown immediately.
	s.State = struggle.StateCooldown
	out.State = struggle.StateTriggered
	out.Record = &rec
	return out
}

// Refresh moves an expired cooldown back to Monitoring.
func (m *Machine) Refresh(s *struggle.Session, now time.Time) {
	switch s.State {
	case struggle.StateCooldown, struggle.StateSuppressed, struggle.StateTriggered, struggle.StateEvaluating:
		s.State = m.idleState(s, now)
	}
}

func (m *Machine) idleState(s *struggle.Session, now time.Time) struggle.DecisionState {
	if now.Before(s.CooldownUntil) {
		return struggle.StateCooldown
	}
	return struggle.StateMonitoring
}

func (m *Machine) blockReason(s *struggle.Session, now time.Time) string {
	if now.Before(s.CooldownUntil) {
		return "cooldown"
	}
	if m.pending(s, now) {
		return "pending"
	}
	if m.cfg.MaxPerHour > 0 {
		from := now.Add(-time.Hour)
		n := 0
		for _, r := range s.Interventions {
			if r.TriggeredAt.After(from) {
				n++
			}
		}
		if n >= m.cfg.MaxPerHour {
			return "rate_limit"
		}
	}
	return ""
}

func (m *Machine) pending(s *struggle.Session, now time.Time) bool {
	for _, r := range s.Interventions {
		if r.Pending() && now.Sub(r.TriggeredAt) < m.cfg.ResponseTimeout {
			return true
		}
	}
	return false
}

// ResolveTimeouts marks unanswered interventions older than the response
// timeout as timed out and returns their ids.
func (m *Machine) ResolveTimeouts(s *struggle.Session, now time.Time) []string {
	var ids []string
	for i := range s.Interventions {
		r := &s.Interventions[i]
		if !r.Pending() || now.Sub(r.TriggeredAt) < m.cfg.ResponseTimeout {
			continue
		}
		at := r.TriggeredAt.Add(m.cfg.ResponseTimeout)
		r.Response = struggle.ResponseTimeout
		r.RespondedAt = &at
		latency := m.cfg.ResponseTimeout.Milliseconds()
		r.ResponseLatencyMs = &latency
		ids = append(ids, r.ID)
	}
	return ids
}

func (m *Machine) urgency(in Input) struggle.Urgency {
	margin := in.Score.Score - m.cfg.Threshold
	u := struggle.UrgencyLow
	switch {
	case margin >= m.cfg.HighMargin:
		u = struggle.UrgencyHigh
	case margin >= m.cfg.MediumMargin:
		u = struggle.UrgencyMedium
	}
	if in.Score.Dominant == struggle.SignalHelpRequest {
		u = u.Raise()
	}
	if p := in.Prediction; p != nil && p.ValidAt(in.Now) && p.RiskLevel == struggle.RiskCritical {
		u = u.Raise()
	}
	return u
}

func InterventionFor(dominant struggle.SignalType) struggle.InterventionType {
	switch dominant {
	case struggle.SignalIdle:
		return struggle.InterventionBreakOffer
	case struggle.SignalHelpRequest:
		return struggle.InterventionInstructorNotification
	case struggle.SignalScroll:
		return struggle.InterventionNavigationHint
	case struggle.SignalRepeatedAccess:
		return struggle.InterventionConceptReview
	default:
		return struggle.InterventionClarificationOffer
	}
}

// ApplyOutcome records delivery, response and effectiveness for one
// intervention. A snooze pushes the cooldown out.
func (m *Machine) ApplyOutcome(s *struggle.Session, id string, patch struggle.OutcomePatch, now time.Time) (struggle.InterventionRecord, error) {
	if err := patch.Validate(); err != nil {
		return struggle.InterventionRecord{}, err
	}
	idx, ok := s.FindIntervention(id)
	if !ok {
		return struggle.InterventionRecord{}, fmt.Errorf("%w: %s", struggle.ErrInterventionNotFound, id)
	}
	r := &s.Interventions[idx]
	if patch.Response != "" && !r.Pending() && r.Response != patch.Response {
		return struggle.InterventionRecord{}, fmt.Errorf("%w: intervention %s already answered (%s)", struggle.ErrInvalidOutcome, id, r.Response)
	}

	if patch.DeliveredAt != nil {
		d := *patch.DeliveredAt
		r.DeliveredAt = &d
	}
	if patch.Response != "" && r.Pending() {
		at := now
		if patch.RespondedAt != nil {
			at = *patch.RespondedAt
		}
		from := r.TriggeredAt
		if r.DeliveredAt != nil {
			from = *r.DeliveredAt
		}
		latency := at.Sub(from).Milliseconds()
		if latency < 0 {
			latency = 0
		}
		r.Response = patch.Response
		r.RespondedAt = &at
		r.ResponseLatencyMs = &latency
		if patch.Response == struggle.ResponseSnoozed {
			if until := at.Add(m.cfg.SnoozeDuration); until.After(s.CooldownUntil) {
				s.CooldownUntil = until
			}
		}
	}
	if patch.Effectiveness != nil {
		e := *patch.Effectiveness
		r.Effectiveness = &e
	}
	return r.Clone(), nil
}
