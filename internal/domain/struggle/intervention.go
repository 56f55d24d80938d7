package struggle

import (
	"fmt"
	"time"
)

type InterventionType string

const (
	InterventionBreakOffer             InterventionType = "break_offer"
	InterventionInstructorNotification InterventionType = "instructor_notification"
	InterventionClarificationOffer     InterventionType = "clarification_offer"
	InterventionNavigationHint         InterventionType = "navigation_hint"
	InterventionConceptReview          InterventionType = "concept_review"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Raise moves one tier up; high stays high.
func (u Urgency) Raise() Urgency {
	switch u {
	case UrgencyLow:
		return UrgencyMedium
	default:
		return UrgencyHigh
	}
}

type UserResponse string

const (
	ResponseAccepted  UserResponse = "accepted"
	ResponseDismissed UserResponse = "dismissed"
	ResponseSnoozed   UserResponse = "snoozed"
	ResponseTimeout   UserResponse = "timeout"
)

func (r UserResponse) Valid() bool {
	switch r {
	case ResponseAccepted, ResponseDismissed, ResponseSnoozed, ResponseTimeout:
		return true
	default:
		return false
	}
}

type InterventionRecord struct {
	ID                string           `json:"id"`
	Type              InterventionType `json:"type"`
	Urgency           Urgency          `json:"urgency"`
	TriggeredAt       time.Time        `json:"triggered_at"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	Response          UserResponse     `json:"response,omitempty"`
	RespondedAt       *time.Time       `json:"responded_at,omitempty"`
	ResponseLatencyMs *int64           `json:"response_latency_ms,omitempty"`
	Effectiveness     *float64         `json:"effectiveness,omitempty"`
	ScoreAtTrigger    float64          `json:"score_at_trigger"`
	DominantSignal    SignalType       `json:"dominant_signal"`
	PredictedRisk     RiskLevel        `json:"predicted_risk,omitempty"`
}

// Pending reports whether the learner has not answered yet.
func (r InterventionRecord) Pending() bool { return r.Response == "" }

func (r InterventionRecord) Clone() InterventionRecord {
	out := r
	if r.DeliveredAt != nil {
		t := *r.DeliveredAt
		out.DeliveredAt = &t
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		out.RespondedAt = &t
	}
	if r.ResponseLatencyMs != nil {
		v := *r.ResponseLatencyMs
		out.ResponseLatencyMs = &v
	}
	if r.Effectiveness != nil {
		v := *r.Effectiveness
		out.Effectiveness = &v
	}
	return out
}

// OutcomePatch carries what the delivery surface and the effectiveness
// collaborator learn after an intervention was emitted.
type OutcomePatch struct {
	DeliveredAt   *time.Time   `json:"delivered_at,omitempty"`
	Response      UserResponse `json:"response,omitempty"`
	RespondedAt   *time.Time   `json:"responded_at,omitempty"`
	Effectiveness *float64     `json:"effectiveness,omitempty"`
}

func (p OutcomePatch) Validate() error {
	if p.Response != "" && !p.Response.Valid() {
		return fmt.Errorf("%w: unknown response %q", ErrInvalidOutcome, p.Response)
	}
	if p.Effectiveness != nil && (*p.Effectiveness < 0 || *p.Effectiveness > 1) {
		return fmt.Errorf("%w: effectiveness %v outside [0,1]", ErrInvalidOutcome, *p.Effectiveness)
	}
	if p.DeliveredAt == nil && p.Response == "" && p.Effectiveness == nil {
		return fmt.Errorf("%w: empty patch", ErrInvalidOutcome)
	}
	return nil
}

// NearMiss is a threshold crossing that was suppressed by cooldown or a
// pending intervention.
type NearMiss struct {
	At            time.Time `json:"at"`
	Score         float64   `json:"score"`
	CooldownUntil time.Time `json:"cooldown_until"`
	Reason        string    `json:"reason"`
}

// InterventionAlert is published for instructor-facing consumers when a
// high-urgency intervention fires.
type InterventionAlert struct {
	SessionKey   SessionKey         `json:"session_key"`
	Intervention InterventionRecord `json:"intervention"`
	Score        float64            `json:"score"`
	EmittedAt    time.Time          `json:"emitted_at"`
}
