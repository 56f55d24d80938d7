package struggle

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Prediction is an early-warning forecast. It is superseded by later
// predictions and must not be used after ValidUntil.
type Prediction struct {
	RiskLevel             RiskLevel `json:"risk_level"`
	RiskScore             float64   `json:"risk_score"`
	Confidence            float64   `json:"confidence"`
	TimeToStruggleSeconds float64   `json:"time_to_struggle_seconds"`
	Factors               []Factor  `json:"factors"`
	GeneratedAt           time.Time `json:"generated_at"`
	ValidUntil            time.Time `json:"valid_until"`
	ModelVersion          string    `json:"model_version"`
}

func (p Prediction) ValidAt(now time.Time) bool {
	return !now.Before(p.GeneratedAt) && now.Before(p.ValidUntil)
}

func (p Prediction) Clone() Prediction {
	out := p
	out.Factors = append([]Factor(nil), p.Factors...)
	return out
}
