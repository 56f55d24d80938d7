package prediction

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

const (
	FeatureHoverDwell    = "hover_dwell"
	FeatureScrollPattern = "scroll_pattern"
	FeatureIdleTime      = "idle_time"
	FeatureHelpRate      = "help_rate"
	FeatureCognitiveLoad = "cognitive_load"
)

type Weights struct {
	HoverDwell    float64 `yaml:"hover_dwell"`
	ScrollPattern float64 `yaml:"scroll_pattern"`
	IdleTime      float64 `yaml:"idle_time"`
	HelpRate      float64 `yaml:"help_rate"`
	CognitiveLoad float64 `yaml:"cognitive_load"`
}

type Config struct {
	Weights Weights `yaml:"weights"`

	MinSignals        int     `yaml:"min_signals"`
	FullSampleSignals int     `yaml:"full_sample_signals"`
	ConfidenceFloor   float64 `yaml:"confidence_floor"`

	// Features are computed over the trailing analysis window.
	AnalysisWindow    time.Duration `yaml:"analysis_window"`
	HoverDwellCap     time.Duration `yaml:"hover_dwell_cap"`
	ScrollReversalMin float64       `yaml:"scroll_reversal_min"`
	IdleCap           time.Duration `yaml:"idle_cap"`
	HelpRateCap       int           `yaml:"help_rate_cap"`

	EarlyWarningWindow    time.Duration `yaml:"early_warning_window"`
	MaxEarlyWarningWindow time.Duration `yaml:"max_early_warning_window"`

	MediumRisk   float64 `yaml:"medium_risk"`
	HighRisk     float64 `yaml:"high_risk"`
	CriticalRisk float64 `yaml:"critical_risk"`

	HistoryLimit int    `yaml:"history_limit"`
	ModelVersion string `yaml:"model_version"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			HoverDwell:    0.25,
			ScrollPattern: 0.15,
			IdleTime:      0.25,
			HelpRate:      0.20,
			CognitiveLoad: 0.15,
		},
		MinSignals:            3,
		FullSampleSignals:     8,
		ConfidenceFloor:       0.6,
		AnalysisWindow:        10 * time.Minute,
		HoverDwellCap:         30 * time.Second,
		ScrollReversalMin:     3,
		IdleCap:               5 * time.Minute,
		HelpRateCap:           3,
		EarlyWarningWindow:    15 * time.Minute,
		MaxEarlyWarningWindow: 20 * time.Minute,
		MediumRisk:            0.3,
		HighRisk:              0.6,
		CriticalRisk:          0.8,
		HistoryLimit:          20,
		ModelVersion:          "weighted-v1",
	}
}

func (c Config) Validate() error {
	w := c.Weights
	for _, v := range []float64{w.HoverDwell, w.ScrollPattern, w.IdleTime, w.HelpRate, w.CognitiveLoad} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("prediction: weights must be non-negative")
		}
	}
	if w.HoverDwell+w.ScrollPattern+w.IdleTime+w.HelpRate+w.CognitiveLoad <= 0 {
		return fmt.Errorf("prediction: weights sum to zero")
	}
	if c.MinSignals <= 0 || c.FullSampleSignals < c.MinSignals {
		return fmt.Errorf("prediction: full_sample_signals must be >= min_signals > 0")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("prediction: confidence_floor outside [0,1]")
	}
	if c.AnalysisWindow <= 0 || c.HoverDwellCap <= 0 || c.IdleCap <= 0 || c.HelpRateCap <= 0 {
		return fmt.Errorf("prediction: feature caps must be positive")
	}
	if c.EarlyWarningWindow <= 0 || c.MaxEarlyWarningWindow < c.EarlyWarningWindow {
		return fmt.Errorf("prediction: early warning window must be positive and within max")
	}
	if !(c.MediumRisk < c.HighRisk && c.HighRisk < c.CriticalRisk) {
		return fmt.Errorf("prediction: risk thresholds must ascend")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("prediction: history_limit must be positive")
	}
	return nil
}

type Inputs struct {
	// CognitiveLoad is an externally estimated load in [0,1]; nil when unknown.
	CognitiveLoad *float64
}

func Predict(history []struggle.Signal, now time.Time, in Inputs, cfg Config) (struggle.Prediction, error) {
	if in.CognitiveLoad != nil {
		if l := *in.CognitiveLoad; math.IsNaN(l) || l < 0 || l > 1 {
			return struggle.Prediction{}, fmt.Errorf("%w: cognitive load %v outside [0,1]", struggle.ErrInvalidPredictionInput, l)
		}
	}

	from := now.Add(-cfg.AnalysisWindow)
	var (
		n                     int
		hoverSum, idleSum     float64
		hovers, scrolls       int
		erraticScrolls, helps int
	)
	for _, sig := range history {
		if sig.Timestamp.Before(from) || sig.Timestamp.After(now) {
			continue
		}
		n++
		switch sig.Type {
		case struggle.SignalHover:
			hovers++
			hoverSum += sig.Magnitude
		case struggle.SignalScroll:
			scrolls++
			if sig.Magnitude >= cfg.ScrollReversalMin {
				erraticScrolls++
			}
		case struggle.SignalIdle:
			idleSum += sig.Magnitude
		case struggle.SignalHelpRequest:
			helps++
		}
	}
	if n < cfg.MinSignals {
		return struggle.Prediction{}, fmt.Errorf("%w: %d signals in window, need %d", struggle.ErrInsufficientData, n, cfg.MinSignals)
	}

	type feature struct {
		name   string
		value  float64
		weight float64
		ok     bool
	}
	features := []feature{
		{FeatureHoverDwell, ratio(hoverSum, float64(hovers)) / cfg.HoverDwellCap.Seconds(), cfg.Weights.HoverDwell, true},
		{FeatureScrollPattern, ratio(float64(erraticScrolls), float64(scrolls)), cfg.Weights.ScrollPattern, true},
		{FeatureIdleTime, idleSum / cfg.IdleCap.Seconds(), cfg.Weights.IdleTime, true},
		{FeatureHelpRate, float64(helps) / float64(cfg.HelpRateCap), cfg.Weights.HelpRate, true},
		{FeatureCognitiveLoad, 0, cfg.Weights.CognitiveLoad, in.CognitiveLoad != nil},
	}
	if in.CognitiveLoad != nil {
		features[4].value = *in.CognitiveLoad
	}

	var totalW, usedW, risk float64
	factors := make([]struggle.Factor, 0, len(features))
	for _, f := range features {
		totalW += f.weight
		if !f.ok {
			continue
		}
		v := clamp01(f.value)
		usedW += f.weight
		risk += v * f.weight
		factors = append(factors, struggle.Factor{Name: f.name, Value: v, Weight: f.weight, Contribution: v * f.weight})
	}
	if usedW > 0 {
		risk /= usedW
	}
	for i := range factors {
		if usedW > 0 {
			factors[i].Contribution /= usedW
		}
	}
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Contribution > factors[j].Contribution })

	sufficiency := math.Min(1, float64(n)/float64(cfg.FullSampleSignals))
	coverage := usedW / totalW
	confidence := sufficiency * coverage
	if confidence < cfg.ConfidenceFloor {
		return struggle.Prediction{}, fmt.Errorf("%w: confidence %.2f below floor %.2f", struggle.ErrInsufficientData, confidence, cfg.ConfidenceFloor)
	}

	window := cfg.EarlyWarningWindow
	if window > cfg.MaxEarlyWarningWindow {
		window = cfg.MaxEarlyWarningWindow
	}
	risk = clamp01(risk)
	return struggle.Prediction{
		RiskLevel:             Level(risk, cfg),
		RiskScore:             risk,
		Confidence:            confidence,
		TimeToStruggleSeconds: window.Seconds() * (1 - risk),
		Factors:               factors,
		GeneratedAt:           now,
		ValidUntil:            now.Add(window),
		ModelVersion:          cfg.ModelVersion,
	}, nil
}

func Level(risk float64, cfg Config) struggle.RiskLevel {
	switch {
	case risk >= cfg.CriticalRisk:
		return struggle.RiskCritical
	case risk >= cfg.HighRisk:
		return struggle.RiskHigh
	case risk >= cfg.MediumRisk:
		return struggle.RiskMedium
	default:
		return struggle.RiskLow
	}
}

// Append adds p to the history, dropping the oldest entries beyond limit.
func Append(history []struggle.Prediction, p struggle.Prediction, limit int) []struggle.Prediction {
	history = append(history, p)
	if limit > 0 && len(history) > limit {
		history = append([]struggle.Prediction(nil), history[len(history)-limit:]...)
	}
	return history
}

func ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
