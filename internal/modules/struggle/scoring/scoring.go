package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// Tier is a severity step for duration-based signals. A signal whose
// magnitude reaches MinSeconds counts as Count occurrences.
type Tier struct {
	Name       string  `yaml:"name" json:"name"`
	MinSeconds float64 `yaml:"min_seconds" json:"min_seconds"`
	Count      int     `yaml:"count" json:"count"`
}

type Config struct {
	Weights           map[struggle.SignalType]float64 `yaml:"weights"`
	SaturationCount   int                             `yaml:"saturation_count"`
	RecencyWindow     time.Duration                   `yaml:"recency_window"`
	RecencyMinSignals int                             `yaml:"recency_min_signals"`
	RecencyBoost      float64                         `yaml:"recency_boost"`
	HoverTiers        []Tier                          `yaml:"hover_tiers"`
	IdleTiers         []Tier                          `yaml:"idle_tiers"`
	ScrollReversalMin float64                         `yaml:"scroll_reversal_min"`
}

func DefaultConfig() Config {
	return Config{
		Weights: map[struggle.SignalType]float64{
			struggle.SignalIdle:           0.30,
			struggle.SignalHover:          0.25,
			struggle.SignalScroll:         0.20,
			struggle.SignalRepeatedAccess: 0.25,
			struggle.SignalHelpRequest:    0.15,
		},
		SaturationCount:   5,
		RecencyWindow:     60 * time.Second,
		RecencyMinSignals: 3,
		RecencyBoost:      1.2,
		HoverTiers: []Tier{
			{Name: "confusion", MinSeconds: 5, Count: 1},
			{Name: "extended", MinSeconds: 15, Count: 2},
			{Name: "critical", MinSeconds: 30, Count: 3},
		},
		IdleTiers: []Tier{
			{Name: "short", MinSeconds: 30, Count: 1},
			{Name: "medium", MinSeconds: 120, Count: 2},
			{Name: "long", MinSeconds: 300, Count: 3},
		},
		ScrollReversalMin: 3,
	}
}

func (c Config) Validate() error {
	for t, w := range c.Weights {
		if !t.Valid() {
			return fmt.Errorf("scoring: unknown signal type %q", t)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("scoring: weight for %s must be a finite non-negative number", t)
		}
	}
	if c.SaturationCount <= 0 {
		return fmt.Errorf("scoring: saturation_count must be positive")
	}
	if c.RecencyWindow <= 0 || c.RecencyMinSignals < 0 {
		return fmt.Errorf("scoring: recency window must be positive")
	}
	if c.RecencyBoost < 1 {
		return fmt.Errorf("scoring: recency_boost must be >= 1")
	}
	if err := validateTiers("hover", c.HoverTiers); err != nil {
		return err
	}
	if err := validateTiers("idle", c.IdleTiers); err != nil {
		return err
	}
	if c.ScrollReversalMin <= 0 {
		return fmt.Errorf("scoring: scroll_reversal_min must be positive")
	}
	return nil
}

func validateTiers(name string, tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("scoring: %s tiers are empty", name)
	}
	for i, t := range tiers {
		if t.MinSeconds < 0 || t.Count <= 0 {
			return fmt.Errorf("scoring: %s tier %q invalid", name, t.Name)
		}
		if i > 0 && (t.MinSeconds <= tiers[i-1].MinSeconds || t.Count < tiers[i-1].Count) {
			return fmt.Errorf("scoring: %s tiers must ascend", name)
		}
	}
	return nil
}

type Result struct {
	Score           float64                         `json:"score"`
	Raw             float64                         `json:"raw"`
	Boosted         bool                            `json:"boosted"`
	Contributions   map[struggle.SignalType]float64 `json:"contributions"`
	EffectiveCounts map[struggle.SignalType]int     `json:"effective_counts"`
	// Dominant is the type with the largest contribution, empty when nothing contributes.
	Dominant struggle.SignalType `json:"dominant,omitempty"`
}

// Score maps a signal history to a value in [0,1]. It reads nothing but its
// arguments.
func Score(history []struggle.Signal, now time.Time, cfg Config) Result {
	res := Result{
		Contributions:   make(map[struggle.SignalType]float64, len(struggle.ScoredSignalTypes)),
		EffectiveCounts: make(map[struggle.SignalType]int, len(struggle.ScoredSignalTypes)),
	}
	if len(history) == 0 {
		return res
	}

	recentFrom := now.Add(-cfg.RecencyWindow)
	recent := 0
	for _, sig := range history {
		res.EffectiveCounts[sig.Type] += EffectiveCount(sig, cfg)
		if !sig.Timestamp.Before(recentFrom) {
			recent++
		}
	}

	var best float64
	for _, t := range struggle.ScoredSignalTypes {
		n := res.EffectiveCounts[t]
		if n > cfg.SaturationCount {
			n = cfg.SaturationCount
		}
		c := float64(n) * cfg.Weights[t]
		res.Contributions[t] = c
		res.Raw += c
		if c > best {
			best = c
			res.Dominant = t
		}
	}

	score := res.Raw
	if recent > cfg.RecencyMinSignals {
		score *= cfg.RecencyBoost
		res.Boosted = true
	}
	res.Score = clamp01(score)
	return res
}

// EffectiveCount is how many occurrences a single signal is worth.
func EffectiveCount(sig struggle.Signal, cfg Config) int {
	switch sig.Type {
	case struggle.SignalHover:
		return tierCount(sig.Magnitude, cfg.HoverTiers)
	case struggle.SignalIdle:
		return tierCount(sig.Magnitude, cfg.IdleTiers)
	case struggle.SignalScroll:
		if sig.Magnitude >= cfg.ScrollReversalMin {
			return 1
		}
		return 0
	case struggle.SignalRepeatedAccess, struggle.SignalHelpRequest:
		return 1
	default:
		return 0
	}
}

// TierName reports the highest tier a duration crosses, or "".
func TierName(seconds float64, tiers []Tier) string {
	if i := tierIndex(seconds, tiers); i >= 0 {
		return tiers[i].Name
	}
	return ""
}

func tierCount(seconds float64, tiers []Tier) int {
	if i := tierIndex(seconds, tiers); i >= 0 {
		return tiers[i].Count
	}
	return 0
}

func tierIndex(seconds float64, tiers []Tier) int {
	// tiers ascend, so the first tier above the value bounds the search
	return sort.Search(len(tiers), func(i int) bool { return tiers[i].MinSeconds > seconds }) - 1
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
