package signals

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
)

type Config struct {
	FutureTolerance time.Duration
	// MaxSignalAge should not exceed the session store's retention window;
	// older signals would be trimmed as soon as they were appended.
	MaxSignalAge time.Duration
	// Ceilings bound magnitude per type; anything above is rejected, never clamped.
	Ceilings   map[struggle.SignalType]float64
	MaxPageLen int
}

func DefaultConfig() Config {
	fourHours := (4 * time.Hour).Seconds()
	return Config{
		FutureTolerance: 5 * time.Second,
		MaxSignalAge:    30 * time.Minute,
		Ceilings: map[struggle.SignalType]float64{
			struggle.SignalHover:          fourHours,
			struggle.SignalIdle:           fourHours,
			struggle.SignalScroll:         1000,
			struggle.SignalRepeatedAccess: 1000,
			struggle.SignalHelpRequest:    100,
			struggle.SignalOther:          1e6,
		},
		MaxPageLen: 512,
	}
}

type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate turns a raw payload into a Signal. It has no side effects.
func (v *Validator) Validate(raw struggle.RawSignal, now time.Time) (struggle.Signal, error) {
	typ := struggle.SignalType(strings.ToLower(strings.TrimSpace(raw.Type)))
	if !typ.Valid() {
		return struggle.Signal{}, invalid("unknown signal type %q", raw.Type)
	}
	if raw.Timestamp.IsZero() {
		return struggle.Signal{}, invalid("timestamp is required")
	}
	if raw.Timestamp.After(now.Add(v.cfg.FutureTolerance)) {
		return struggle.Signal{}, invalid("timestamp %s is more than %s in the future", raw.Timestamp.Format(time.RFC3339), v.cfg.FutureTolerance)
	}
	if v.cfg.MaxSignalAge > 0 && raw.Timestamp.Before(now.Add(-v.cfg.MaxSignalAge)) {
		return struggle.Signal{}, invalid("timestamp %s is older than %s", raw.Timestamp.Format(time.RFC3339), v.cfg.MaxSignalAge)
	}
	if math.IsNaN(raw.Magnitude) || math.IsInf(raw.Magnitude, 0) {
		return struggle.Signal{}, invalid("magnitude is not a finite number")
	}
	if raw.Magnitude < 0 {
		return struggle.Signal{}, invalid("magnitude %v is negative", raw.Magnitude)
	}
	if ceiling, ok := v.cfg.Ceilings[typ]; ok && raw.Magnitude > ceiling {
		return struggle.Signal{}, invalid("%s magnitude %v exceeds ceiling %v", typ, raw.Magnitude, ceiling)
	}
	if raw.Difficulty != nil {
		d := *raw.Difficulty
		if math.IsNaN(d) || d < 0 || d > 1 {
			return struggle.Signal{}, invalid("difficulty %v outside [0,1]", d)
		}
	}
	page := strings.TrimSpace(raw.PageID)
	if v.cfg.MaxPageLen > 0 && len(page) > v.cfg.MaxPageLen {
		return struggle.Signal{}, invalid("page id longer than %d bytes", v.cfg.MaxPageLen)
	}

	sig := struggle.Signal{
		Type:      typ,
		Timestamp: raw.Timestamp.UTC(),
		Magnitude: raw.Magnitude,
		PageID:    page,
	}
	if raw.Difficulty != nil {
		d := *raw.Difficulty
		sig.Difficulty = &d
	}
	return sig, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", struggle.ErrInvalidSignal, fmt.Sprintf(format, args...))
}

func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.FutureTolerance = envutil.Duration("STRUGGLE_SIGNAL_FUTURE_TOLERANCE", cfg.FutureTolerance)
	cfg.MaxSignalAge = envutil.Duration("STRUGGLE_SIGNAL_MAX_AGE", cfg.MaxSignalAge)
	cfg.MaxPageLen = envutil.Int("STRUGGLE_SIGNAL_MAX_PAGE_LEN", cfg.MaxPageLen)
	return cfg
}
