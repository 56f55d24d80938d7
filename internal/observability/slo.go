package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type rollingSum struct {
	values []float64
	idx    int
	total  float64
}

func newRollingSum(size int) *rollingSum {
	if size < 1 {
		size = 1
	}
	return &rollingSum{values: make([]float64, size)}
}

func (r *rollingSum) add(v float64) {
	r.total += v - r.values[r.idx]
	r.values[r.idx] = v
	r.idx++
	if r.idx >= len(r.values) {
		r.idx = 0
	}
}

// sloSource reads one cumulative total/bad pair per evaluation.
type sloSource struct {
	name   string
	target float64
	read   func() (total, bad float64)

	total, bad         *rollingSum
	prevTotal, prevBad float64
}

// SLOEvaluator turns cumulative counters into rolling-window SLI, budget and
// burn-rate gauges, and warns when the burn rate crosses a threshold.
type SLOEvaluator struct {
	metrics     *Metrics
	log         *logger.Logger
	interval    time.Duration
	windowLabel string
	burnWarn    float64
	sources     []*sloSource
}

func (m *Metrics) NewSLOEvaluator(log *logger.Logger) *SLOEvaluator {
	if m == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	interval := envutil.Duration("SLO_EVAL_INTERVAL", time.Minute)
	if interval <= 0 {
		interval = time.Minute
	}
	window := envutil.Duration("SLO_WINDOW", 24*time.Hour)
	if window < interval {
		window = interval
	}
	size := int(window / interval)
	e := &SLOEvaluator{
		metrics:     m,
		log:         log.With("component", "SLOEvaluator"),
		interval:    interval,
		windowLabel: formatWindowLabel(window),
		burnWarn:    envutil.Float("SLO_BURN_RATE_WARN", 2),
	}
	e.sources = []*sloSource{
		{
			name:   "operation_budget",
			target: clamp01(envutil.Float("SLO_OPERATION_BUDGET_TARGET", 0.99)),
			read:   func() (float64, float64) { return m.opsAll.Value(), m.opsSlow.Value() },
		},
		{
			name:   "api_availability",
			target: clamp01(envutil.Float("SLO_API_AVAIL_TARGET", 0.995)),
			read:   func() (float64, float64) { return m.apiReqTotal.Value(), m.apiReqError.Value() },
		},
		{
			name:   "persistence",
			target: clamp01(envutil.Float("SLO_PERSIST_TARGET", 0.999)),
			read:   func() (float64, float64) { return m.opsAll.Value(), m.persistFailures.Value() },
		},
	}
	for _, s := range e.sources {
		s.total = newRollingSum(size)
		s.bad = newRollingSum(size)
	}
	return e
}

func (e *SLOEvaluator) Start(ctx context.Context) {
	if e == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Evaluate()
			}
		}
	}()
	e.log.Info("SLO evaluator started", "window", e.windowLabel, "interval", e.interval.String())
}

func (e *SLOEvaluator) Evaluate() {
	if e == nil {
		return
	}
	for _, s := range e.sources {
		total, bad := s.read()
		s.total.add(delta(total, s.prevTotal))
		s.bad.add(delta(bad, s.prevBad))
		s.prevTotal, s.prevBad = total, bad
		e.evalSLO(s)
	}
}

func (e *SLOEvaluator) evalSLO(s *sloSource) {
	m := e.metrics
	if s.total.total <= 0 {
		m.sloCompliance.Set(1, s.name, e.windowLabel)
		m.sloBudget.Set(1, s.name, e.windowLabel)
		m.sloBurn.Set(0, s.name, e.windowLabel)
		return
	}
	sli := clamp01(1 - s.bad.total/s.total.total)
	burn := 0.0
	if s.target < 1 {
		burn = (1 - sli) / (1 - s.target)
	}
	m.sloCompliance.Set(sli, s.name, e.windowLabel)
	m.sloBudget.Set(clamp01(1-burn), s.name, e.windowLabel)
	m.sloBurn.Set(burn, s.name, e.windowLabel)
	if e.burnWarn > 0 && burn >= e.burnWarn {
		e.log.Warn("SLO burn rate high", "slo", s.name, "sli", sli, "target", s.target, "burn_rate", burn)
	}
}

func delta(current, prev float64) float64 {
	if current < prev {
		return current
	}
	return current - prev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatWindowLabel(window time.Duration) string {
	hours := window.Hours()
	if hours >= 24 && int(hours)%24 == 0 && hours == float64(int(hours)) {
		return strconv.Itoa(int(hours/24)) + "d"
	}
	if hours >= 1 {
		return strconv.Itoa(int(hours)) + "h"
	}
	return strconv.Itoa(int(window.Minutes())) + "m"
}
