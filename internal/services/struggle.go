package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/prediction"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/sessionstore"
	"github.com/yungbote/neurobridge-struggle/internal/modules/struggle/signals"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

type StruggleService interface {
	IngestSignal(ctx context.Context, ev struggle.SignalEvent, source string) (struggle.ScoreUpdateResult, error)
	StartSession(ctx context.Context, key struggle.SessionKey, opts struggle.StartOptions) (struggle.SessionHandle, error)
	EndSession(ctx context.Context, key struggle.SessionKey) (struggle.SessionSummary, error)
	GetStatus(ctx context.Context, key struggle.SessionKey) (struggle.SessionSnapshot, error)
	Predict(ctx context.Context, key struggle.SessionKey, in prediction.Inputs) (struggle.Prediction, error)
	RecordOutcome(ctx context.Context, key struggle.SessionKey, interventionID string, patch struggle.OutcomePatch) (struggle.InterventionRecord, error)
	Authorize(ctx context.Context, key struggle.SessionKey) error
	Stats() sessionstore.Stats
}

type StruggleDeps struct {
	Store     *sessionstore.Store
	Validator *signals.Validator
	Notifier  StruggleNotifier
	Alerts    AlertPublisher
	Metrics   *observability.Metrics
	Log       *logger.Logger
	Now       func() time.Time
	// AlertTimeout bounds each instructor alert publish.
	AlertTimeout time.Duration
}

type struggleService struct {
	store     *sessionstore.Store
	validator *signals.Validator
	notifier  StruggleNotifier
	alerts    AlertPublisher
	metrics   *observability.Metrics
	log       *logger.Logger
	now       func() time.Time
	tracer    trace.Tracer

	alertTimeout time.Duration
}

func NewStruggleService(deps StruggleDeps) StruggleService {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Validator == nil {
		deps.Validator = signals.NewValidator(signals.DefaultConfig())
	}
	if deps.Notifier == nil {
		deps.Notifier = NewStruggleNotifier(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AlertTimeout <= 0 {
		deps.AlertTimeout = 5 * time.Second
	}
	return &struggleService{
		store:        deps.Store,
		validator:    deps.Validator,
		notifier:     deps.Notifier,
		alerts:       deps.Alerts,
		metrics:      deps.Metrics,
		log:          deps.Log.With("service", "StruggleService"),
		now:          deps.Now,
		tracer:       observability.Tracer(),
		alertTimeout: deps.AlertTimeout,
	}
}

// Authorize checks the caller against the session key. Requests without a
// principal pass; auth is enforced by middleware when enabled.
func (s *struggleService) Authorize(ctx context.Context, key struggle.SessionKey) error {
	p := ctxutil.GetPrincipal(ctx)
	if p == nil {
		return nil
	}
	if p.TenantID != "" && p.TenantID != key.TenantID {
		return fmt.Errorf("%w: tenant mismatch", struggle.ErrForbidden)
	}
	if !p.Service && p.LearnerID != key.LearnerID {
		return fmt.Errorf("%w: learner mismatch", struggle.ErrForbidden)
	}
	return nil
}

func (s *struggleService) span(ctx context.Context, name string, key struggle.SessionKey) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("struggle.tenant_id", key.TenantID),
		attribute.String("struggle.course_id", key.CourseID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *struggleService) IngestSignal(ctx context.Context, ev struggle.SignalEvent, source string) (res struggle.ScoreUpdateResult, err error) {
	ctx, span := s.span(ctx, "struggle.IngestSignal", ev.SessionKey)
	defer func() {
		status := "ok"
		switch {
		case err != nil && errors.Is(err, struggle.ErrInvalidSignal):
			status = "invalid"
		case err != nil:
			status = "error"
		case !res.Recorded:
			status = "dropped"
		}
		s.metrics.SignalIngested(source, status)
		endSpan(span, err)
	}()

	if err = ev.SessionKey.Validate(); err != nil {
		return res, err
	}
	if err = s.Authorize(ctx, ev.SessionKey); err != nil {
		return res, err
	}
	sig, err := s.validator.Validate(ev.RawSignal, s.now().UTC())
	if err != nil {
		return res, err
	}
	span.SetAttributes(attribute.String("struggle.signal_type", string(sig.Type)))

	res, err = s.store.AppendSignal(ctx, ev.SessionKey, sig)
	if err != nil {
		return res, err
	}
	span.SetAttributes(
		attribute.Float64("struggle.score", res.Score),
		attribute.Bool("struggle.intervention_fired", res.InterventionFired),
	)
	if res.InterventionFired && res.Intervention != nil {
		s.notifier.InterventionTriggered(ctx, ev.SessionKey, *res.Intervention, res.Score)
		if res.Intervention.Urgency == struggle.UrgencyHigh {
			s.publishAlert(ctx, ev.SessionKey, *res.Intervention, res.Score)
		}
	}
	return res, nil
}

// publishAlert runs detached from the request so a slow broker never delays
// scoring.
func (s *struggleService) publishAlert(ctx context.Context, key struggle.SessionKey, rec struggle.InterventionRecord, score float64) {
	if s.alerts == nil {
		return
	}
	alert := struggle.InterventionAlert{SessionKey: key, Intervention: rec, Score: score, EmittedAt: s.now().UTC()}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.alertTimeout)
		defer cancel()
		err := s.alerts.PublishAlert(actx, alert)
		s.metrics.AlertPublished(err == nil)
		if err != nil {
			s.log.Warn("instructor alert publish failed", "session_key", key.String(), "intervention_id", rec.ID, "error", err)
		}
	}()
}

func (s *struggleService) StartSession(ctx context.Context, key struggle.SessionKey, opts struggle.StartOptions) (h struggle.SessionHandle, err error) {
	ctx, span := s.span(ctx, "struggle.StartSession", key)
	defer func() { endSpan(span, err) }()
	if err = key.Validate(); err != nil {
		return h, err
	}
	if err = s.Authorize(ctx, key); err != nil {
		return h, err
	}
	return s.store.StartSession(ctx, key, opts)
}

func (s *struggleService) EndSession(ctx context.Context, key struggle.SessionKey) (sum struggle.SessionSummary, err error) {
	ctx, span := s.span(ctx, "struggle.EndSession", key)
	defer func() { endSpan(span, err) }()
	if err = key.Validate(); err != nil {
		return sum, err
	}
	if err = s.Authorize(ctx, key); err != nil {
		return sum, err
	}
	sum, err = s.store.EndSession(ctx, key)
	if err != nil {
		return sum, err
	}
	s.notifier.SessionArchived(ctx, sum)
	return sum, nil
}

func (s *struggleService) GetStatus(ctx context.Context, key struggle.SessionKey) (snap struggle.SessionSnapshot, err error) {
	ctx, span := s.span(ctx, "struggle.GetStatus", key)
	defer func() { endSpan(span, err) }()
	if err = key.Validate(); err != nil {
		return snap, err
	}
	if err = s.Authorize(ctx, key); err != nil {
		return snap, err
	}
	return s.store.GetStatus(ctx, key)
}

func (s *struggleService) Predict(ctx context.Context, key struggle.SessionKey, in prediction.Inputs) (p struggle.Prediction, err error) {
	ctx, span := s.span(ctx, "struggle.Predict", key)
	defer func() { endSpan(span, err) }()
	if err = key.Validate(); err != nil {
		return p, err
	}
	if err = s.Authorize(ctx, key); err != nil {
		return p, err
	}
	p, err = s.store.Predict(ctx, key, in)
	if err != nil {
		return p, err
	}
	span.SetAttributes(attribute.String("struggle.risk_level", string(p.RiskLevel)))
	if p.RiskLevel == struggle.RiskHigh || p.RiskLevel == struggle.RiskCritical {
		s.notifier.RiskChanged(ctx, key, p)
	}
	return p, nil
}

func (s *struggleService) RecordOutcome(ctx context.Context, key struggle.SessionKey, interventionID string, patch struggle.OutcomePatch) (rec struggle.InterventionRecord, err error) {
	ctx, span := s.span(ctx, "struggle.RecordOutcome", key)
	defer func() { endSpan(span, err) }()
	if err = key.Validate(); err != nil {
		return rec, err
	}
	if err = s.Authorize(ctx, key); err != nil {
		return rec, err
	}
	rec, err = s.store.RecordOutcome(ctx, key, interventionID, patch)
	if err != nil {
		return rec, err
	}
	s.notifier.InterventionOutcome(ctx, key, rec)
	return rec, nil
}

func (s *struggleService) Stats() sessionstore.Stats { return s.store.Stats() }
