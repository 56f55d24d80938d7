package services

import (
	"context"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
	"github.com/yungbote/neurobridge-struggle/internal/realtime/bus"
)

// Emitter delivers realtime messages to connected clients.
type Emitter interface {
	Emit(ctx context.Context, msg realtime.Message)
}

type HubEmitter struct{ Hub *realtime.Hub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.Message) {
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes through the cross-replica bus; each replica's
// forwarder broadcasts to its own hub.
type BusEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *BusEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("realtime publish failed", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}

// AlertPublisher forwards high-urgency interventions to instructor tooling.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert struggle.InterventionAlert) error
}

// StruggleNotifier maps engine outcomes onto realtime channels.
type StruggleNotifier interface {
	InterventionTriggered(ctx context.Context, key struggle.SessionKey, rec struggle.InterventionRecord, score float64)
	InterventionOutcome(ctx context.Context, key struggle.SessionKey, rec struggle.InterventionRecord)
	RiskChanged(ctx context.Context, key struggle.SessionKey, p struggle.Prediction)
	SessionArchived(ctx context.Context, summary struggle.SessionSummary)
}

type struggleNotifier struct {
	emitter Emitter
}

func NewStruggleNotifier(emitter Emitter) StruggleNotifier {
	return &struggleNotifier{emitter: emitter}
}

func (n *struggleNotifier) emit(ctx context.Context, channel string, ev realtime.Event, data any) {
	if n == nil || n.emitter == nil {
		return
	}
	n.emitter.Emit(ctx, realtime.Message{Channel: channel, Event: ev, Data: data})
}

func (n *struggleNotifier) InterventionTriggered(ctx context.Context, key struggle.SessionKey, rec struggle.InterventionRecord, score float64) {
	payload := map[string]any{"session_key": key, "intervention": rec, "score": score}
	n.emit(ctx, realtime.LearnerChannel(key), realtime.EventInterventionTriggered, payload)
	if rec.Urgency == struggle.UrgencyHigh {
		n.emit(ctx, realtime.TenantChannel(key.TenantID), realtime.EventInterventionTriggered, payload)
	}
}

func (n *struggleNotifier) InterventionOutcome(ctx context.Context, key struggle.SessionKey, rec struggle.InterventionRecord) {
	n.emit(ctx, realtime.LearnerChannel(key), realtime.EventInterventionOutcome, map[string]any{"session_key": key, "intervention": rec})
}

func (n *struggleNotifier) RiskChanged(ctx context.Context, key struggle.SessionKey, p struggle.Prediction) {
	n.emit(ctx, realtime.LearnerChannel(key), realtime.EventRiskChanged, map[string]any{"session_key": key, "prediction": p})
}

func (n *struggleNotifier) SessionArchived(ctx context.Context, summary struggle.SessionSummary) {
	n.emit(ctx, realtime.LearnerChannel(summary.Key), realtime.EventSessionArchived, summary)
}
