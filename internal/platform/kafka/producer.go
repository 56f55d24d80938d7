package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// AlertProducer publishes high-urgency interventions for instructor tooling.
type AlertProducer struct {
	client syncProducer
	topic  string
}

func NewAlertProducer(client *kgo.Client, topic string) *AlertProducer {
	return &AlertProducer{client: client, topic: topic}
}

func (p *AlertProducer) PublishAlert(ctx context.Context, alert struggle.InterventionAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kafka alert: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(alert.SessionKey.String()),
		Value:     data,
		Timestamp: alert.EmittedAt,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka alert: publish: %w", err)
	}
	return nil
}

// SignalProducer publishes signal events keyed by session, as the capture
// client does; the load generator uses it.
type SignalProducer struct {
	client syncProducer
	topic  string
}

func NewSignalProducer(client *kgo.Client, topic string) *SignalProducer {
	return &SignalProducer{client: client, topic: topic}
}

func (p *SignalProducer) PublishSignal(ctx context.Context, ev struggle.SignalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka signal: marshal: %w", err)
	}
	record := &kgo.Record{Topic: p.topic, Key: []byte(ev.SessionKey.String()), Value: data}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka signal: publish: %w", err)
	}
	return nil
}
