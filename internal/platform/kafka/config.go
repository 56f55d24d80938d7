package kafka

import (
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
)

type Config struct {
	Brokers      []string
	SignalsTopic string
	AlertsTopic  string
	Group        string
}

func LoadConfigFromEnv() Config {
	return Config{
		Brokers:      envutil.CSV("KAFKA_BROKERS"),
		SignalsTopic: envutil.String("KAFKA_SIGNALS_TOPIC", "struggle.signals"),
		AlertsTopic:  envutil.String("KAFKA_ALERTS_TOPIC", "struggle.alerts"),
		Group:        envutil.String("KAFKA_GROUP", "struggle-engine"),
	}
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// NewConsumerClient joins the signal consumer group. Offsets are committed
// by the consumer after records are handled.
func NewConsumerClient(cfg Config) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.SignalsTopic),
		kgo.ConsumerGroup(cfg.Group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	return cl, nil
}

func NewProducerClient(cfg Config) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AlertsTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	return cl, nil
}
