package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

// SignalHandler ingests one decoded signal event.
type SignalHandler func(ctx context.Context, ev struggle.SignalEvent) error

// fetcher is the slice of *kgo.Client the consumer uses.
type fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(offsets map[string]map[int32]kgo.EpochOffset)
}

type topicPartition struct {
	topic     string
	partition int32
}

// SignalConsumer reads signal events from the stream. Producers key records
// by session key, so one partition carries one session's signals in order.
type SignalConsumer struct {
	client     fetcher
	handle     SignalHandler
	log        *logger.Logger
	retryDelay time.Duration

	// rewound holds the offset each partition was reset to after a
	// transient failure; newer buffered records are dropped until it returns.
	rewound map[topicPartition]int64
}

func NewSignalConsumer(client *kgo.Client, handle SignalHandler, log *logger.Logger) *SignalConsumer {
	return newSignalConsumer(client, handle, log)
}

func newSignalConsumer(client fetcher, handle SignalHandler, log *logger.Logger) *SignalConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &SignalConsumer{
		client:     client,
		handle:     handle,
		log:        log.With("component", "KafkaSignalConsumer"),
		retryDelay: time.Second,
		rewound:    map[topicPartition]int64{},
	}
}

// Run polls until ctx ends or the client closes. Records rejected as
// invalid, malformed or forbidden are committed and skipped since they would
// never succeed on retry. Any other failure stops that partition at the
// failed record and rewinds to it, so it and everything after it is
// redelivered.
func (c *SignalConsumer) Run(ctx context.Context) error {
	c.log.Info("listening for signal events")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Warn("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		rewind := map[string]map[int32]kgo.EpochOffset{}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			tp := topicPartition{topic: p.Topic, partition: p.Partition}
			for _, record := range p.Records {
				if at, ok := c.rewound[tp]; ok {
					if record.Offset != at {
						continue
					}
					delete(c.rewound, tp)
				}
				err := c.handleRecord(ctx, record)
				if err != nil && !permanent(err) {
					c.log.Warn("signal event failed; will redeliver",
						"topic", record.Topic,
						"partition", record.Partition,
						"offset", record.Offset,
						"error", err,
					)
					c.rewound[tp] = record.Offset
					if rewind[p.Topic] == nil {
						rewind[p.Topic] = map[int32]kgo.EpochOffset{}
					}
					rewind[p.Topic][p.Partition] = kgo.EpochOffset{Epoch: -1, Offset: record.Offset}
					return
				}
				if err != nil {
					c.log.Warn("signal event rejected",
						"topic", record.Topic,
						"partition", record.Partition,
						"offset", record.Offset,
						"error", err,
					)
				}
				done = append(done, record)
			}
		})
		if len(done) > 0 {
			if err := c.client.CommitRecords(ctx, done...); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Warn("commit failed", "records", len(done), "error", err)
			}
		}
		if len(rewind) > 0 {
			c.client.SetOffsets(rewind)
			if err := c.pause(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *SignalConsumer) pause(ctx context.Context) error {
	if c.retryDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanent reports whether a record can never be ingested.
func permanent(err error) bool {
	return errors.Is(err, struggle.ErrInvalidSignal) ||
		errors.Is(err, struggle.ErrInvalidSessionKey) ||
		errors.Is(err, struggle.ErrForbidden)
}

func (c *SignalConsumer) handleRecord(ctx context.Context, record *kgo.Record) error {
	var ev struggle.SignalEvent
	if err := json.Unmarshal(record.Value, &ev); err != nil {
		return fmt.Errorf("%w: decode: %v", struggle.ErrInvalidSignal, err)
	}
	if err := c.handle(ctx, ev); err != nil {
		return fmt.Errorf("handle %s: %w", ev.SessionKey, err)
	}
	return nil
}
