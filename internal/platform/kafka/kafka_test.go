package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

type fakeFetcher struct {
	batches   []kgo.Fetches
	cancel    context.CancelFunc
	committed []*kgo.Record
	rewinds   []map[string]map[int32]kgo.EpochOffset
}

func (f *fakeFetcher) PollFetches(ctx context.Context) kgo.Fetches {
	if len(f.batches) == 0 {
		f.cancel()
		return kgo.Fetches{}
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b
}

func (f *fakeFetcher) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeFetcher) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	f.rewinds = append(f.rewinds, offsets)
}

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "struggle.signals",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func eventRecord(t *testing.T, ev struggle.SignalEvent) *kgo.Record {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &kgo.Record{Topic: "struggle.signals", Key: []byte(ev.SessionKey.String()), Value: b}
}

func TestSignalConsumerHandlesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l1"}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	good := eventRecord(t, struggle.SignalEvent{SessionKey: key, RawSignal: struggle.RawSignal{Type: "idle", Timestamp: at, Magnitude: 40}})
	bad := &kgo.Record{Topic: "struggle.signals", Value: []byte("{oops")}
	rejected := eventRecord(t, struggle.SignalEvent{SessionKey: key, RawSignal: struggle.RawSignal{Type: "blink", Timestamp: at}})

	f := &fakeFetcher{batches: []kgo.Fetches{fetchesOf(good, bad, rejected)}, cancel: cancel}
	var seen []struggle.SignalEvent
	c := newSignalConsumer(f, func(ctx context.Context, ev struggle.SignalEvent) error {
		seen = append(seen, ev)
		if ev.Type != "idle" {
			return struggle.ErrInvalidSignal
		}
		return nil
	}, nil)

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(seen) != 2 || seen[0].SessionKey != key || seen[0].Magnitude != 40 {
		t.Fatalf("unexpected handled events: %+v", seen)
	}
	if len(f.committed) != 3 {
		t.Fatalf("all records should be committed, got %d", len(f.committed))
	}
}

func TestSignalConsumerRedeliversTransientFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := struggle.SessionKey{TenantID: "acme", LearnerID: "l1"}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := make([]*kgo.Record, 3)
	for i := range records {
		records[i] = eventRecord(t, struggle.SignalEvent{SessionKey: key, RawSignal: struggle.RawSignal{Type: "idle", Timestamp: at.Add(time.Duration(i) * time.Second), Magnitude: 40}})
		records[i].Offset = int64(i)
	}

	f := &fakeFetcher{
		batches: []kgo.Fetches{
			fetchesOf(records[0], records[1], records[2]),
			// buffered before the rewind took effect
			fetchesOf(records[2]),
			fetchesOf(records[1], records[2]),
		},
		cancel: cancel,
	}
	failures := 1
	var handled []int64
	c := newSignalConsumer(f, func(ctx context.Context, ev struggle.SignalEvent) error {
		offset := int64(ev.Timestamp.Sub(at) / time.Second)
		if offset == 1 && failures > 0 {
			failures--
			return struggle.ErrStorageUnavailable
		}
		handled = append(handled, offset)
		return nil
	}, nil)
	c.retryDelay = 0

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(f.rewinds) != 1 || f.rewinds[0]["struggle.signals"][0].Offset != 1 {
		t.Fatalf("expected one rewind to offset 1, got %+v", f.rewinds)
	}
	if len(handled) != 3 || handled[0] != 0 || handled[1] != 1 || handled[2] != 2 {
		t.Fatalf("records should be handled once each and in order, got %v", handled)
	}
	if len(f.committed) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(f.committed))
	}
	for i, r := range f.committed {
		if r.Offset != int64(i) {
			t.Fatalf("commit %d has offset %d", i, r.Offset)
		}
	}
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestAlertProducerKeysBySession(t *testing.T) {
	fp := &fakeProducer{}
	p := &AlertProducer{client: fp, topic: "struggle.alerts"}
	alert := struggle.InterventionAlert{
		SessionKey:   struggle.SessionKey{TenantID: "acme", LearnerID: "l1"},
		Intervention: struggle.InterventionRecord{ID: "iv-1", Urgency: struggle.UrgencyHigh},
		Score:        0.95,
		EmittedAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	if err := p.PublishAlert(context.Background(), alert); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fp.records) != 1 || string(fp.records[0].Key) != "acme/l1" || fp.records[0].Topic != "struggle.alerts" {
		t.Fatalf("unexpected record: %+v", fp.records)
	}

	fp.err = errors.New("broker down")
	if err := p.PublishAlert(context.Background(), alert); err == nil {
		t.Fatalf("expected publish error")
	}
}
