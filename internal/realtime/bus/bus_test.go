package bus

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
)

func TestLocalBusForwardsToHub(t *testing.T) {
	hub := realtime.NewHub(nil)
	c := hub.NewClient("l1")
	hub.AddChannel(c, "c")

	b := NewLocalBus()
	if err := b.StartForwarder(context.Background(), func(m realtime.Message) { hub.Broadcast(m) }); err != nil {
		t.Fatalf("forwarder: %v", err)
	}
	if err := b.Publish(context.Background(), realtime.Message{Channel: "c", Event: realtime.EventRiskChanged}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case m := <-c.Outbound:
		if m.Event != realtime.EventRiskChanged {
			t.Fatalf("unexpected event %s", m.Event)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not forwarded")
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	b, err := NewRedisBus(logger.Nop(), rdb, "struggle:realtime:test")
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan realtime.Message, 1)
	if err := b.StartForwarder(ctx, func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("forwarder: %v", err)
	}
	if err := b.Publish(ctx, realtime.Message{Channel: "c", Event: realtime.EventInterventionOutcome}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case m := <-got:
		if m.Event != realtime.EventInterventionOutcome || m.Channel != "c" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatalf("message not received")
	}
}
