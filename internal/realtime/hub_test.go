package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for realtime message")
	}
	return Message{}
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := LearnerChannel(struggle.SessionKey{TenantID: "acme", LearnerID: "l1"})

	clientA := hub.NewClient("l1")
	hub.AddChannel(clientA, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventInterventionTriggered, Data: map[string]any{"seq": 1}})
	hub.Broadcast(Message{Channel: channel, Event: EventRiskChanged, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventInterventionTriggered {
		t.Fatalf("first event: got %s", got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventRiskChanged {
		t.Fatalf("second event: got %s", got.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("outbound should be closed after disconnect")
	}
	if hub.Subscribers(channel) != 0 {
		t.Fatalf("closed client still subscribed")
	}

	clientB := hub.NewClient("l1")
	hub.AddChannel(clientB, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventSessionArchived})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != EventSessionArchived {
		t.Fatalf("reconnect event: got %s", got.Event)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	client := hub.NewClient("l1")
	hub.AddChannel(client, "c")
	delivered := 0
	for i := 0; i < cap(client.Outbound)+5; i++ {
		delivered += hub.Broadcast(Message{Channel: "c", Event: EventRiskChanged})
	}
	if delivered != cap(client.Outbound) {
		t.Fatalf("expected %d delivered, got %d", cap(client.Outbound), delivered)
	}
	if hub.Broadcast(Message{Event: EventRiskChanged}) != 0 {
		t.Fatalf("message without channel must not be delivered")
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	hub := NewHub(nil)
	var counts []int
	hub.OnClientCount(func(n int) { counts = append(counts, n) })
	client := hub.NewClient("l1")
	hub.AddChannel(client, "c")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, client)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	hub.Broadcast(Message{Channel: "c", Event: EventInterventionTriggered, Data: map[string]string{"id": "iv-1"}})
	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 || lines[0] != "event: InterventionTriggered" || !strings.Contains(lines[1], `"id":"iv-1"`) {
		t.Fatalf("unexpected stream: %v", lines)
	}
	hub.CloseClient(client)
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("client count callbacks: %v", counts)
	}
}
