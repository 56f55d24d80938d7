package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type Event string

const (
	EventInterventionTriggered Event = "InterventionTriggered"
	EventInterventionOutcome   Event = "InterventionOutcome"
	EventRiskChanged           Event = "RiskChanged"
	EventSessionArchived       Event = "SessionArchived"
)

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

// LearnerChannel carries events for one learning session.
func LearnerChannel(k struggle.SessionKey) string { return "struggle:session:" + k.String() }

// TenantChannel carries high-urgency events for a tenant's instructors.
func TenantChannel(tenantID string) string { return "struggle:tenant:" + tenantID }

type Client struct {
	ID        uuid.UUID
	LearnerID string
	Channels  map[string]bool
	Outbound  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
	clients       int
	heartbeat     time.Duration
	onClients     func(n int)
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		log:           log.With("component", "RealtimeHub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

// OnClientCount registers a callback invoked with the connected client count.
func (hub *Hub) OnClientCount(fn func(n int)) { hub.onClients = fn }

func (hub *Hub) NewClient(learnerID string) *Client {
	c := &Client{
		ID:        uuid.New(),
		LearnerID: learnerID,
		Channels:  make(map[string]bool),
		Outbound:  make(chan Message, 16),
		done:      make(chan struct{}),
	}
	hub.mu.Lock()
	hub.clients++
	n := hub.clients
	hub.mu.Unlock()
	if hub.onClients != nil {
		hub.onClients(n)
	}
	return c
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	client.Channels[channel] = true
	clients, ok := hub.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.log.Debug("client subscribed", "client_id", client.ID, "channel", channel)
}

func (hub *Hub) removeLocked(client *Client) {
	for ch := range client.Channels {
		if subs, ok := hub.subscriptions[ch]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(hub.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast never blocks; a client with a full buffer misses the message.
func (hub *Hub) Broadcast(msg Message) int {
	if msg.Channel == "" {
		return 0
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	delivered := 0
	for c := range hub.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
			delivered++
		default:
			hub.log.Warn("dropping realtime message; outbound buffer full", "client_id", c.ID, "event", msg.Event)
		}
	}
	return delivered
}

func (hub *Hub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

// ServeHTTP streams client messages as server-sent events until the request
// or the client is closed.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				hub.log.Warn("failed to marshal realtime message", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, raw)
			flusher.Flush()
		}
	}
}

// CloseClient unsubscribes the client and closes its outbound channel. Safe
// to call more than once.
func (hub *Hub) CloseClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.done)
		hub.mu.Lock()
		hub.removeLocked(client)
		close(client.Outbound)
		hub.clients--
		n := hub.clients
		hub.mu.Unlock()
		if hub.onClients != nil {
			hub.onClients(n)
		}
	})
}
