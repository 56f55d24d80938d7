package signalgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// HTTPSink posts events to the engine's signal endpoint.
type HTTPSink struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPSink(url, token string) *HTTPSink {
	return &HTTPSink{URL: url, Token: token, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSink) Send(ctx context.Context, ev struggle.SignalEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signal rejected: %d %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Publisher is satisfied by the Kafka signal producer.
type Publisher interface {
	PublishSignal(ctx context.Context, ev struggle.SignalEvent) error
}

type StreamSink struct{ Publisher Publisher }

func (s StreamSink) Send(ctx context.Context, ev struggle.SignalEvent) error {
	return s.Publisher.PublishSignal(ctx, ev)
}
