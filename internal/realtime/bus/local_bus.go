package bus

import (
	"context"
	"sync"

	"github.com/yungbote/neurobridge-struggle/internal/realtime"
)

// localBus delivers in-process for single-replica deployments and tests.
type localBus struct {
	mu   sync.RWMutex
	subs []func(realtime.Message)
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, msg realtime.Message) error {
	b.mu.RLock()
	subs := append([]func(realtime.Message){}, b.subs...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	b.mu.Lock()
	b.subs = append(b.subs, onMsg)
	b.mu.Unlock()
	return nil
}

func (b *localBus) Close() error { return nil }
