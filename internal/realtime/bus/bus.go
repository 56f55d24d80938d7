package bus

import (
	"context"

	"github.com/yungbote/neurobridge-struggle/internal/realtime"
)

// Bus fans realtime messages out across engine replicas.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
