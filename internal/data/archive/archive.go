package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

// Sink persists archived sessions. Implementations must tolerate the same
// row being written more than once.
type Sink interface {
	Archive(ctx context.Context, row *struggle.SessionArchive) error
}

// Multi writes to every sink and fails if any of them fails, so a retry
// reaches the sinks that missed the row.
type Multi struct {
	sinks []namedSink
	log   *logger.Logger
}

type namedSink struct {
	name string
	sink Sink
}

func NewMulti(log *logger.Logger) *Multi {
	return &Multi{log: log.With("service", "ArchiveMulti")}
}

func (m *Multi) Add(name string, s Sink) *Multi {
	if s != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: s})
	}
	return m
}

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Archive(ctx context.Context, row *struggle.SessionArchive) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Archive(ctx, row); err != nil {
			m.log.Warn("archive sink failed", "sink", s.name, "session_key", row.SessionKey, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Memory keeps rows in process; used in tests and when no durable sink is configured.
type Memory struct {
	mu   sync.Mutex
	rows map[string]*struggle.SessionArchive
	ord  []string
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*struggle.SessionArchive)}
}

func (m *Memory) Archive(ctx context.Context, row *struggle.SessionArchive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *row
	cp.EnvelopeJSON = append([]byte(nil), row.EnvelopeJSON...)
	id := row.ID.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		m.ord = append(m.ord, id)
	}
	m.rows[id] = &cp
	return nil
}

// Rows returns archived rows in insertion order.
func (m *Memory) Rows() []*struggle.SessionArchive {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*struggle.SessionArchive, 0, len(m.ord))
	for _, id := range m.ord {
		out = append(out, m.rows[id])
	}
	return out
}

func (m *Memory) ByReason(reason struggle.ArchiveReason) []*struggle.SessionArchive {
	var out []*struggle.SessionArchive
	for _, r := range m.Rows() {
		if r.Reason == string(reason) {
			out = append(out, r)
		}
	}
	return out
}
