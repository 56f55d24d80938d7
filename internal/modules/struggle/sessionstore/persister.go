package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// persister owns the asynchronous envelope writes. Keys are partitioned over
// workers by hash, so writes for one key are applied in order.
type persister struct {
	store  *Store
	queues []chan *entry

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPersister(s *Store, workers, queueSize int) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{store: s, ctx: ctx, cancel: cancel, queues: make([]chan *entry, workers)}
	for i := range p.queues {
		q := make(chan *entry, queueSize)
		p.queues[i] = q
		p.wg.Add(1)
		go p.run(q)
	}
	return p
}

func (p *persister) run(q chan *entry) {
	defer p.wg.Done()
	for e := range q {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.dirty.Store(true)
					p.store.log.Error("persist worker panic", "session_key", e.key, "panic", fmt.Sprint(r))
				}
			}()
			_ = p.store.persistEntry(p.ctx, e)
		}()
	}
}

func (p *persister) enqueue(e *entry) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	q := p.queues[xxhash.Sum64String(e.key)%uint64(len(p.queues))]
	select {
	case q <- e:
		return true
	default:
		return false
	}
}

// stop drains queued writes and waits for workers until ctx expires, then
// aborts in-flight retries.
func (p *persister) stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// schedule requests a durable write of e. Requests coalesce while one is
// pending; a full queue marks the entry dirty for the next sweep.
func (s *Store) schedule(e *entry) {
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	if !s.persister.enqueue(e) {
		e.pending.Store(false)
		e.dirty.Store(true)
	}
}

func (s *Store) persistEntry(ctx context.Context, e *entry) error {
	e.pending.Store(false)

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil
	}
	payload, err := EncodeEnvelope(e.sess, s.now())
	e.encodeSeq++
	seq := e.encodeSeq
	e.mu.Unlock()
	if err != nil {
		e.dirty.Store(true)
		s.log.Error("envelope encode failed", "session_key", e.key, "error", err)
		return err
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if e.closed.Load() || seq < e.writtenSeq {
		// archived, or a newer envelope already landed
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = s.cfg.PersistMaxElapsed
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		return s.kv.Put(ctx, e.storageKey, payload)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		e.dirty.Store(true)
		s.persistFailures.Add(1)
		s.obs.PersistFailed()
		s.log.Warn("envelope write failed; will retry on sweep", "session_key", e.key, "attempts", attempts, "error", err)
		return fmt.Errorf("%w: %v", struggle.ErrStorageUnavailable, err)
	}
	e.writtenSeq = seq
	e.dirty.Store(false)
	return nil
}

// PersistNow writes the session envelope synchronously. It never overwrites
// an envelope encoded from newer state.
func (s *Store) PersistNow(ctx context.Context, key struggle.SessionKey) error {
	e := s.lookup(key.String())
	if e == nil {
		return fmt.Errorf("%w: %s", struggle.ErrSessionNotFound, key)
	}
	return s.persistEntry(ctx, e)
}

// FlushDirty reschedules every session whose last durable write failed.
func (s *Store) FlushDirty() int {
	n := 0
	for _, e := range s.entries() {
		if e.dirty.Load() && !e.closed.Load() {
			e.dirty.Store(false)
			s.schedule(e)
			n++
		}
	}
	return n
}

// Close stops the workers and writes every active envelope so a restart can
// resume from them.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if err := s.persister.stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, e := range s.entries() {
		if err := s.persistEntry(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
