package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PersisterConfig holds configuration for the Persister.
type PersisterConfig struct {
	// WriteTimeout bounds a single write attempt.
	WriteTimeout time.Duration
	// RetryBase is the delay after the first failed attempt; it doubles per failure.
	RetryBase time.Duration
	// RetryMax caps the retry delay.
	RetryMax time.Duration
}

// DefaultPersisterConfig returns a PersisterConfig with reasonable defaults.
func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		WriteTimeout: 2 * time.Second,
		RetryBase:    100 * time.Millisecond,
		RetryMax:     30 * time.Second,
	}
}

// WriteFunc performs one durable write.
type WriteFunc func(ctx context.Context) error

type job struct {
	key       string
	write     WriteFunc
	attempts  int
	notBefore time.Time
}

// PersisterStats is a snapshot of the Persister counters.
type PersisterStats struct {
	Pending  int   `json:"pending"`
	Written  int64 `json:"written"`
	Failures int64 `json:"failures"`
}

// Persister applies durable writes in the background so callers never wait
// on storage. Writes are keyed: a newer write for a key that is still pending
// replaces the older one. Failed writes are retried with exponential backoff
// until they succeed or the Persister is closed.
type Persister struct {
	cfg    PersisterConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	pending  map[string]*job
	queue    []string
	inflight *job

	wake chan struct{}

	written  atomic.Int64
	failures atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPersister starts a Persister.
func NewPersister(cfg PersisterConfig, logger *zap.Logger) *Persister {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultPersisterConfig().WriteTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultPersisterConfig().RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultPersisterConfig().RetryMax
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Persister{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*job),
		wake:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Enqueue schedules write under key. It never blocks.
func (p *Persister) Enqueue(key string, write WriteFunc) {
	select {
	case <-p.closed:
		p.logger.Warn("persister closed, write discarded", zap.String("key", key))
		return
	default:
	}

	p.mu.Lock()
	if j, ok := p.pending[key]; ok {
		j.write = write
	} else {
		p.pending[key] = &job{key: key, write: write}
		p.queue = append(p.queue, key)
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) run() {
	defer p.wg.Done()

	for {
		j, wait := p.next()
		if j != nil {
			p.attempt(j)
			continue
		}

		var retry <-chan time.Time
		if wait > 0 {
			retry = time.After(wait)
		}
		select {
		case <-p.closed:
			return
		case <-p.wake:
		case <-retry:
		}
	}
}

// next pops the first due job. When none is due it returns the time until the
// earliest retry, or zero if the queue is empty.
func (p *Persister) next() (*job, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var wait time.Duration
	for i, key := range p.queue {
		j := p.pending[key]
		if d := j.notBefore.Sub(now); d > 0 {
			if wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		p.queue = append(p.queue[:i:i], p.queue[i+1:]...)
		delete(p.pending, key)
		p.inflight = j
		return j, 0
	}
	return nil, wait
}

func (p *Persister) attempt(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	err := j.write(ctx)
	cancel()

	p.mu.Lock()
	p.inflight = nil
	if err == nil {
		p.mu.Unlock()
		p.written.Add(1)
		return
	}

	j.attempts++
	p.failures.Add(1)
	_, superseded := p.pending[j.key]
	delay := p.backoff(j.attempts)
	if !superseded {
		j.notBefore = p.now().Add(delay)
		p.pending[j.key] = j
		p.queue = append([]string{j.key}, p.queue...)
	}
	p.mu.Unlock()

	p.logger.Warn("persistence failure",
		zap.String("key", j.key),
		zap.Int("attempt", j.attempts),
		zap.Duration("retry_in", delay),
		zap.Bool("superseded", superseded),
		zap.Error(err))
}

func (p *Persister) backoff(attempts int) time.Duration {
	d := p.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.RetryMax {
			return p.cfg.RetryMax
		}
	}
	return d
}

// Stats returns the current counters.
func (p *Persister) Stats() PersisterStats {
	p.mu.Lock()
	pending := len(p.pending)
	if p.inflight != nil {
		pending++
	}
	p.mu.Unlock()

	return PersisterStats{
		Pending:  pending,
		Written:  p.written.Load(),
		Failures: p.failures.Load(),
	}
}

// Flush waits until every pending write has succeeded or ctx ends.
func (p *Persister) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		st := p.Stats()
		if st.Pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush: %d writes pending: %w", st.Pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops the background writer. Writes still pending are dropped; call
// Flush first to wait for them.
func (p *Persister) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
