package selection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/store"
)

const (
	saveTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	slowSave        = 250 * time.Millisecond
)

// persister writes the session table in the background. Requests only mark
// the table dirty; the worker saves the latest table, so bursts of serves
// coalesce into one write and a slow backend never blocks a request.
type persister struct {
	repo     store.SelectionRepository
	snapshot func() map[string]domain.SessionSnapshot

	mu     sync.Mutex
	dirty  bool
	closed bool

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newPersister(repo store.SelectionRepository, snapshot func() map[string]domain.SessionSnapshot, logger *slog.Logger, m *metrics.Metrics) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{
		repo:     repo,
		snapshot: snapshot,
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		metrics:  m,
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Submit marks the table dirty and wakes the worker. It never blocks.
func (p *persister) Submit() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.dirty = true
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
		// A wakeup is already pending; it will pick up this change.
	}
}

func (p *persister) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.flush()
			return
		case <-p.notify:
			p.flush()
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	p.dirty = false
	p.mu.Unlock()

	table := p.snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	err := p.repo.SaveSelectionState(ctx, table)
	duration := time.Since(start)
	p.metrics.ObservePersistLatency(duration)

	if err != nil {
		p.metrics.ObservePersistError(p.repo.Backend(), "save")
		p.logger.Warn("Failed to persist selection state",
			"backend", p.repo.Backend(),
			"sessions", len(table),
			"error", err,
		)
		return
	}
	if duration > slowSave {
		p.logger.Warn("Slow selection state save",
			"backend", p.repo.Backend(),
			"sessions", len(table),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Close stops accepting work, writes any pending table and waits for the
// worker to exit.
func (p *persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		p.logger.Warn("Selection persister shutdown timeout", "backend", p.repo.Backend())
	}
}
