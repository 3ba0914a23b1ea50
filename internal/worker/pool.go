// Package worker moves usage ledger writes off the request path.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nibras-backend/internal/models"
)

// ErrQueueFull is returned when the backlog is at capacity. The record is
// dropped; the ledger is best effort.
var ErrQueueFull = errors.New("usage queue full")

// ErrStopped is returned by Record once Stop has begun.
var ErrStopped = errors.New("usage pool stopped")

// Sink persists a single record.
type Sink interface {
	Record(ctx context.Context, d *models.DispatchRecord) error
}

// Pool drains queued records into a Sink with a fixed number of workers.
// It satisfies the same Record contract as the Sink so it can stand in for
// it in the dispatch path.
type Pool struct {
	sink         Sink
	queue        chan models.DispatchRecord
	workerCount  int
	writeTimeout time.Duration
	logger       zerolog.Logger

	// mu orders enqueues before the stop signal, so anything Record
	// accepted is in the queue when the workers start flushing.
	mu       sync.RWMutex
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPool(sink Sink, workerCount, backlog int, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		sink:         sink,
		queue:        make(chan models.DispatchRecord, backlog),
		workerCount:  workerCount,
		writeTimeout: 5 * time.Second,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().Int("workers", p.workerCount).Msg("usage workers started")
}

// Stop stops accepting work, flushes the backlog and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopChan)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Record enqueues a copy of d without blocking.
func (p *Pool) Record(_ context.Context, d *models.DispatchRecord) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- *d:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case rec := <-p.queue:
			p.write(id, rec)
		case <-p.stopChan:
			// flush whatever is left before exiting
			for {
				select {
				case rec := <-p.queue:
					p.write(id, rec)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) write(id int, rec models.DispatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.sink.Record(ctx, &rec); err != nil {
		p.logger.Error().Err(err).Int("worker", id).Str("request_id", rec.RequestID).Msg("failed to write usage record")
	}
}
