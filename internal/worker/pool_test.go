package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nibras-backend/internal/models"
)

type memorySink struct {
	mu      sync.Mutex
	records []models.DispatchRecord
	err     error
}

func (s *memorySink) Record(ctx context.Context, d *models.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *d)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestPool_FlushesOnStop(t *testing.T) {
	sink := &memorySink{}
	p := NewPool(sink, 3, 16, zerolog.Nop())
	p.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Record(context.Background(), &models.DispatchRecord{Provider: "gemini", Attempts: i}))
	}
	p.Stop()

	assert.Equal(t, 10, sink.count())
	assert.Error(t, p.Record(context.Background(), &models.DispatchRecord{}))
}

func TestPool_RecordCopiesInput(t *testing.T) {
	sink := &memorySink{}
	p := NewPool(sink, 1, 4, zerolog.Nop())

	rec := &models.DispatchRecord{Outcome: models.OutcomeSuccess}
	require.NoError(t, p.Record(context.Background(), rec))
	rec.Outcome = models.OutcomeCanceled

	p.Start()
	p.Stop()
	require.Equal(t, 1, sink.count())
	assert.Equal(t, models.OutcomeSuccess, sink.records[0].Outcome)
}

func TestPool_QueueFull(t *testing.T) {
	sink := &memorySink{}
	// not started, so nothing drains the backlog
	p := NewPool(sink, 1, 1, zerolog.Nop())

	require.NoError(t, p.Record(context.Background(), &models.DispatchRecord{}))
	assert.ErrorIs(t, p.Record(context.Background(), &models.DispatchRecord{}), ErrQueueFull)
}

func TestPool_SinkErrorsAreLoggedNotFatal(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	p := NewPool(sink, 2, 4, zerolog.Nop())
	p.Start()
	require.NoError(t, p.Record(context.Background(), &models.DispatchRecord{}))
	require.NoError(t, p.Record(context.Background(), &models.DispatchRecord{}))
	p.Stop()
	assert.Equal(t, 2, sink.count())
}

func TestPool_AcceptedRecordsSurviveConcurrentStop(t *testing.T) {
	for round := 0; round < 20; round++ {
		sink := &memorySink{}
		p := NewPool(sink, 2, 4096, zerolog.Nop())
		p.Start()

		var accepted int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 100; i++ {
					err := p.Record(context.Background(), &models.DispatchRecord{RequestID: "r"})
					if err == nil {
						atomic.AddInt64(&accepted, 1)
						continue
					}
					if errors.Is(err, ErrStopped) {
						return
					}
				}
			}()
		}

		close(start)
		p.Stop()
		wg.Wait()

		assert.Equal(t, int(atomic.LoadInt64(&accepted)), sink.count(), "round %d", round)
	}
}

func TestPool_RecordAfterStop(t *testing.T) {
	sink := &memorySink{}
	p := NewPool(sink, 1, 4, zerolog.Nop())
	p.Start()
	p.Stop()
	p.Stop()

	err := p.Record(context.Background(), &models.DispatchRecord{RequestID: "late"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, sink.count())
}
