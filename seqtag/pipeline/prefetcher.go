// Package pipeline builds batches ahead of a single exclusive consumer.
//
// Batch construction runs on a bounded conc worker pool; finished batches land in a
// reorder buffer keyed by batch index and are handed to the consumer in strict
// ascending order. At most prefetch batches are in flight or waiting at any time.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/seqtag/seqtag"
	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
)

// ErrStopEpoch is returned by a consumer to end the epoch after the current batch.
// Batches already built or being built are discarded and Run returns nil.
var ErrStopEpoch = errors.New("stop epoch")

// Source produces the batches of one epoch. Batch must be safe to call concurrently for
// distinct indices.
type Source[T any] interface {
	Len() int
	Batch(ctx context.Context, index int) (T, error)
}

// Consumer receives batches in ascending index order, one at a time.
type Consumer[T any] func(ctx context.Context, index int, batch T) error

// Prefetcher holds the worker pool settings. It is stateless between runs.
type Prefetcher struct {
	workers  int
	prefetch int
	logger   zerolog.Logger
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithWorkers sets the number of concurrent batch builders.
func WithWorkers(n int) Option {
	return func(p *Prefetcher) { p.workers = n }
}

// WithPrefetch bounds the batches built but not yet consumed.
func WithPrefetch(n int) Option {
	return func(p *Prefetcher) { p.prefetch = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Prefetcher) { p.logger = logger }
}

// New returns a Prefetcher with DefaultWorkers workers and a prefetch window of twice
// the worker count unless configured otherwise.
func New(opts ...Option) (*Prefetcher, error) {
	p := &Prefetcher{workers: seqtag.DefaultWorkers, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		return nil, common.NewConfigurationError("workers", "must be positive, got %d", p.workers)
	}
	if p.prefetch == 0 {
		p.prefetch = 2 * p.workers
	}
	if p.prefetch < 0 {
		return nil, common.NewConfigurationError("prefetch", "must be positive, got %d", p.prefetch)
	}
	p.logger = p.logger.With().Str("component", "prefetcher").Logger()
	return p, nil
}

func (p *Prefetcher) Workers() int  { return p.workers }
func (p *Prefetcher) Prefetch() int { return p.prefetch }

type slot[T any] struct {
	batch T
	err   error
}

// Run builds every batch of src on p's pool and feeds them to consume in index order.
// The first producer or consumer error cancels the remaining work and is returned.
// Cancelling ctx aborts between batches.
func Run[T any](ctx context.Context, p *Prefetcher, src Source[T], consume Consumer[T]) error {
	n := src.Len()
	runID := uuid.New()
	logger := p.logger.With().Str("run_id", runID.String()).Logger()
	start := time.Now()
	logger.Debug().Int("batches", n).Int("workers", p.workers).Int("prefetch", p.prefetch).Msg("epoch started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// one buffered channel per batch index is the reorder buffer; each is written once
	slots := make([]chan slot[T], n)
	for i := range slots {
		slots[i] = make(chan slot[T], 1)
	}
	window := make(chan struct{}, p.prefetch)

	var poolErr error
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		workers := pool.New().
			WithMaxGoroutines(p.workers).
			WithContext(runCtx).
			WithCancelOnError().
			WithFirstError()
		for i := 0; i < n; i++ {
			select {
			case window <- struct{}{}:
			case <-runCtx.Done():
				poolErr = workers.Wait()
				return
			}
			workers.Go(func(ctx context.Context) error {
				b, err := src.Batch(ctx, i)
				slots[i] <- slot[T]{batch: b, err: err}
				return err
			})
		}
		poolErr = workers.Wait()
	}()

	var consumeErr error
	stopped := false
	consumed := 0
loop:
	for i := 0; i < n; i++ {
		var s slot[T]
		select {
		case s = <-slots[i]:
		case <-runCtx.Done():
			break loop
		}
		if s.err != nil {
			break
		}
		if err := consume(ctx, i, s.batch); err != nil {
			if errors.Is(err, ErrStopEpoch) {
				stopped = true
			} else {
				consumeErr = err
			}
			break
		}
		consumed++
		<-window
	}
	cancel()
	<-dispatched

	switch {
	case consumeErr != nil:
		logger.Error().Err(consumeErr).Int("batch", consumed).Msg("consumer failed")
		return consumeErr
	case stopped:
		logger.Info().Int("consumed", consumed+1).Int("discarded", n-consumed-1).Msg("epoch stopped early")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case poolErr != nil:
		logger.Error().Err(poolErr).Msg("batch construction failed")
		return poolErr
	}
	logger.Debug().Int("batches", consumed).Dur("elapsed", time.Since(start)).Msg("epoch finished")
	return nil
}
