// Package batch groups outbound requests into time- or size-bounded batches and
// dispatches each batch with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"outbound-pool/internal/common/errors"
	"outbound-pool/internal/common/logging"
)

// Config holds batching settings
type Config struct {
	Enabled bool `yaml:"enabled"`
	// MaxBatchSize flushes the queue as soon as it holds this many requests
	MaxBatchSize int `yaml:"max_batch_size"`
	// BatchTimeout flushes a partial batch this long after its first request queued
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// MaxConcurrent bounds how many requests of a batch run at once
	MaxConcurrent int `yaml:"max_concurrent"`
	// Methods eligible for batching. Empty means GET and HEAD.
	Methods []string `yaml:"methods"`
}

// DefaultConfig returns batching settings; batching is off by default
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		MaxBatchSize:  10,
		BatchTimeout:  50 * time.Millisecond,
		MaxConcurrent: 5,
		Methods:       []string{"GET", "HEAD"},
	}
}

// Dispatcher sends a single request
type Dispatcher[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Hooks observe batch processing
type Hooks struct {
	OnBatchStart    func(batchID string, size int)
	OnBatchComplete func(batchID string, size int, duration time.Duration)
}

type result[Resp any] struct {
	resp Resp
	err  error
}

type item[Req, Resp any] struct {
	ctx    context.Context
	req    Req
	result chan result[Resp]
}

// Scheduler queues requests and flushes them in batches. Only one batch is
// processed at a time; requests queued meanwhile form the next batch.
type Scheduler[Req, Resp any] struct {
	config   Config
	methods  map[string]struct{}
	dispatch Dispatcher[Req, Resp]
	hooks    Hooks
	logger   logging.Logger

	mu         sync.Mutex
	queue      []*item[Req, Resp]
	timer      *time.Timer
	timerGen   uint64
	processing bool
	closed     bool

	inflight sync.WaitGroup
}

// New creates a scheduler that sends requests through dispatch
func New[Req, Resp any](config Config, dispatch Dispatcher[Req, Resp], hooks Hooks, logger logging.Logger) *Scheduler[Req, Resp] {
	if config.MaxBatchSize < 1 {
		config.MaxBatchSize = 1
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultConfig().BatchTimeout
	}
	methods := config.Methods
	if len(methods) == 0 {
		methods = DefaultConfig().Methods
	}

	s := &Scheduler[Req, Resp]{
		config:   config,
		methods:  make(map[string]struct{}, len(methods)),
		dispatch: dispatch,
		hooks:    hooks,
		logger:   logging.OrGlobal(logger),
	}
	for _, m := range methods {
		s.methods[strings.ToUpper(m)] = struct{}{}
	}
	return s
}

// Eligible reports whether requests with method are batched by default
func (s *Scheduler[Req, Resp]) Eligible(method string) bool {
	if !s.config.Enabled {
		return false
	}
	_, ok := s.methods[strings.ToUpper(method)]
	return ok
}

// Submit queues req and blocks until it has been dispatched, ctx ends or the
// scheduler closes.
func (s *Scheduler[Req, Resp]) Submit(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	it := &item[Req, Resp]{ctx: ctx, req: req, result: make(chan result[Resp], 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, errors.PoolClosingError(nil)
	}
	s.queue = append(s.queue, it)
	s.scheduleLocked()
	s.mu.Unlock()

	select {
	case r := <-it.result:
		return r.resp, r.err
	case <-ctx.Done():
		s.mu.Lock()
		s.removeLocked(it)
		s.mu.Unlock()
		return zero, ctx.Err()
	}
}

// QueueLength returns the number of requests waiting for a flush
func (s *Scheduler[Req, Resp]) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close rejects queued requests with a pool_closing error and refuses new ones.
// Batches already dispatching finish on their own contexts.
func (s *Scheduler[Req, Resp]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, it := range pending {
		it.result <- result[Resp]{err: errors.PoolClosingError(nil)}
	}
	if len(pending) > 0 {
		s.logger.Info("Rejected queued batch requests on close", logging.Int("count", len(pending)))
	}
}

// Wait blocks until the batch being processed, if any, has finished
func (s *Scheduler[Req, Resp]) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler[Req, Resp]) scheduleLocked() {
	if s.processing || s.closed || len(s.queue) == 0 {
		return
	}
	if len(s.queue) >= s.config.MaxBatchSize {
		s.stopTimerLocked()
		s.flushLocked()
		return
	}
	if s.timer == nil {
		s.timerGen++
		gen := s.timerGen
		s.timer = time.AfterFunc(s.config.BatchTimeout, func() {
			s.onTimer(gen)
		})
	}
}

func (s *Scheduler[Req, Resp]) onTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen {
		return
	}
	s.timer = nil
	if s.processing || s.closed || len(s.queue) == 0 {
		return
	}
	s.flushLocked()
}

func (s *Scheduler[Req, Resp]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Scheduler[Req, Resp]) flushLocked() {
	n := len(s.queue)
	if n > s.config.MaxBatchSize {
		n = s.config.MaxBatchSize
	}
	batch := make([]*item[Req, Resp], n)
	copy(batch, s.queue[:n])
	s.queue = append(s.queue[:0:0], s.queue[n:]...)

	s.processing = true
	s.inflight.Add(1)
	go s.process(batch)
}

func (s *Scheduler[Req, Resp]) removeLocked(target *item[Req, Resp]) bool {
	for i, it := range s.queue {
		if it == target {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scheduler[Req, Resp]) process(batch []*item[Req, Resp]) {
	defer s.inflight.Done()

	batchID := uuid.NewString()
	start := time.Now()

	if s.hooks.OnBatchStart != nil {
		s.hooks.OnBatchStart(batchID, len(batch))
	}
	s.logger.Debug("Processing batch",
		logging.String("batch_id", batchID),
		logging.Int("size", len(batch)),
	)

	for lo := 0; lo < len(batch); lo += s.config.MaxConcurrent {
		hi := lo + s.config.MaxConcurrent
		if hi > len(batch) {
			hi = len(batch)
		}

		var g errgroup.Group
		for _, it := range batch[lo:hi] {
			g.Go(func() error {
				s.run(it)
				return nil
			})
		}
		_ = g.Wait()
	}

	duration := time.Since(start)
	if s.hooks.OnBatchComplete != nil {
		s.hooks.OnBatchComplete(batchID, len(batch), duration)
	}

	s.mu.Lock()
	s.processing = false
	s.scheduleLocked()
	s.mu.Unlock()
}

func (s *Scheduler[Req, Resp]) run(it *item[Req, Resp]) {
	if err := it.ctx.Err(); err != nil {
		it.result <- result[Resp]{err: err}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Batch dispatch panicked", nil, logging.Any("panic", r))
			it.result <- result[Resp]{err: errors.InternalError("batch dispatch panicked", fmt.Errorf("%v", r))}
		}
	}()

	resp, err := s.dispatch(it.ctx, it.req)
	it.result <- result[Resp]{resp: resp, err: err}
}
