package batch

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/parser"
)

// Scheduler groups submitted queries by fingerprint and flushes each group
// to a kernel once it is full or the flush window elapses.
//
// One lock guards the pending batches and is held across every flush, so at
// most one dispatch is in flight and a batch is never seen half flushed.
type Scheduler struct {
	fingerprinter *parser.Fingerprinter
	caller        Caller
	config        Config

	mu      sync.Mutex
	batches map[batchKey]*QueryBatch

	running atomic.Bool
	closed  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a scheduler. Call Start to run the window flush loop.
func New(f *parser.Fingerprinter, caller Caller, config Config) (*Scheduler, error) {
	if caller == nil {
		return nil, ErrNoCaller
	}
	def := DefaultConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = def.MaxBatchSize
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Entry == "" {
		config.Entry = def.Entry
	}
	return &Scheduler{
		fingerprinter: f,
		caller:        caller,
		config:        config,
		batches:       make(map[batchKey]*QueryBatch),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start runs the background loop flushing every pending batch once per
// window. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	if s.closed.Load() || !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flushAll(TriggerWindow)
		}
	}
}

// batchKey groups queries. Fingerprints ignore comments, so the scan hint
// is part of the key: hinted and unhinted lookups never share a batch.
type batchKey struct {
	hash uint64
	hint parser.ScanHint
}

// Submit adds a query to the batch of its fingerprint and scan hint. A query that cannot
// be parsed is dropped: it is logged and counted but not reported to the
// caller. Reaching MaxBatchSize flushes the batch before Submit returns.
func (s *Scheduler) Submit(requestID, sql string) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}

	q, err := s.fingerprinter.Analyze(requestID, sql)
	if err != nil {
		metrics.QueriesDropped.Inc()
		log.Printf("[Scheduler] Warning: dropping query %s: %v", requestID, err)
		return nil
	}
	metrics.QueriesSubmitted.WithLabelValues(q.Type.String()).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSchedulerClosed
	}

	key := batchKey{hash: q.FingerprintHash, hint: q.ScanHint}
	b, ok := s.batches[key]
	if !ok {
		b = &QueryBatch{
			Fingerprint:     q.Fingerprint,
			FingerprintHash: q.FingerprintHash,
			Queries:         make([]*parser.ParsedQuery, 0, s.config.MaxBatchSize),
			FirstSeen:       q.ArrivedAt,
		}
		s.batches[key] = b
	}
	b.Queries = append(b.Queries, q)

	if len(b.Queries) >= s.config.MaxBatchSize {
		delete(s.batches, key)
		s.flushLocked(b, TriggerSize)
	}
	return nil
}

// Flush dispatches every pending batch now
func (s *Scheduler) Flush() {
	s.flushAll(TriggerManual)
}

func (s *Scheduler) flushAll(trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.batches {
		delete(s.batches, key)
		s.flushLocked(b, trigger)
	}
}

// Pending returns the number of buffered queries
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b.Queries)
	}
	return n
}

// Close stops the window loop and waits for it to exit. Queries still
// buffered are dropped; call Flush first to dispatch them.
func (s *Scheduler) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Swap(false) {
		close(s.stop)
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, b := range s.batches {
		dropped += len(b.Queries)
		delete(s.batches, key)
	}
	if dropped > 0 {
		log.Printf("[Scheduler] Closed with %d buffered queries dropped", dropped)
	}
	return nil
}
