package batch

import (
	"context"
	"log"
	"time"

	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/payload"
)

// flushLocked encodes b and hands it to the kernel. The caller holds s.mu.
func (s *Scheduler) flushLocked(b *QueryBatch, trigger Trigger) {
	size := len(b.Queries)
	if size == 0 {
		return
	}

	p := encodeBatch(s.fingerprinter, b, s.config)
	queryLabel := truncateQuery(p.TemplateSQL, 50)
	metrics.Flushes.WithLabelValues(string(trigger)).Inc()
	metrics.BatchSize.WithLabelValues(queryLabel).Observe(float64(size))
	metrics.BatchDelay.WithLabelValues(queryLabel).Observe(time.Since(b.FirstSeen).Seconds())

	ctx := context.Background()
	if s.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.DispatchTimeout)
		defer cancel()
	}

	entry := s.config.Entry
	start := time.Now()
	result, err := s.caller.Call(ctx, entry, payload.Encode(p))
	latency := time.Since(start)
	metrics.DispatchLatency.WithLabelValues(string(entry)).Observe(latency.Seconds())

	if err != nil {
		metrics.DispatchErrors.WithLabelValues(string(entry)).Inc()
		log.Printf("[Scheduler] Dispatch of %d queries (%s) failed: %v", size, queryLabel, err)
	} else if entry == payload.EntryDebug {
		log.Printf("[Scheduler] Debug report (%s flush):\n%s", trigger, result)
	}

	if s.config.OnFlush != nil {
		s.config.OnFlush(Report{
			Hash:     b.FingerprintHash,
			Template: p.TemplateSQL,
			Size:     size,
			Trigger:  trigger,
			Entry:    entry,
			Result:   result,
			Err:      err,
			Latency:  latency,
		})
	}
}

// truncateQuery truncates a query for use as a metric label
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
