package kernel

import (
	"context"
	"errors"
	"log"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/payload"
)

func (k *Kernel) sharedScan(ctx context.Context, p *payload.Payload) (Outcome, error) {
	out := Outcome{Mode: ModeSharedScan, Rows: len(p.Rows), DryRun: p.DryRun}
	matches, err := k.ScanCount(ctx, p.ScanTable, p.ScanCol, p.Rows)
	out.Matches = matches
	if err == nil {
		log.Printf("[SharedScan] %s.%s: %d keys, %d matches", p.ScanTable, p.ScanCol, len(p.Rows), matches)
	}
	return out, err
}

// ScanCount answers a batch of equality lookups on table.column with one
// sequential scan. The first value of every row is a search key; the result
// is the number of table rows equal to at least one key. Unknown tables or
// columns yield zero matches.
func (k *Kernel) ScanCount(ctx context.Context, table, column string, rows []payload.Row) (int, error) {
	col, err := k.engine.Column(ctx, table, column)
	if errors.Is(err, engine.ErrTableNotFound) || errors.Is(err, engine.ErrColumnNotFound) {
		log.Printf("[SharedScan] Warning: %v", err)
		return 0, nil
	}
	if err != nil {
		return 0, batchError("resolve column", err)
	}

	keys := make([]datum, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key, err := valueDatum(row[0], col.Type)
		if err != nil {
			log.Printf("[SharedScan] Warning: skipping key %s: %v", row[0], err)
			continue
		}
		if key.null {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	byValue := col.ByValue && fixedWidth(col.Type)

	tx, err := k.engine.Begin(ctx)
	if err != nil {
		return 0, batchError("begin", err)
	}
	defer tx.Rollback()

	cur, err := tx.Scan(ctx, col)
	if err != nil {
		return 0, batchError("scan", err)
	}
	defer cur.Close()

	matches, scanned := 0, 0
	for cur.Next() {
		scanned++
		d, err := toDatum(cur.Value(), col.Type)
		if err != nil || d.null {
			continue
		}
		for _, key := range keys {
			if datumEqual(d, key, byValue) {
				matches++
				break
			}
		}
	}
	if err := cur.Err(); err != nil {
		return 0, batchError("scan", err)
	}

	metrics.SharedScanRows.Add(float64(scanned))
	metrics.SharedScanMatches.Add(float64(matches))
	return matches, nil
}
