package kernel

import (
	"context"
	"errors"
	"log"
	"runtime/debug"

	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/payload"
	"github.com/lib/pq/oid"
)

const (
	batchSavepoint = "duet_batch"
	rowSavepoint   = "duet_row"
)

// executeSimple is the legacy execution path: the plan is prepared for this
// call only, every parameter is bound as an 8-byte integer and rows run
// outside any transaction. A dry run executes inside a transaction that is
// always rolled back.
func (k *Kernel) executeSimple(ctx context.Context, p *payload.Payload) (Outcome, error) {
	out := Outcome{Mode: ModeSimple, Rows: len(p.Rows), DryRun: p.DryRun}
	if len(p.Rows) == 0 {
		return out, nil
	}

	argTypes := make([]oid.Oid, len(p.Rows[0]))
	for i := range argTypes {
		argTypes[i] = oid.T_int8
	}
	plan, err := k.engine.Prepare(ctx, p.TemplateSQL, argTypes)
	if err != nil {
		return out, batchError("prepare", err)
	}
	defer plan.Close()

	var tx *engine.Tx
	if p.DryRun {
		if tx, err = k.engine.Begin(ctx); err != nil {
			return out, batchError("begin", err)
		}
		defer tx.Rollback()
	}

	args := make([]any, len(argTypes))
	for _, row := range p.Rows {
		if len(row) != plan.NumArgs() {
			out.Skipped++
			continue
		}
		var err error
		for i, v := range row {
			if args[i], err = bind(v, oid.T_int8); err != nil {
				err = rowError("bind", err)
				break
			}
		}
		if err == nil {
			err = k.runRow(ctx, tx, plan, args)
		}
		if err != nil {
			out.fail(err)
			continue
		}
		out.Succeeded++
	}

	out.Committed = !p.DryRun && out.Succeeded > 0
	k.logOutcome(out)
	return out, nil
}

// executeMQO runs every row through one cached plan inside a single
// sub-transaction. Any row failure, or a dry run, rolls the whole
// sub-transaction back; the remaining rows are still attempted.
func (k *Kernel) executeMQO(ctx context.Context, p *payload.Payload) (Outcome, error) {
	out := Outcome{Mode: ModeMQO, Rows: len(p.Rows), DryRun: p.DryRun}
	if len(p.Rows) == 0 {
		return out, nil
	}

	plan, err := k.plans.Prepare(ctx, p.TemplateSQL, ResolveArgTypes(p))
	if err != nil {
		return out, err
	}

	tx, err := k.engine.Begin(ctx)
	if err != nil {
		return out, batchError("begin", err)
	}
	defer tx.Rollback()

	if err := tx.Savepoint(ctx, batchSavepoint); err != nil {
		return out, batchError("savepoint", err)
	}

	if k.scratch == nil {
		k.scratch = &scratch{}
	}
	sc := k.scratch
	argTypes := plan.ArgTypes()

	for i, row := range p.Rows {
		if err := ctx.Err(); err != nil {
			out.fail(rowError("execute", err))
			out.Failed += len(p.Rows) - i - 1
			break
		}
		if len(row) != plan.NumArgs() {
			out.Skipped++
			continue
		}
		args, err := sc.bind(row, argTypes)
		if err == nil {
			err = k.runRow(ctx, tx, plan, args)
		}
		sc.reset()
		if err != nil {
			out.fail(err)
			continue
		}
		out.Succeeded++
	}

	if p.DryRun || out.EncounteredError {
		err = tx.RollbackTo(ctx, batchSavepoint)
	} else {
		err = tx.Release(ctx, batchSavepoint)
	}
	if err != nil {
		return out, batchError("end sub-transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return out, batchError("commit", err)
	}
	out.Committed = !p.DryRun && !out.EncounteredError

	if k.config.TrimMemory {
		debug.FreeOSMemory()
	}
	k.logOutcome(out)
	return out, nil
}

// runRow executes one bound row. Inside a transaction on an engine that
// aborts the transaction on error, the row runs under its own savepoint so
// later rows can still be attempted.
func (k *Kernel) runRow(ctx context.Context, tx *engine.Tx, plan *engine.Plan, args []any) error {
	if tx == nil {
		_, err := k.engine.Execute(ctx, plan, args)
		return rowErr(err)
	}
	if !k.engine.AbortsOnError() {
		_, err := tx.Execute(ctx, plan, args)
		return rowErr(err)
	}

	if err := tx.Savepoint(ctx, rowSavepoint); err != nil {
		return rowError("savepoint", err)
	}
	if _, err := tx.Execute(ctx, plan, args); err != nil {
		if rbErr := tx.RollbackTo(ctx, rowSavepoint); rbErr != nil {
			return rowError("execute", errors.Join(err, rbErr))
		}
		return rowError("execute", err)
	}
	return rowErr(tx.Release(ctx, rowSavepoint))
}

func rowErr(err error) error {
	if err == nil {
		return nil
	}
	return rowError("execute", err)
}

func (o *Outcome) fail(err error) {
	o.Failed++
	o.EncounteredError = true
	if o.RowErr == nil {
		o.RowErr = err
	}
}

func (k *Kernel) logOutcome(out Outcome) {
	switch {
	case out.DryRun:
		log.Printf("[Kernel] Dry run: %d of %d rows would succeed, rolled back", out.Succeeded, out.Rows)
	case out.EncounteredError && out.Mode == ModeMQO:
		log.Printf("[Kernel] %d of %d rows failed, batch rolled back (first error: %v)", out.Failed, out.Rows, out.RowErr)
	case out.EncounteredError:
		log.Printf("[Kernel] %d of %d rows failed (first error: %v)", out.Failed, out.Rows, out.RowErr)
	}
	if out.Skipped > 0 {
		log.Printf("[Kernel] Warning: skipped %d rows with a mismatched parameter count", out.Skipped)
	}
}
