package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
)

// copyTable streams one table from source to target in batched
// transactions, updating the checkpoint after every commit. On resume the
// source cursor is fast-forwarded to the recorded offset.
func (r *Runner) copyTable(ctx context.Context, t *ir.Table, cp *Checkpoint) (int64, error) {
	startOffset := int64(0)
	if cp.CurrentTable == t.Name {
		startOffset = cp.CurrentOffset
		if startOffset > 0 {
			r.log.Info("resuming table", "table", t.Name, "offset", startOffset)
		}
	}
	cp.CurrentTable = t.Name
	cp.CurrentOffset = startOffset

	it, err := r.source.ExtractData(ctx, t.Name, r.opts.BatchSize, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: extract %s: %v", ErrDataBatch, t.Name, err)
	}
	defer it.Close()

	insert := adapter.BuildInsert(r.target.Dialect(), r.target.Quote, t)
	cols := t.ColumnNames()

	copied := startOffset
	skipped := int64(0)
	for {
		batch, err := it.Next(ctx)
		if err == adapter.ErrNoMoreRows {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return copied, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return copied, fmt.Errorf("%w: cursor on %s: %v", ErrDataBatch, t.Name, err)
		}

		// Fast-forward past rows a previous run already committed. The
		// cursor ordering is deterministic, so offset skipping is exact.
		if skipped < startOffset {
			remaining := startOffset - skipped
			if int64(len(batch)) <= remaining {
				skipped += int64(len(batch))
				continue
			}
			batch = batch[remaining:]
			skipped = startOffset
		}

		rows := make([][]any, len(batch))
		for i, row := range batch {
			vals := make([]any, len(cols))
			for j, c := range cols {
				vals[j] = row[c]
			}
			rows[i] = vals
		}

		if err := r.executeBatchWithRetry(ctx, insert, rows); err != nil {
			if ctx.Err() != nil {
				return copied, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return copied, fmt.Errorf("%w: insert into %s at offset %d: %v", ErrDataBatch, t.Name, copied, err)
		}

		copied += int64(len(rows))
		cp.CurrentOffset = copied
		if err := cp.Save(r.checkpointPath); err != nil {
			return copied, err
		}
		r.log.Info("copied batch", "table", t.Name, "rows", copied)
	}

	cp.MarkComplete(t.Name)
	if err := cp.Save(r.checkpointPath); err != nil {
		return copied, err
	}
	return copied, nil
}

// executeBatchWithRetry retries transient batch failures with exponential
// backoff. Each attempt is a fresh transaction; the failed one was rolled
// back by the adapter.
func (r *Runner) executeBatchWithRetry(ctx context.Context, stmt string, rows [][]any) error {
	backoff := retry.WithMaxRetries(uint64(r.opts.MaxRetries), retry.NewExponential(500*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.BatchTimeout)
		err := r.target.ExecuteBatch(attemptCtx, stmt, rows)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err // cancelled; do not retry
		}
		r.log.Warn("batch failed, retrying", "attempt", attempt, "error", slog.StringValue(redactedErr(err)))
		return retry.RetryableError(err)
	})
}
