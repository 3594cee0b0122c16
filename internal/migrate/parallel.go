package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/dbport/internal/adapter"
	"github.com/untoldecay/dbport/internal/ir"
)

// copyTablesParallel fans the data pass out across worker goroutines,
// one table at a time per worker. The serialization contract still
// holds: every worker owns a private source/target adapter pair, so no
// adapter is ever touched by two goroutines. The shared checkpoint is
// the only cross-worker state and is mutex-guarded; in parallel mode
// only whole-table completion is recorded (no intra-table offsets), and
// resume truncates incomplete tables before recopying.
func (r *Runner) copyTablesParallel(ctx context.Context, plan *Plan, cp *Checkpoint) error {
	type job struct{ table *ir.Table }
	jobs := make(chan job)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < r.opts.Parallel; i++ {
		g.Go(func() error {
			src, err := adapter.OpenURL(ctx, r.opts.SourceURL)
			if err != nil {
				return fmt.Errorf("%w: worker source: %s", ErrConnection, redactedErr(err))
			}
			defer src.Close()
			tgt, err := adapter.OpenURL(ctx, r.opts.TargetURL)
			if err != nil {
				return fmt.Errorf("%w: worker target: %s", ErrConnection, redactedErr(err))
			}
			defer tgt.Close()

			for j := range jobs {
				// Only completed tables are recorded, so any table reaching
				// here may hold batches from an interrupted run.
				if terr := tgt.TruncateTable(ctx, j.table.Name); terr != nil && !errors.Is(terr, adapter.ErrUnsupported) {
					r.log.Warn("failed to clear table before copy", "table", j.table.Name, "error", redactedErr(terr))
				}
				start := time.Now()
				rows, err := copyTableOnce(ctx, src, tgt, j.table, r.opts.BatchSize)
				if err != nil {
					r.auditor.LogConversion(j.table.Name, rows, "Failed", time.Since(start))
					return err
				}
				mu.Lock()
				cp.MarkComplete(j.table.Name)
				saveErr := cp.Save(r.checkpointPath)
				mu.Unlock()
				if saveErr != nil {
					return saveErr
				}
				r.auditor.LogConversion(j.table.Name, rows, "Success", time.Since(start))
				r.log.Info("copied table", "table", j.table.Name, "rows", rows)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, name := range plan.Order {
			if cp.Completed(name) {
				continue
			}
			select {
			case jobs <- job{table: r.schema.Tables[name]}:
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
		}
		return nil
	})

	return g.Wait()
}

// copyTableOnce copies a whole table between a private adapter pair,
// with no offset bookkeeping.
func copyTableOnce(ctx context.Context, src, tgt adapter.Adapter, t *ir.Table, batchSize int) (int64, error) {
	it, err := src.ExtractData(ctx, t.Name, batchSize, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: extract %s: %v", ErrDataBatch, t.Name, err)
	}
	defer it.Close()

	insert := adapter.BuildInsert(tgt.Dialect(), tgt.Quote, t)
	cols := t.ColumnNames()
	var copied int64
	for {
		batch, err := it.Next(ctx)
		if err == adapter.ErrNoMoreRows {
			return copied, nil
		}
		if err != nil {
			return copied, fmt.Errorf("%w: cursor on %s: %v", ErrDataBatch, t.Name, err)
		}
		rows := make([][]any, len(batch))
		for i, row := range batch {
			vals := make([]any, len(cols))
			for j, c := range cols {
				vals[j] = row[c]
			}
			rows[i] = vals
		}
		if err := tgt.ExecuteBatch(ctx, insert, rows); err != nil {
			return copied, fmt.Errorf("%w: insert into %s at offset %d: %v", ErrDataBatch, t.Name, copied, err)
		}
		copied += int64(len(rows))
	}
}
