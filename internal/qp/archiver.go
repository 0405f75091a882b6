package qp

import (
	"context"
	"fmt"
)

// Report summarizes one archiver run.
type Report struct {
	NumProcessed int
	QueueSize    int
	DryRun       bool
	Error        string
}

// Archiver migrates records from the hot tier into cold storage in batches.
// It pops references from the archive queue, deduplicates them, skips records
// that already expired from the hot tier or are already archived, and writes
// the rest as one batch.
//
// At most one archiver is expected to run against an archive directory at a
// time. A concurrent run can at worst double-pop (batches are independent) or
// double-insert (inserts are idempotent).
type Archiver struct {
	queue  *ArchiveQueue
	hot    FastStore
	cold   ColdStorage
	clock  Clock
	logger Logger
}

// NewArchiver creates an archiver over the given stores.
func NewArchiver(queue *ArchiveQueue, hot FastStore, cold ColdStorage, clock Clock, logger Logger) *Archiver {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Archiver{queue: queue, hot: hot, cold: cold, clock: clock, logger: logger}
}

// Run processes up to batchSize unique records from the archive queue.
//
// On any failure while staging or writing, every staged item is returned to
// the queue and the error is reported as a *BatchError: records are never
// lost, at the cost of possible duplicate processing later (harmless, since
// cold inserts are insert-if-absent). ctx is checked between items; hitting
// the deadline mid-batch is treated the same way as a failure.
//
// With dryRun set, the full pop/stage sequence runs but staged items are
// re-enqueued instead of written, so the run reports migration volume without
// side effects.
func (a *Archiver) Run(ctx context.Context, batchSize int, dryRun bool) (*Report, error) {
	staged, err := a.stage(ctx, batchSize)
	if err == nil && !dryRun {
		err = a.cold.InsertBatch(staged)
		if err != nil {
			err = fmt.Errorf("writing archive batch: %w", err)
		}
	}

	if err != nil || dryRun {
		requeued := 0
		for _, row := range staged {
			if qerr := a.queue.Enqueue(RecordKey(row.ID)); qerr != nil {
				a.logger.Error("failed to re-enqueue record", "id", row.ID, "error", qerr)
				continue
			}
			requeued++
		}
		if err != nil {
			batchErr := &BatchError{NumProcessed: len(staged), Requeued: requeued, Err: err}
			a.logger.Error("archival batch failed", "staged", len(staged), "requeued", requeued, "error", err)
			return a.report(len(staged), dryRun, batchErr), batchErr
		}
	}

	rep := a.report(len(staged), dryRun, nil)
	a.logger.Info("archival batch finished", "processed", rep.NumProcessed, "queue_size", rep.QueueSize, "dry_run", dryRun)
	return rep, nil
}

// stage pops queue items until batchSize unique archivable records are
// collected or the queue empties.
func (a *Archiver) stage(ctx context.Context, batchSize int) ([]ColdRow, error) {
	now := a.clock.Now().Unix()
	staged := make([]ColdRow, 0, batchSize)
	seen := make(map[string]bool)

	for len(staged) < batchSize {
		if err := ctx.Err(); err != nil {
			return staged, err
		}
		key, ok, err := a.queue.Dequeue()
		if err != nil {
			return staged, err
		}
		if !ok {
			break
		}
		id := IDFromKey(key)
		if seen[id] {
			continue
		}
		seen[id] = true

		data, err := a.hot.Get(key)
		if err != nil {
			return staged, fmt.Errorf("reading %s from hot store: %w", key, err)
		}
		if data == nil {
			// Expired from the hot tier before the archiver got to it.
			// This is the single case where a queued reference is dropped.
			a.logger.Debug("queued record no longer in hot store", "id", id)
			continue
		}

		archived, err := a.cold.Exists(id)
		if err != nil {
			return staged, fmt.Errorf("checking archive for %s: %w", id, err)
		}
		if archived {
			continue
		}

		staged = append(staged, ColdRow{ID: id, Data: data, Created: now})
	}
	return staged, nil
}

func (a *Archiver) report(processed int, dryRun bool, err error) *Report {
	rep := &Report{NumProcessed: processed, DryRun: dryRun}
	if err != nil {
		rep.Error = err.Error()
	}
	if n, lerr := a.queue.Len(); lerr == nil {
		rep.QueueSize = n
	} else {
		a.logger.Warn("failed to read queue size", "error", lerr)
	}
	return rep
}
