package qp_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"qp-go/internal/kvstore"
	"qp-go/internal/qp"
	"qp-go/internal/testutil"
)

type archiverEnv struct {
	hot      *kvstore.MemoryStore
	queue    *qp.ArchiveQueue
	cold     *testutil.StubColdStorage
	clock    *testutil.StubClock
	archiver *qp.Archiver
}

func newArchiverEnv(t *testing.T) *archiverEnv {
	t.Helper()
	clock := testutil.FixedClock()
	hot := kvstore.NewMemoryStore(clock)
	queue := qp.NewArchiveQueue(hot, "")
	cold := testutil.NewStubColdStorage()
	return &archiverEnv{
		hot:      hot,
		queue:    queue,
		cold:     cold,
		clock:    clock,
		archiver: qp.NewArchiver(queue, hot, cold, clock, qp.NewNopLogger()),
	}
}

// enqueueRecord writes a minimal record into the hot tier and queues it for
// archival.
func (e *archiverEnv) enqueueRecord(t *testing.T, id string, ttl time.Duration) {
	t.Helper()
	key := qp.RecordKey(id)
	data := []byte(fmt.Sprintf(`{"id":%q,"version":1,"q":["aword"]}`, id))
	if err := e.hot.Set(key, data, ttl); err != nil {
		t.Fatalf("Set(%q) error = %v", key, err)
	}
	if err := e.queue.Enqueue(key); err != nil {
		t.Fatalf("Enqueue(%q) error = %v", key, err)
	}
}

func TestArchiver_Run(t *testing.T) {
	t.Run("migrates queued records to cold storage", func(t *testing.T) {
		env := newArchiverEnv(t)
		env.enqueueRecord(t, "recordaaaaaa", time.Hour)
		env.enqueueRecord(t, "recordbbbbbb", time.Hour)

		rep, err := env.archiver.Run(context.Background(), 10, false)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 2 {
			t.Errorf("NumProcessed = %d, want 2", rep.NumProcessed)
		}
		if rep.QueueSize != 0 {
			t.Errorf("QueueSize = %d, want 0", rep.QueueSize)
		}
		if env.cold.Len() != 2 {
			t.Errorf("cold rows = %d, want 2", env.cold.Len())
		}
	})

	t.Run("deduplicates queue entries within a batch", func(t *testing.T) {
		env := newArchiverEnv(t)
		env.enqueueRecord(t, "recordaaaaaa", time.Hour)
		env.queue.Enqueue(qp.RecordKey("recordaaaaaa"))
		env.queue.Enqueue(qp.RecordKey("recordaaaaaa"))

		rep, err := env.archiver.Run(context.Background(), 10, false)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 1 {
			t.Errorf("NumProcessed = %d, want 1", rep.NumProcessed)
		}
		if env.cold.Len() != 1 {
			t.Errorf("cold rows = %d, want 1", env.cold.Len())
		}
	})

	t.Run("stops at the batch size and leaves the rest queued", func(t *testing.T) {
		env := newArchiverEnv(t)
		for i := 0; i < 5; i++ {
			env.enqueueRecord(t, fmt.Sprintf("record%06d", i), time.Hour)
		}

		rep, err := env.archiver.Run(context.Background(), 3, false)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 3 {
			t.Errorf("NumProcessed = %d, want 3", rep.NumProcessed)
		}
		if rep.QueueSize != 2 {
			t.Errorf("QueueSize = %d, want 2", rep.QueueSize)
		}
	})

	t.Run("drops references whose hot copy expired", func(t *testing.T) {
		env := newArchiverEnv(t)
		env.enqueueRecord(t, "recordaaaaaa", time.Minute)
		env.enqueueRecord(t, "recordbbbbbb", time.Hour)
		env.clock.Advance(10 * time.Minute)

		rep, err := env.archiver.Run(context.Background(), 10, false)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 1 {
			t.Errorf("NumProcessed = %d, want 1", rep.NumProcessed)
		}
		if got, _ := env.cold.Exists("recordaaaaaa"); got {
			t.Error("expired record reached cold storage")
		}
		if rep.QueueSize != 0 {
			t.Errorf("QueueSize = %d, want 0 (expired reference dropped)", rep.QueueSize)
		}
	})

	t.Run("skips records already archived", func(t *testing.T) {
		env := newArchiverEnv(t)
		env.enqueueRecord(t, "recordaaaaaa", time.Hour)
		env.cold.InsertBatch([]qp.ColdRow{{ID: "recordaaaaaa", Data: []byte("{}"), Created: 1}})

		rep, err := env.archiver.Run(context.Background(), 10, false)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 0 {
			t.Errorf("NumProcessed = %d, want 0", rep.NumProcessed)
		}
		if env.cold.Len() != 1 {
			t.Errorf("cold rows = %d, want 1", env.cold.Len())
		}
	})

	t.Run("re-enqueues the whole batch on write failure", func(t *testing.T) {
		env := newArchiverEnv(t)
		for i := 0; i < 5; i++ {
			env.enqueueRecord(t, fmt.Sprintf("record%06d", i), time.Hour)
		}
		env.cold.FailInsert = true

		_, err := env.archiver.Run(context.Background(), 5, false)
		var batchErr *qp.BatchError
		if !errors.As(err, &batchErr) {
			t.Fatalf("Run() error = %v, want *BatchError", err)
		}
		if batchErr.Requeued != 5 {
			t.Errorf("Requeued = %d, want 5", batchErr.Requeued)
		}

		n, _ := env.queue.Len()
		if n != 5 {
			t.Errorf("queue length after failure = %d, want 5", n)
		}
		if env.cold.Len() != 0 {
			t.Errorf("cold rows after failure = %d, want 0", env.cold.Len())
		}
	})

	t.Run("failed batch succeeds on retry", func(t *testing.T) {
		env := newArchiverEnv(t)
		for i := 0; i < 3; i++ {
			env.enqueueRecord(t, fmt.Sprintf("record%06d", i), time.Hour)
		}
		env.cold.FailInsert = true
		env.archiver.Run(context.Background(), 3, false)

		env.cold.FailInsert = false
		rep, err := env.archiver.Run(context.Background(), 3, false)
		if err != nil {
			t.Fatalf("retry Run() error = %v", err)
		}
		if rep.NumProcessed != 3 {
			t.Errorf("NumProcessed = %d, want 3", rep.NumProcessed)
		}
		if env.cold.Len() != 3 {
			t.Errorf("cold rows = %d, want 3", env.cold.Len())
		}
	})

	t.Run("dry run leaves the queue intact and writes nothing", func(t *testing.T) {
		env := newArchiverEnv(t)
		for i := 0; i < 4; i++ {
			env.enqueueRecord(t, fmt.Sprintf("record%06d", i), time.Hour)
		}

		rep, err := env.archiver.Run(context.Background(), 10, true)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if rep.NumProcessed != 4 {
			t.Errorf("NumProcessed = %d, want 4", rep.NumProcessed)
		}
		if env.cold.Len() != 0 {
			t.Errorf("cold rows = %d, want 0", env.cold.Len())
		}

		n, _ := env.queue.Len()
		if n != 4 {
			t.Errorf("queue length after dry run = %d, want 4", n)
		}
	})

	t.Run("cancelled context re-enqueues staged items", func(t *testing.T) {
		env := newArchiverEnv(t)
		env.enqueueRecord(t, "recordaaaaaa", time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := env.archiver.Run(ctx, 10, false)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}

		n, _ := env.queue.Len()
		if n != 1 {
			t.Errorf("queue length after cancellation = %d, want 1", n)
		}
		if env.cold.Len() != 0 {
			t.Errorf("cold rows = %d, want 0", env.cold.Len())
		}
	})
}
