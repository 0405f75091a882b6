package qp

import (
	"encoding/json"
	"fmt"
)

// ArchiveQueueKey is the well-known hot-store key of the archival queue.
const ArchiveQueueKey = "conc_persistence_archive_queue"

// queueItem is the serialized form of one queue entry. The key field holds
// the record's full hot-store key, not the bare id.
type queueItem struct {
	Key string `json:"key"`
}

// ArchiveQueue is the FIFO of record references awaiting cold archival,
// realized on top of the hot store's list operations so it survives process
// restarts together with the records it points at.
//
// The queue may contain duplicate references to the same record (a record
// stored and re-stored before the archiver runs); consumers deduplicate
// within a batch.
type ArchiveQueue struct {
	db  FastStore
	key string
}

// NewArchiveQueue creates a queue on db under the given list key. An empty
// key selects ArchiveQueueKey.
func NewArchiveQueue(db FastStore, key string) *ArchiveQueue {
	if key == "" {
		key = ArchiveQueueKey
	}
	return &ArchiveQueue{db: db, key: key}
}

// Enqueue appends a record's storage key to the queue tail.
func (q *ArchiveQueue) Enqueue(storageKey string) error {
	item, err := json.Marshal(queueItem{Key: storageKey})
	if err != nil {
		return fmt.Errorf("encoding queue item: %w", err)
	}
	if err := q.db.ListAppend(q.key, item); err != nil {
		return fmt.Errorf("appending to archive queue: %w", err)
	}
	return nil
}

// Dequeue pops the oldest record reference. ok is false when the queue is
// empty.
func (q *ArchiveQueue) Dequeue() (storageKey string, ok bool, err error) {
	raw, err := q.db.ListPop(q.key)
	if err != nil {
		return "", false, fmt.Errorf("popping archive queue: %w", err)
	}
	if raw == nil {
		return "", false, nil
	}
	var item queueItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", false, fmt.Errorf("decoding queue item: %w", err)
	}
	return item.Key, true, nil
}

// Len returns the number of pending references.
func (q *ArchiveQueue) Len() (int, error) {
	n, err := q.db.ListLen(q.key)
	if err != nil {
		return 0, fmt.Errorf("reading archive queue length: %w", err)
	}
	return n, nil
}
