package qp

import "time"

// FastStore is the hot-tier contract: an expiring key/value service with
// FIFO list support. The core does not implement this itself; backends live
// in internal/kvstore and production deployments are expected to plug in an
// external service with these semantics.
//
// TTL starts counting at Set and is not refreshed by Get. A zero ttl means
// the key does not expire.
type FastStore interface {
	// Get returns the value for key, or nil when the key is absent or
	// expired.
	Get(key string) ([]byte, error)

	// Set writes value under key with the given time-to-live, replacing
	// any previous value and TTL.
	Set(key string, value []byte, ttl time.Duration) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(key string) error

	// ListAppend appends item to the tail of the list stored at key,
	// creating the list if needed.
	ListAppend(key string, item []byte) error

	// ListPop removes and returns the head of the list at key, or nil
	// when the list is empty or absent.
	ListPop(key string) ([]byte, error)

	// ListLen returns the length of the list at key (0 when absent).
	ListLen(key string) (int, error)
}

// ColdStorage is the durable-tier contract implemented by the archive
// manager: a set of bounded, append-mostly archive files.
type ColdStorage interface {
	// Refresh rescans the backing directory and picks up archive files
	// created since the last scan.
	Refresh() error

	// Lookup searches all archive files most-recent-first. On a hit the
	// record's access counters are bumped in place. Returns nil when the
	// id is absent everywhere.
	Lookup(id string) (*ArchivedRecord, error)

	// Exists reports whether id is present in any archive file without
	// touching access counters.
	Exists(id string) (bool, error)

	// InsertBatch writes rows into the current writable archive file,
	// rotating to a fresh file whenever the row cap is reached. Inserts
	// are idempotent: rows whose id already exists are ignored.
	InsertBatch(rows []ColdRow) error

	// Delete removes id from every archive file that holds it. Used by
	// the explicit data-retention operation only.
	Delete(id string) error
}

// ColdRow is a record staged for cold insertion.
type ColdRow struct {
	ID      string
	Data    []byte
	Created int64
}

// ArchivedRecord is a record read back from the cold tier.
type ArchivedRecord struct {
	ID         string
	Data       []byte
	Created    int64
	NumAccess  int64
	LastAccess int64 // unix seconds, 0 when never read
}

// UserDirectory exposes the one fact the persistence core needs about users:
// whether an id belongs to the shared anonymous account.
type UserDirectory interface {
	IsAnonymous(userID int) bool
}

// StaticUserDirectory treats a single fixed user id as anonymous.
type StaticUserDirectory struct {
	AnonymousUserID int
}

func (d StaticUserDirectory) IsAnonymous(userID int) bool {
	return userID == d.AnonymousUserID
}
