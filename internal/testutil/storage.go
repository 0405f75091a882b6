package testutil

import (
	"errors"
	"sync"
	"testing"

	"qp-go/internal/archive"
	"qp-go/internal/qp"
)

// NewTestManager creates an archive manager over a fresh temp directory.
// Connections are closed when the test completes.
func NewTestManager(t *testing.T, rowsLimit int, clock qp.Clock) *archive.Manager {
	t.Helper()

	m, err := archive.NewManager(t.TempDir(), rowsLimit, clock, qp.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create archive manager: %v", err)
	}

	t.Cleanup(func() {
		m.Close()
	})

	return m
}

// StubColdStorage is an in-memory qp.ColdStorage with a switchable insert
// failure, for exercising the archiver's re-enqueue path.
type StubColdStorage struct {
	mu         sync.Mutex
	rows       map[string]qp.ColdRow
	FailInsert bool
}

func NewStubColdStorage() *StubColdStorage {
	return &StubColdStorage{rows: make(map[string]qp.ColdRow)}
}

func (s *StubColdStorage) Refresh() error { return nil }

func (s *StubColdStorage) Lookup(id string) (*qp.ArchivedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &qp.ArchivedRecord{ID: row.ID, Data: row.Data, Created: row.Created}, nil
}

func (s *StubColdStorage) Exists(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok, nil
}

func (s *StubColdStorage) InsertBatch(rows []qp.ColdRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert {
		return errors.New("cold store write failure")
	}
	for _, row := range rows {
		if _, ok := s.rows[row.ID]; ok {
			continue
		}
		s.rows[row.ID] = row
	}
	return nil
}

func (s *StubColdStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// Len returns the number of stored rows.
func (s *StubColdStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Compile-time check that StubColdStorage implements qp.ColdStorage.
var _ qp.ColdStorage = (*StubColdStorage)(nil)
