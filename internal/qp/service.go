package qp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Default TTL classes, in days.
const (
	DefaultTTLDays          = 100
	DefaultAnonymousTTLDays = 7
)

// Service is the persistence façade used by the action layer: it stores and
// opens operation records and owns the archival policy (TTL class, queue
// membership) applied at store time.
type Service struct {
	hot   FastStore
	cold  ColdStorage
	queue *ArchiveQueue
	users UserDirectory
	idgen *IdentityGenerator
	clock Clock

	ttl          time.Duration
	anonymousTTL time.Duration
	logger       Logger
}

// ServiceOptions collects the tunables of a Service. Zero values select
// defaults.
type ServiceOptions struct {
	TTLDays          int
	AnonymousTTLDays int
	Logger           Logger
}

// NewService wires a persistence service from its collaborators.
func NewService(hot FastStore, cold ColdStorage, queue *ArchiveQueue, users UserDirectory, idgen *IdentityGenerator, clock Clock, opts ServiceOptions) *Service {
	if opts.TTLDays <= 0 {
		opts.TTLDays = DefaultTTLDays
	}
	if opts.AnonymousTTLDays <= 0 {
		opts.AnonymousTTLDays = DefaultAnonymousTTLDays
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if idgen == nil {
		idgen = NewIdentityGenerator()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		hot:          hot,
		cold:         cold,
		queue:        queue,
		users:        users,
		idgen:        idgen,
		clock:        clock,
		ttl:          time.Duration(opts.TTLDays) * 24 * time.Hour,
		anonymousTTL: time.Duration(opts.AnonymousTTLDays) * 24 * time.Hour,
		logger:       opts.Logger,
	}
}

// TTLDays returns the TTL class (in days) that applies to records of the
// given user.
func (s *Service) TTLDays(userID int) int {
	return int(s.ttlFor(userID) / (24 * time.Hour))
}

func (s *Service) ttlFor(userID int) time.Duration {
	if s.users.IsAnonymous(userID) {
		return s.anonymousTTL
	}
	return s.ttl
}

func (s *Service) persistLevelFor(userID int) int {
	if s.users.IsAnonymous(userID) {
		return PersistLevelEphemeral
	}
	return PersistLevelDurable
}

// Store persists curr as a new record owned by userID and returns its id.
// When prev is given and curr is content-equal to it, nothing is written and
// prev's id is returned — repeated identical submissions (page refresh) do
// not grow the history chain.
//
// New records get a verified-unique id, the owner's persistence level and TTL
// class, and — for durable records — a place in the archive queue. Store is
// atomic from the caller's view: either a fully written record's new id comes
// back, or prev's id, or an error with the hot write rolled back.
func (s *Service) Store(userID int, curr *Record, prev *Record) (string, error) {
	if curr == nil {
		return "", errors.New("no record data to store")
	}
	if prev != nil && RecordsEqual(curr, prev) {
		return prev.ID, nil
	}

	id, err := s.idgen.Generate(s.idExists)
	if err != nil {
		return "", fmt.Errorf("assigning record id: %w", err)
	}

	curr.ID = id
	curr.Version = SchemaVersion
	curr.UserID = userID
	curr.PersistLevel = s.persistLevelFor(userID)
	curr.Created = s.clock.Now().Unix()
	if prev != nil {
		curr.PrevID = prev.ID
	}

	data, err := json.Marshal(curr)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	key := curr.StorageKey()
	if err := s.hot.Set(key, data, s.ttlFor(userID)); err != nil {
		return "", fmt.Errorf("writing record %s: %w", id, storageErr(err))
	}

	if curr.PersistLevel > PersistLevelEphemeral {
		if err := s.queue.Enqueue(key); err != nil {
			// Roll back the hot write so the caller never observes a
			// record that can silently miss archival.
			if rerr := s.hot.Remove(key); rerr != nil {
				s.logger.Error("failed to roll back hot write", "id", id, "error", rerr)
			}
			return "", fmt.Errorf("enqueueing record %s for archival: %w", id, storageErr(err))
		}
	}

	s.logger.Debug("record stored", "id", id, "persist_level", curr.PersistLevel)
	return id, nil
}

// Open loads a record by id: the hot tier first, then a read-through scan of
// the archive files. Returns ErrNotFound when the id is absent everywhere.
func (s *Service) Open(id string) (*Record, error) {
	data, err := s.hot.Get(RecordKey(id))
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", id, storageErr(err))
	}
	if data == nil {
		if err := s.cold.Refresh(); err != nil {
			return nil, fmt.Errorf("refreshing archives: %w", storageErr(err))
		}
		arch, err := s.cold.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("searching archives for %s: %w", id, storageErr(err))
		}
		if arch == nil {
			return nil, fmt.Errorf("opening record %s: %w", id, ErrNotFound)
		}
		data = arch.Data
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &rec, nil
}

// Archive marks a record for archival on behalf of userID. Since every
// durable record is already scheduled for archival at store time, this is an
// ownership check followed by a no-op; the revoke flag is accepted for
// interface compatibility and recorded in the log only.
func (s *Service) Archive(userID int, id string, revoke bool) error {
	rec, err := s.Open(id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return fmt.Errorf("archiving record %s: %w", id, ErrForbidden)
	}
	s.logger.Debug("explicit archive request is a no-op", "id", id, "revoke", revoke)
	return nil
}

// Delete removes a record from both tiers on behalf of its owner. This is
// the explicit data-retention operation — the only path that removes rows
// from cold storage.
func (s *Service) Delete(userID int, id string) error {
	rec, err := s.Open(id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return fmt.Errorf("deleting record %s: %w", id, ErrForbidden)
	}
	if err := s.hot.Remove(RecordKey(id)); err != nil {
		return fmt.Errorf("removing record %s from hot store: %w", id, storageErr(err))
	}
	if err := s.cold.Delete(id); err != nil {
		return fmt.Errorf("removing record %s from archives: %w", id, storageErr(err))
	}
	s.logger.Info("record deleted", "id", id)
	return nil
}

// IsArchived reports whether a record has reached cold storage.
func (s *Service) IsArchived(id string) (bool, error) {
	return s.cold.Exists(id)
}

// IsValidIdentifier reports whether s is a structurally valid public record
// identifier.
func (s *Service) IsValidIdentifier(id string) bool {
	return IsValidIdentifier(id)
}

// idExists is the uniqueness predicate handed to the identity generator: an
// id is taken when it is live in the hot tier or present in any archive file.
func (s *Service) idExists(id string) (bool, error) {
	data, err := s.hot.Get(RecordKey(id))
	if err != nil {
		return false, err
	}
	if data != nil {
		return true, nil
	}
	return s.cold.Exists(id)
}

// Task is a background job handle exported to an external scheduler.
type Task struct {
	Name string
	Run  func(ctx context.Context, batchSize int, dryRun bool) (*Report, error)
}

// BackgroundTasks exports the periodic jobs this service needs an external
// scheduler to run; currently the single archival task.
func (s *Service) BackgroundTasks() []Task {
	archiver := NewArchiver(s.queue, s.hot, s.cold, s.clock, s.logger)
	return []Task{
		{Name: "archive_old_records", Run: archiver.Run},
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
