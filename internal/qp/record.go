package qp

import (
	"regexp"
	"strings"
)

// RecordKeyPrefix is the hot-store namespace for operation records.
// The full storage key of a record is RecordKeyPrefix + record id.
const RecordKeyPrefix = "concordance:"

// SchemaVersion is the current version of the serialized record payload.
const SchemaVersion = 1

// Persistence levels. The level is assigned at creation from the owner's
// anonymity status and is never downgraded afterwards.
const (
	// PersistLevelEphemeral marks anonymous records: short TTL, never
	// migrated to cold storage.
	PersistLevelEphemeral = 0
	// PersistLevelDurable marks registered-user records: long TTL and
	// eligible for cold archival.
	PersistLevelDurable = 1
)

// LineGroup is a grouping annotation attached to a concordance line.
type LineGroup struct {
	Line  int `json:"line"`
	Group int `json:"group"`
}

// Record is a single stored query operation. Once created it is immutable;
// a follow-up operation references it through PrevID, forming an append-only
// history chain.
type Record struct {
	ID           string      `json:"id"`
	Version      int         `json:"version"`
	UserID       int         `json:"user_id"`
	Operations   []string    `json:"q"`
	LinesGroups  []LineGroup `json:"lines_groups,omitempty"`
	PrevID       string      `json:"prev_id,omitempty"`
	PersistLevel int         `json:"persist_level"`
	Created      int64       `json:"created"`
}

// StorageKey returns the record's hot-store key.
func (r *Record) StorageKey() string {
	return RecordKeyPrefix + r.ID
}

// RecordKey returns the hot-store key for a record id.
func RecordKey(id string) string {
	return RecordKeyPrefix + id
}

// IDFromKey strips the record namespace from a hot-store key.
func IDFromKey(key string) string {
	return strings.TrimPrefix(key, RecordKeyPrefix)
}

// RecordsEqual reports whether two records describe the same operation:
// identical query-step sequences and identical grouping annotations.
// This is the dedup rule applied by Service.Store — storing a record that is
// content-equal to its predecessor is a no-op.
func RecordsEqual(a, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Operations) != len(b.Operations) || len(a.LinesGroups) != len(b.LinesGroups) {
		return false
	}
	for i := range a.Operations {
		if a.Operations[i] != b.Operations[i] {
			return false
		}
	}
	for i := range a.LinesGroups {
		if a.LinesGroups[i] != b.LinesGroups[i] {
			return false
		}
	}
	return true
}

var identifierPattern = regexp.MustCompile(`^~[0-9a-zA-Z]+$`)

// IsValidIdentifier reports whether s is a well-formed public record
// identifier (a tilde followed by base-62 characters). This is a structural
// check only; it says nothing about whether the record exists.
func IsValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
