// Package archive implements the cold tier: a directory of bounded SQLite
// archive files. The most recent file under the row cap receives new rows;
// once a file fills up it is left alone and a fresh one is created. Lookups
// scan all files most-recent-first, which favors recently archived records.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"qp-go/internal/archive/migrations"
	"qp-go/internal/qp"
)

// DefaultRowsLimit is the row cap of a single archive file. The cap is
// checked per inserted row, so files never silently overflow.
const DefaultRowsLimit = 1000000

const (
	filePrefix = "archive_"
	fileSuffix = ".sqlite3"
)

// archiveFile is one open cold store. Files other than the current writable
// one are only read from.
type archiveFile struct {
	path string
	db   *sql.DB
	rows int
}

// Manager owns the set of archive files under a directory and implements
// qp.ColdStorage. It is safe for concurrent use; writes are serialized on an
// internal mutex.
type Manager struct {
	dir       string
	rowsLimit int
	clock     qp.Clock
	logger    qp.Logger

	mu    sync.Mutex
	files []*archiveFile // most recent first
}

// NewManager creates a manager for dir and performs an initial scan. A
// missing directory is not an error; it is created on first write.
func NewManager(dir string, rowsLimit int, clock qp.Clock, logger qp.Logger) (*Manager, error) {
	if rowsLimit <= 0 {
		rowsLimit = DefaultRowsLimit
	}
	if clock == nil {
		clock = qp.RealClock{}
	}
	if logger == nil {
		logger = qp.NewNopLogger()
	}
	m := &Manager{dir: dir, rowsLimit: rowsLimit, clock: clock, logger: logger}
	if err := m.Refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh rescans the directory and opens archive files discovered since the
// last scan. Files that cannot be opened are logged and skipped.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked()
}

func (m *Manager) refreshLocked() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("archive directory does not exist yet", "dir", m.dir)
			return nil
		}
		return fmt.Errorf("scanning archive directory: %w", err)
	}

	known := make(map[string]bool, len(m.files))
	for _, f := range m.files {
		known[f.path] = true
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		path := filepath.Join(m.dir, name)
		if known[path] {
			continue
		}
		f, err := openArchiveFile(path)
		if err != nil {
			m.logger.Warn("skipping unreadable archive file", "path", path, "error", err)
			continue
		}
		m.files = append(m.files, f)
	}

	// Most recent first. File names embed a UTC timestamp, so the lexical
	// order is the creation order.
	sort.Slice(m.files, func(i, j int) bool {
		return m.files[i].path > m.files[j].path
	})
	return nil
}

// Lookup searches all archive files most-recent-first and bumps the access
// counters of the matched row. Returns nil when id is absent everywhere.
func (m *Manager) Lookup(id string) (*qp.ArchivedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().Unix()
	for _, f := range m.files {
		var (
			data       []byte
			created    int64
			numAccess  int64
			lastAccess sql.NullInt64
		)
		err := f.db.QueryRow(
			"SELECT data, created, num_access, last_access FROM archive WHERE id = ?", id,
		).Scan(&data, &created, &numAccess, &lastAccess)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			m.logger.Warn("archive lookup failed, skipping file", "path", f.path, "error", err)
			continue
		}

		if _, err := f.db.Exec(
			"UPDATE archive SET last_access = ?, num_access = num_access + 1 WHERE id = ?", now, id,
		); err != nil {
			m.logger.Warn("failed to update access counters", "path", f.path, "id", id, "error", err)
		}

		return &qp.ArchivedRecord{
			ID:         id,
			Data:       data,
			Created:    created,
			NumAccess:  numAccess + 1,
			LastAccess: now,
		}, nil
	}
	return nil, nil
}

// Exists reports whether id is present in any archive file without touching
// access counters.
func (m *Manager) Exists(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		var one int
		err := f.db.QueryRow("SELECT 1 FROM archive WHERE id = ? LIMIT 1", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			m.logger.Warn("archive existence check failed, skipping file", "path", f.path, "error", err)
			continue
		}
		return true, nil
	}
	return false, nil
}

// InsertBatch writes rows into the current writable file, rotating to a new
// file whenever the row cap is reached. Rows whose id already exists are
// ignored. A batch spanning a rotation commits per target file; replays of a
// partially committed batch are no-ops for the committed rows.
func (m *Manager) InsertBatch(rows []qp.ColdRow) error {
	if len(rows) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	curr := m.writableLocked()
	var tx *sql.Tx
	var pending int

	commit := func() error {
		if tx == nil {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing archive batch: %w", err)
		}
		curr.rows += pending
		tx, pending = nil, 0
		return nil
	}

	for _, row := range rows {
		if curr == nil || curr.rows+pending >= m.rowsLimit {
			if err := commit(); err != nil {
				return err
			}
			next, err := m.createFileLocked()
			if err != nil {
				return err
			}
			curr = next
		}
		if tx == nil {
			var err error
			if tx, err = curr.db.Begin(); err != nil {
				return fmt.Errorf("starting archive transaction: %w", err)
			}
		}

		res, err := tx.Exec(
			"INSERT OR IGNORE INTO archive (id, data, created, num_access) VALUES (?, ?, ?, 0)",
			row.ID, string(row.Data), row.Created,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", row.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			pending++
		}
	}

	return commit()
}

// Delete removes id from every archive file that holds it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		res, err := f.db.Exec("DELETE FROM archive WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting record %s from %s: %w", id, f.path, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			f.rows -= int(n)
		}
	}
	return nil
}

// FileInfo describes one archive file for status reporting.
type FileInfo struct {
	Path     string
	Rows     int
	Writable bool
}

// Files returns the known archive files, most recent first.
func (m *Manager) Files() []FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	writable := m.writableLocked()
	infos := make([]FileInfo, len(m.files))
	for i, f := range m.files {
		infos[i] = FileInfo{Path: f.path, Rows: f.rows, Writable: f == writable}
	}
	return infos
}

// Close closes all archive file connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, f := range m.files {
		if err := f.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.files = nil
	return firstErr
}

// writableLocked returns the most recent file with headroom, or nil when a
// new file must be created before the next write.
func (m *Manager) writableLocked() *archiveFile {
	if len(m.files) == 0 {
		return nil
	}
	if f := m.files[0]; f.rows < m.rowsLimit {
		return f
	}
	return nil
}

// createFileLocked creates, migrates, and registers a fresh archive file.
func (m *Manager) createFileLocked() (*archiveFile, error) {
	path := m.nextPathLocked()
	db, err := openConnection(path)
	if err != nil {
		return nil, fmt.Errorf("creating archive file %s: %w", path, err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing archive file %s: %w", path, err)
	}

	f := &archiveFile{path: path, db: db}
	m.files = append([]*archiveFile{f}, m.files...)
	m.logger.Info("new archive file created", "path", path)
	return f, nil
}

// nextPathLocked picks an unused file name. Names embed the creation time;
// a numeric suffix disambiguates rotations within the same instant.
func (m *Manager) nextPathLocked() string {
	base := filePrefix + m.clock.Now().UTC().Format("20060102T150405Z")
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		path := filepath.Join(m.dir, name+fileSuffix)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
	}
}

// openArchiveFile opens an existing archive file and counts its rows.
func openArchiveFile(path string) (*archiveFile, error) {
	db, err := openConnection(path)
	if err != nil {
		return nil, err
	}
	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM archive").Scan(&rows); err != nil {
		db.Close()
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	return &archiveFile{path: path, db: db, rows: rows}, nil
}

// openConnection opens and configures a SQLite connection for an archive
// file.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait for locks instead of failing when a lookup races a write.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Compile-time check that Manager implements qp.ColdStorage.
var _ qp.ColdStorage = (*Manager)(nil)
