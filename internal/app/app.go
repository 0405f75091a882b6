package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"qp-go/internal/archive"
	"qp-go/internal/config"
	"qp-go/internal/kvstore"
	"qp-go/internal/qp"
)

// QPApp is the application layer between the CLI and the persistence
// service. It constructs all dependencies from config and manages their
// lifecycle on Close.
type QPApp struct {
	cfg     *config.Config
	hot     qp.FastStore
	arch    *archive.Manager
	queue   *qp.ArchiveQueue
	service *qp.Service
	logFile *os.File
	logger  qp.Logger
}

// NewQPApp creates a fully wired QPApp from the given config.
// operation identifies the CLI command being run (e.g. "RunArchiver", "Open").
// The caller must call Close when done.
func NewQPApp(cfg *config.Config, operation string) (*QPApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID+"/"+operation)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	clock := qp.RealClock{}

	hot, err := kvstore.NewStoreFromConfig(cfg.KVStore, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating kvstore: %w", err)
	}

	arch, err := archive.NewManager(cfg.Archive.Dir, cfg.Archive.RowsLimit, clock, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating archive manager: %w", err)
	}

	queue := qp.NewArchiveQueue(hot, "")
	users := qp.StaticUserDirectory{AnonymousUserID: cfg.Persistence.AnonymousUserID}

	svc := qp.NewService(hot, arch, queue, users, qp.NewIdentityGenerator(), clock, qp.ServiceOptions{
		TTLDays:          cfg.Persistence.TTLDays,
		AnonymousTTLDays: cfg.Persistence.AnonymousTTLDays,
		Logger:           logger,
	})

	return &QPApp{
		cfg:     cfg,
		hot:     hot,
		arch:    arch,
		queue:   queue,
		service: svc,
		logFile: logFile,
		logger:  logger,
	}, nil
}

// Open loads a record by id.
func (a *QPApp) Open(id string) (*qp.Record, error) {
	return a.service.Open(id)
}

// Delete removes a record from both tiers on behalf of its owner.
func (a *QPApp) Delete(userID int, id string) error {
	return a.service.Delete(userID, id)
}

// RunArchiver executes one archival batch.
func (a *QPApp) RunArchiver(ctx context.Context, batchSize int, dryRun bool) (*qp.Report, error) {
	for _, task := range a.service.BackgroundTasks() {
		if task.Name == "archive_old_records" {
			return task.Run(ctx, batchSize, dryRun)
		}
	}
	return nil, fmt.Errorf("archive task not registered")
}

// QueueLen returns the number of records awaiting archival.
func (a *QPApp) QueueLen() (int, error) {
	return a.queue.Len()
}

// ArchiveFiles returns the known archive files, most recent first.
func (a *QPApp) ArchiveFiles() []archive.FileInfo {
	return a.arch.Files()
}

// Close releases the archive connections and the log file.
func (a *QPApp) Close() error {
	var firstErr error
	if err := a.arch.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
