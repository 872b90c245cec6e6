package zipd

import (
	"database/sql"
	"time"
)

// ArchiveRecord describes one archive produced by a pass.
type ArchiveRecord struct {
	ID           string
	PassID       int64 // 0 when the pass itself was not recorded
	SourceDir    string
	ArchivePath  string
	MarkedDir    string // empty when renaming is disabled
	FileCount    int
	SourceBytes  int64
	ArchiveBytes int64
	Checksum     string // SHA-256 of the zip file, lowercase hex
	VaultKey     string // empty when no vault is configured
	CreatedAt    time.Time
}

// PassRecord is the ledger row for one pass over the tree.
type PassRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string // "running", "success" or "error"
	Error      string
	Candidates int
	Ready      int
	Skipped    int
	Archived   int
}

// Pass status values stored in the ledger.
const (
	PassRunning = "running"
	PassSuccess = "success"
	PassError   = "error"
)

// Ledger is an append-only audit trail of passes and the archives they
// produced. The filesystem stays the source of truth for idempotency; the
// ledger is never consulted to decide whether a directory needs archiving.
type Ledger interface {
	// StartPass inserts a running pass and returns its ID.
	StartPass(startedAt time.Time) (int64, error)

	// FinishPass stores the outcome of a pass. passErr may be nil.
	FinishPass(id int64, finishedAt time.Time, result *PassResult, passErr error) error

	// RecordArchive stores one produced archive.
	RecordArchive(rec *ArchiveRecord) error

	// ListArchives returns the most recent archives, newest first.
	ListArchives(limit int) ([]*ArchiveRecord, error)

	// ListPasses returns the most recent passes, newest first.
	ListPasses(limit int) ([]*PassRecord, error)

	Close() error
}
