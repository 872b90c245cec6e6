package database

import (
	"database/sql"
	"fmt"
	"time"

	"zipdaemon/internal/database/migrations"
	"zipdaemon/internal/zipd"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements zipd.Ledger using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path, applies pending migrations
// and verifies the resulting schema version. path can be a file path or
// ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking schema of %s: %w", path, err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would be its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// SQLite default is OFF for backward compatibility
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Pass tracking

func (s *SQLiteDatabase) StartPass(startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO passes (started_at, status) VALUES (?, ?)`,
		startedAt.UTC(), zipd.PassRunning)
	if err != nil {
		return 0, fmt.Errorf("starting pass: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading pass id: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) FinishPass(id int64, finishedAt time.Time, result *zipd.PassResult, passErr error) error {
	status, msg := zipd.PassSuccess, ""
	if passErr != nil {
		status, msg = zipd.PassError, passErr.Error()
	}
	if result == nil {
		result = &zipd.PassResult{}
	}

	res, err := s.db.Exec(`
		UPDATE passes
		SET finished_at = ?, status = ?, error = ?, candidates = ?, ready = ?, skipped = ?, archived = ?
		WHERE id = ?`,
		finishedAt.UTC(), status, msg,
		result.Candidates, result.Ready, result.Skipped, len(result.Archived),
		id)
	if err != nil {
		return fmt.Errorf("finishing pass %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing pass %d: no such pass", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListPasses(limit int) ([]*zipd.PassRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, status, error, candidates, ready, skipped, archived
		FROM passes
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	defer rows.Close()

	var passes []*zipd.PassRecord
	for rows.Next() {
		p := &zipd.PassRecord{}
		if err := rows.Scan(&p.ID, &p.StartedAt, &p.FinishedAt, &p.Status, &p.Error,
			&p.Candidates, &p.Ready, &p.Skipped, &p.Archived); err != nil {
			return nil, fmt.Errorf("scanning pass: %w", err)
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	return passes, nil
}

// Archive records

func (s *SQLiteDatabase) RecordArchive(rec *zipd.ArchiveRecord) error {
	var passID sql.NullInt64
	if rec.PassID != 0 {
		passID = sql.NullInt64{Int64: rec.PassID, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO archives (id, pass_id, source_dir, archive_path, marked_dir, file_count,
			source_bytes, archive_bytes, checksum, vault_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, passID, rec.SourceDir, rec.ArchivePath, rec.MarkedDir, rec.FileCount,
		rec.SourceBytes, rec.ArchiveBytes, rec.Checksum, rec.VaultKey, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording archive %s: %w", rec.ArchivePath, err)
	}
	return nil
}

func (s *SQLiteDatabase) ListArchives(limit int) ([]*zipd.ArchiveRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, pass_id, source_dir, archive_path, marked_dir, file_count,
			source_bytes, archive_bytes, checksum, vault_key, created_at
		FROM archives
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	defer rows.Close()

	var archives []*zipd.ArchiveRecord
	for rows.Next() {
		a := &zipd.ArchiveRecord{}
		var passID sql.NullInt64
		if err := rows.Scan(&a.ID, &passID, &a.SourceDir, &a.ArchivePath, &a.MarkedDir, &a.FileCount,
			&a.SourceBytes, &a.ArchiveBytes, &a.Checksum, &a.VaultKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning archive: %w", err)
		}
		a.PassID = passID.Int64
		archives = append(archives, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return archives, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ zipd.Ledger = (*SQLiteDatabase)(nil)
