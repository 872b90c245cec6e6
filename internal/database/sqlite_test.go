package database

import (
	"errors"
	"testing"
	"time"

	"zipdaemon/internal/zipd"
)

var fixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteDatabase_Passes(t *testing.T) {
	t.Run("start and finish successful pass", func(t *testing.T) {
		db := newTestDB(t)

		id, err := db.StartPass(fixedTime)
		if err != nil {
			t.Fatalf("StartPass() error = %v", err)
		}

		passes, err := db.ListPasses(10)
		if err != nil {
			t.Fatalf("ListPasses() error = %v", err)
		}
		if len(passes) != 1 || passes[0].Status != zipd.PassRunning || passes[0].FinishedAt.Valid {
			t.Fatalf("running pass = %+v", passes[0])
		}

		result := &zipd.PassResult{
			Candidates: 4,
			Ready:      2,
			Skipped:    1,
			Archived:   []*zipd.ArchiveRecord{{ID: "a"}},
		}
		if err := db.FinishPass(id, fixedTime.Add(time.Second), result, nil); err != nil {
			t.Fatalf("FinishPass() error = %v", err)
		}

		passes, err = db.ListPasses(10)
		if err != nil {
			t.Fatalf("ListPasses() error = %v", err)
		}
		p := passes[0]
		if p.Status != zipd.PassSuccess {
			t.Errorf("Status = %q, want %q", p.Status, zipd.PassSuccess)
		}
		if !p.StartedAt.Equal(fixedTime) {
			t.Errorf("StartedAt = %v, want %v", p.StartedAt, fixedTime)
		}
		if !p.FinishedAt.Valid || !p.FinishedAt.Time.Equal(fixedTime.Add(time.Second)) {
			t.Errorf("FinishedAt = %+v", p.FinishedAt)
		}
		if p.Candidates != 4 || p.Ready != 2 || p.Skipped != 1 || p.Archived != 1 {
			t.Errorf("counts = %d/%d/%d/%d, want 4/2/1/1", p.Candidates, p.Ready, p.Skipped, p.Archived)
		}
	})

	t.Run("failed pass keeps error text", func(t *testing.T) {
		db := newTestDB(t)

		id, err := db.StartPass(fixedTime)
		if err != nil {
			t.Fatalf("StartPass() error = %v", err)
		}
		if err := db.FinishPass(id, fixedTime, nil, errors.New("disk full")); err != nil {
			t.Fatalf("FinishPass() error = %v", err)
		}

		passes, _ := db.ListPasses(1)
		if passes[0].Status != zipd.PassError || passes[0].Error != "disk full" {
			t.Errorf("pass = %+v", passes[0])
		}
	})

	t.Run("finish unknown pass", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.FinishPass(42, fixedTime, nil, nil); err == nil {
			t.Error("FinishPass() for unknown id should fail")
		}
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		db := newTestDB(t)
		for i := range 5 {
			if _, err := db.StartPass(fixedTime.Add(time.Duration(i) * time.Second)); err != nil {
				t.Fatalf("StartPass() error = %v", err)
			}
		}

		passes, err := db.ListPasses(3)
		if err != nil {
			t.Fatalf("ListPasses() error = %v", err)
		}
		if len(passes) != 3 {
			t.Fatalf("len(passes) = %d, want 3", len(passes))
		}
		if passes[0].ID != 5 || passes[2].ID != 3 {
			t.Errorf("ids = %d..%d, want 5..3", passes[0].ID, passes[2].ID)
		}
	})
}

func TestSQLiteDatabase_Archives(t *testing.T) {
	t.Run("record and list", func(t *testing.T) {
		db := newTestDB(t)

		passID, err := db.StartPass(fixedTime)
		if err != nil {
			t.Fatalf("StartPass() error = %v", err)
		}

		rec := &zipd.ArchiveRecord{
			ID:           "id-1",
			PassID:       passID,
			SourceDir:    "/root/2024/batch-7",
			ArchivePath:  "/root/2024/batch-7.zip",
			MarkedDir:    "/root/2024/batch-7_DELETE",
			FileCount:    3,
			SourceBytes:  1200,
			ArchiveBytes: 480,
			Checksum:     "abc123",
			VaultKey:     "2024/batch-7.zip.age",
			CreatedAt:    fixedTime,
		}
		if err := db.RecordArchive(rec); err != nil {
			t.Fatalf("RecordArchive() error = %v", err)
		}

		got, err := db.ListArchives(10)
		if err != nil {
			t.Fatalf("ListArchives() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len(archives) = %d, want 1", len(got))
		}
		a := got[0]
		if a.ID != rec.ID || a.PassID != passID || a.SourceDir != rec.SourceDir ||
			a.ArchivePath != rec.ArchivePath || a.MarkedDir != rec.MarkedDir ||
			a.FileCount != 3 || a.SourceBytes != 1200 || a.ArchiveBytes != 480 ||
			a.Checksum != "abc123" || a.VaultKey != rec.VaultKey {
			t.Errorf("archive = %+v, want %+v", a, rec)
		}
		if !a.CreatedAt.Equal(fixedTime) {
			t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, fixedTime)
		}
	})

	t.Run("archive without pass", func(t *testing.T) {
		db := newTestDB(t)
		rec := &zipd.ArchiveRecord{ID: "id-1", SourceDir: "/a", ArchivePath: "/a.zip", CreatedAt: fixedTime}
		if err := db.RecordArchive(rec); err != nil {
			t.Fatalf("RecordArchive() error = %v", err)
		}
		got, _ := db.ListArchives(10)
		if len(got) != 1 || got[0].PassID != 0 {
			t.Errorf("archives = %+v", got)
		}
	})

	t.Run("unknown pass is rejected", func(t *testing.T) {
		db := newTestDB(t)
		rec := &zipd.ArchiveRecord{ID: "id-1", PassID: 77, SourceDir: "/a", ArchivePath: "/a.zip", CreatedAt: fixedTime}
		if err := db.RecordArchive(rec); err == nil {
			t.Error("RecordArchive() with unknown pass should fail")
		}
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		db := newTestDB(t)
		rec := &zipd.ArchiveRecord{ID: "dup", SourceDir: "/a", ArchivePath: "/a.zip", CreatedAt: fixedTime}
		if err := db.RecordArchive(rec); err != nil {
			t.Fatalf("RecordArchive() error = %v", err)
		}
		if err := db.RecordArchive(rec); err == nil {
			t.Error("second RecordArchive() with same id should fail")
		}
	})

	t.Run("newest first", func(t *testing.T) {
		db := newTestDB(t)
		for i, name := range []string{"old", "mid", "new"} {
			rec := &zipd.ArchiveRecord{
				ID:          name,
				SourceDir:   "/r/" + name,
				ArchivePath: "/r/" + name + ".zip",
				CreatedAt:   fixedTime.Add(time.Duration(i) * time.Minute),
			}
			if err := db.RecordArchive(rec); err != nil {
				t.Fatalf("RecordArchive() error = %v", err)
			}
		}

		got, err := db.ListArchives(2)
		if err != nil {
			t.Fatalf("ListArchives() error = %v", err)
		}
		if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
			t.Errorf("order = %v", ids(got))
		}
	})
}

func TestSQLiteDatabase_CheckMigrations(t *testing.T) {
	db := newTestDB(t)
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	if db.Path() != ":memory:" {
		t.Errorf("Path() = %q, want :memory:", db.Path())
	}
}

func ids(recs []*zipd.ArchiveRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
