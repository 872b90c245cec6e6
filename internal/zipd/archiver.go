package zipd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"zipdaemon/internal/ziparchive"
)

// Defaults for ArchiverOptions.
const (
	DefaultTrigger = "zu_zippen.txt"
	DefaultDepth   = 2
	DefaultMarker  = "_DELETE"
)

// Matcher reports whether a file, given by its slash-separated path relative
// to the candidate directory, is excluded from the archive.
type Matcher interface {
	Match(relativePath string) bool
}

// ArchiverOptions configures a pass.
type ArchiverOptions struct {
	Root    string
	Trigger string
	Depth   int // candidates live exactly this many levels below Root
	Marker  string

	// Rename deletes the trigger and appends Marker to the candidate's name
	// after a successful archive. When false the candidate is left untouched.
	Rename bool

	// Exclude filters additional files out of archives. May be nil.
	Exclude Matcher

	// AtomicWrite writes the zip to a hidden temp file beside the target and
	// renames it into place once complete.
	AtomicWrite bool
}

// PassResult summarizes one pass.
type PassResult struct {
	Candidates int // directories evaluated at the target depth
	Ready      int // candidates holding a trigger file
	Skipped    int // ready candidates whose archive already existed
	Archived   []*ArchiveRecord
}

// Archiver performs a single depth-bounded pass over the tree, zipping every
// candidate directory that holds the trigger file.
type Archiver struct {
	fs        afero.Fs
	opts      ArchiverOptions
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	vault     Vault     // nil: no off-site copy
	encryptor Encryptor // nil: vault copies are stored as-is
}

// NewArchiver creates an Archiver. vault and encryptor may be nil.
func NewArchiver(fsys afero.Fs, opts ArchiverOptions, logger Logger, clock Clock, idgen IDGenerator, vault Vault, encryptor Encryptor) *Archiver {
	return &Archiver{
		fs:        fsys,
		opts:      opts,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		vault:     vault,
		encryptor: encryptor,
	}
}

type frame struct {
	path  string
	depth int
}

// Run performs one pass. Cancellation of ctx is ignored so that an archive
// in progress is always completed; callers stop between passes. On error the
// result reflects the work done before the failure.
func (a *Archiver) Run(ctx context.Context) (*PassResult, error) {
	ctx = context.WithoutCancel(ctx)
	result := &PassResult{}

	stack := []frame{{path: a.opts.Root, depth: 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.depth == a.opts.Depth {
			result.Candidates++
			rec, err := a.processCandidate(ctx, cur.path, result)
			if rec != nil {
				result.Archived = append(result.Archived, rec)
			}
			if err != nil {
				return result, err
			}
			continue
		}

		children, err := a.childDirs(cur.path)
		if err != nil {
			return result, err
		}
		// Pushed in reverse so siblings pop in lexical order.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{path: children[i], depth: cur.depth + 1})
		}
	}
	return result, nil
}

// childDirs lists the direct subdirectories of dir. Symlinks are not
// followed.
func (a *Archiver) childDirs(dir string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	return dirs, nil
}

// processCandidate archives one candidate. Once the zip is on disk its record
// is returned even when marking or uploading fails afterwards.
func (a *Archiver) processCandidate(ctx context.Context, dir string, result *PassResult) (*ArchiveRecord, error) {
	triggerPath := filepath.Join(dir, a.opts.Trigger)
	ready, err := a.isRegularFile(triggerPath)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	result.Ready++

	parent, name := filepath.Split(filepath.Clean(dir))
	archivePath := filepath.Join(parent, name+".zip")

	exists, err := a.exists(archivePath)
	if err != nil {
		return nil, err
	}
	if exists {
		a.logger.Debug("archive already exists, skipping", "dir", dir, "archive", archivePath)
		result.Skipped++
		return nil, nil
	}

	a.logger.Info("creating archive", "dir", dir, "archive", archivePath)
	rec, err := a.writeArchive(dir, archivePath)
	if err != nil {
		return nil, err
	}
	a.logger.Info("archive created",
		"archive", archivePath,
		"files", rec.FileCount,
		"size", humanize.Bytes(uint64(rec.ArchiveBytes)))

	if a.opts.Rename {
		marked := filepath.Join(parent, name+a.opts.Marker)
		if err := a.markDirectory(dir, triggerPath, marked); err != nil {
			return rec, err
		}
		rec.MarkedDir = marked
		a.logger.Info("directory marked", "dir", dir, "marked", marked)
	}

	if a.vault != nil {
		key, err := a.upload(ctx, archivePath)
		if err != nil {
			return rec, err
		}
		rec.VaultKey = key
		a.logger.Info("archive uploaded", "archive", archivePath, "key", key)
	}

	return rec, nil
}

// isRegularFile follows symlinks, so a link to a regular file counts.
func (a *Archiver) isRegularFile(path string) (bool, error) {
	info, err := a.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

// exists reports whether anything, including a dangling symlink, occupies path.
func (a *Archiver) exists(path string) (bool, error) {
	var err error
	if lst, ok := a.fs.(afero.Lstater); ok {
		_, _, err = lst.LstatIfPossible(path)
	} else {
		_, err = a.fs.Stat(path)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

func (a *Archiver) include(rel string) bool {
	if filepath.Base(rel) == a.opts.Trigger {
		return false
	}
	return a.opts.Exclude == nil || !a.opts.Exclude.Match(rel)
}

func (a *Archiver) writeArchive(dir, archivePath string) (*ArchiveRecord, error) {
	target := archivePath
	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if a.opts.AtomicWrite {
		target = filepath.Join(filepath.Dir(archivePath), "."+filepath.Base(archivePath)+".partial")
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := a.fs.OpenFile(target, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating archive %s: %w", archivePath, err)
	}

	success := false
	if a.opts.AtomicWrite {
		defer func() {
			if !success {
				a.fs.Remove(target)
			}
		}()
	}

	digest := ziparchive.NewDigestWriter(f)
	stats, err := ziparchive.WriteDir(a.fs, dir, digest, a.include)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("writing archive %s: %w", archivePath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing archive %s: %w", archivePath, err)
	}

	if a.opts.AtomicWrite {
		if err := a.fs.Rename(target, archivePath); err != nil {
			return nil, fmt.Errorf("moving archive into place: %w", err)
		}
	}
	success = true

	return &ArchiveRecord{
		ID:           a.idgen.New(),
		SourceDir:    dir,
		ArchivePath:  archivePath,
		FileCount:    stats.Files,
		SourceBytes:  stats.SourceBytes,
		ArchiveBytes: digest.Size(),
		Checksum:     digest.Sum(),
		CreatedAt:    a.clock.Now(),
	}, nil
}

func (a *Archiver) markDirectory(dir, triggerPath, marked string) error {
	if err := a.fs.Remove(triggerPath); err != nil {
		return fmt.Errorf("removing trigger %s: %w", triggerPath, err)
	}
	exists, err := a.exists(marked)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("renaming %s: target %s already exists", dir, marked)
	}
	if err := a.fs.Rename(dir, marked); err != nil {
		return fmt.Errorf("renaming %s: %w", dir, err)
	}
	return nil
}

// VaultKey maps an archive path to its vault key: the slash-separated path
// relative to root, or the bare file name when the archive lies outside root
// (depth 0).
func VaultKey(root, archivePath string) string {
	rel, err := filepath.Rel(root, archivePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(archivePath)
	}
	return filepath.ToSlash(rel)
}

func (a *Archiver) upload(ctx context.Context, archivePath string) (string, error) {
	key := VaultKey(a.opts.Root, archivePath)

	f, err := a.fs.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive for upload: %w", err)
	}
	defer f.Close()

	if a.encryptor == nil {
		if err := a.vault.PutArchive(ctx, key, f); err != nil {
			return "", fmt.Errorf("uploading %s: %w", key, err)
		}
		return key, nil
	}

	key += ".age"
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := a.encryptor.Encrypt(f, pw)
		pw.CloseWithError(err)
		errCh <- err
	}()

	if err := a.vault.PutArchive(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		<-errCh
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	if err := <-errCh; err != nil {
		return "", fmt.Errorf("encrypting %s: %w", key, err)
	}
	return key, nil
}
