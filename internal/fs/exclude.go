package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"
)

type patternKind int

const (
	matchBase patternKind = iota // no '/': matched against the file's base name
	matchPath                    // contains '/': matched against the whole relative path
	matchDir                     // trailing '/': matches every file below a directory of that name
)

type excludePattern struct {
	glob string
	kind patternKind
}

// ExcludeMatcher decides which files are left out of an archive. Paths are
// slash-separated and relative to the archived directory.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher parses raw glob patterns. Blank lines and lines starting
// with '#' are skipped. A malformed glob is an error.
func NewExcludeMatcher(raw []string) (*ExcludeMatcher, error) {
	m := &ExcludeMatcher{}
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := excludePattern{glob: line, kind: matchBase}
		switch {
		case strings.HasSuffix(line, "/"):
			p = excludePattern{glob: strings.TrimSuffix(line, "/"), kind: matchDir}
		case strings.Contains(line, "/"):
			p.kind = matchPath
		}
		if _, err := path.Match(p.glob, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", line, err)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Len returns the number of active patterns.
func (m *ExcludeMatcher) Len() int { return len(m.patterns) }

// Match reports whether relativePath is excluded.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	base := path.Base(relativePath)
	dirs := strings.Split(path.Dir(relativePath), "/")

	for _, p := range m.patterns {
		switch p.kind {
		case matchBase:
			if ok, _ := path.Match(p.glob, base); ok {
				return true
			}
		case matchPath:
			if ok, _ := path.Match(p.glob, relativePath); ok {
				return true
			}
		case matchDir:
			for _, d := range dirs {
				if ok, _ := path.Match(p.glob, d); ok && d != "." {
					return true
				}
			}
		}
	}
	return false
}

// ParseExcludeFile reads one pattern per line from path. A missing file
// yields no patterns.
func ParseExcludeFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening exclude file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading exclude file: %w", err)
	}
	return lines, nil
}
