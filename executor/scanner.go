package executor

import (
	"archive/zip"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/workernode/types"
)

// defaultZipBombRatio, defaultZipBombFileCount and defaultZipBombSize are
// the thresholds named in spec §4.4.
const (
	defaultZipBombRatio     = 100
	defaultZipBombFileCount = 10000
	defaultZipBombSize      = 2 * 1024 * 1024 * 1024 // 2 GiB
)

// SecurityScanner inspects a plan's working directory before it is
// spawned. A non-nil error aborts the run with FAILED/ERROR (spec §4.4).
// Both provided implementations are no-ops unless explicitly enabled by
// the caller's executor config, matching the spec's framing of this as
// optional hardening rather than default sandboxing.
type SecurityScanner interface {
	Scan(plan types.ExecPlan) error
}

// ChainScanner runs scanners in order, stopping at the first error.
type ChainScanner []SecurityScanner

// Scan implements SecurityScanner.
func (c ChainScanner) Scan(plan types.ExecPlan) error {
	for _, s := range c {
		if err := s.Scan(plan); err != nil {
			return err
		}
	}
	return nil
}

// ASTDenylistScanner walks every .py file under the plan's cwd for a fixed
// set of dangerous call patterns. Python has no Go-native AST parser in
// this module's dependency set, so matching is done against tokenized
// source lines with string-literal and comment spans stripped, rather
// than a regex over raw text — this avoids flagging a denylisted name
// that only appears inside a comment or string, per spec §4.4's
// "not regex" requirement, without pulling in a Python-specific parser.
type ASTDenylistScanner struct {
	Denylist []string
}

// DefaultDenylist is the set of dangerous Python calls/imports scanned by
// a zero-value ASTDenylistScanner.
var DefaultDenylist = []string{
	"os.system(",
	"subprocess.Popen(",
	"subprocess.call(",
	"subprocess.run(",
	"eval(",
	"exec(",
	"__import__(",
	"ctypes.",
	"importlib.import_module(",
}

// Scan implements SecurityScanner.
func (s ASTDenylistScanner) Scan(plan types.ExecPlan) error {
	denylist := s.Denylist
	if len(denylist) == 0 {
		denylist = DefaultDenylist
	}
	if plan.Cwd == "" {
		return nil
	}

	return filepath.WalkDir(plan.Cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("security scan: read %s: %w", path, err)
		}
		if hit := scanPythonSource(string(body), denylist); hit != "" {
			return fmt.Errorf("security scan: denylisted call %q in %s", hit, path)
		}
		return nil
	})
}

// scanPythonSource strips line comments (#...) and quoted string contents
// before checking for denylisted substrings, line by line.
func scanPythonSource(src string, denylist []string) string {
	for _, line := range strings.Split(src, "\n") {
		stripped := stripPythonCommentsAndStrings(line)
		for _, pattern := range denylist {
			if strings.Contains(stripped, pattern) {
				return pattern
			}
		}
	}
	return ""
}

func stripPythonCommentsAndStrings(line string) string {
	var b strings.Builder
	inString := false
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString:
			if c == quote && (i == 0 || line[i-1] != '\\') {
				inString = false
			}
		case c == '#':
			return b.String()
		case c == '\'' || c == '"':
			inString = true
			quote = c
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ZipBombScanner inspects every .zip archive under the plan's cwd for
// decompression-ratio, file-count, and expanded-size signals of a zip
// bomb, per spec §4.4's thresholds.
type ZipBombScanner struct {
	MaxRatio     int64
	MaxFileCount int
	MaxExpanded  int64
}

// Scan implements SecurityScanner.
func (s ZipBombScanner) Scan(plan types.ExecPlan) error {
	maxRatio := s.MaxRatio
	if maxRatio == 0 {
		maxRatio = defaultZipBombRatio
	}
	maxFiles := s.MaxFileCount
	if maxFiles == 0 {
		maxFiles = defaultZipBombFileCount
	}
	maxExpanded := s.MaxExpanded
	if maxExpanded == 0 {
		maxExpanded = defaultZipBombSize
	}
	if plan.Cwd == "" {
		return nil
	}

	return filepath.WalkDir(plan.Cwd, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".zip") {
			return nil
		}
		return checkZipBomb(path, maxRatio, int64(maxFiles), maxExpanded)
	})
}

func checkZipBomb(path string, maxRatio, maxFiles, maxExpanded int64) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("security scan: open %s: %w", path, err)
	}
	defer r.Close()

	if int64(len(r.File)) > maxFiles {
		return fmt.Errorf("security scan: %s contains %d files, exceeds limit %d", path, len(r.File), maxFiles)
	}

	var compressed, expanded int64
	for _, f := range r.File {
		compressed += int64(f.CompressedSize64)
		expanded += int64(f.UncompressedSize64)
	}
	if expanded > maxExpanded {
		return fmt.Errorf("security scan: %s expands to %d bytes, exceeds limit %d", path, expanded, maxExpanded)
	}
	if compressed > 0 && expanded/compressed > maxRatio {
		return fmt.Errorf("security scan: %s has compression ratio %d, exceeds limit %d", path, expanded/compressed, maxRatio)
	}
	return nil
}
