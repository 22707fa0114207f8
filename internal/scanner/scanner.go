// Package scanner enumerates the files in a checked-out repository that are
// worth sending to the analyzer.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultExtensions is the default allow-list of source file extensions.
var DefaultExtensions = []string{
	".go", ".py", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cc", ".cpp", ".h",
}

// defaultIgnoreDirs are directory names that never contain files worth
// analyzing: VCS metadata, dependencies, build output, virtualenvs, IDE state.
var defaultIgnoreDirs = map[string]struct{}{
	".git":          {},
	"node_modules":  {},
	"__pycache__":   {},
	".pytest_cache": {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	".env":          {},
	"build":         {},
	"dist":          {},
	".idea":         {},
	".vscode":       {},
	"target":        {},
	"bin":           {},
	"obj":           {},
	"vendor":        {},
}

// DefaultMaxFileBytes is the size ceiling above which files are skipped.
const DefaultMaxFileBytes = 1 << 20 // 1 MiB

// Scanner filters a repository tree down to eligible files.
type Scanner struct {
	extensions   map[string]struct{}
	maxFileBytes int64
}

// New creates a Scanner for the given extension allow-list and size ceiling.
// Zero or nil arguments fall back to the defaults.
func New(extensions []string, maxFileBytes int64) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}

	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &Scanner{extensions: exts, maxFileBytes: maxFileBytes}
}

// EligibleFiles walks root and returns the relative paths of all eligible
// files: allowed extension, not inside an ignored directory, not matched by
// the repository's own .gitignore, and within the size ceiling. Oversized or
// unreadable files are silently excluded.
func (s *Scanner) EligibleFiles(root string) ([]string, error) {
	var gi *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		gi = compiled
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are excluded, not reported.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if _, skip := defaultIgnoreDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if _, ok := s.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > s.maxFileBytes {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", root, err)
	}
	return files, nil
}

// ReadFile reads an eligible file's content as text, replacing invalid bytes
// rather than failing on non-UTF-8 input.
func ReadFile(root, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return "", fmt.Errorf("scanner: read %s: %w", rel, err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}
