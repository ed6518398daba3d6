package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

const (
	// gitignoreCacheSize bounds the parsed .gitignore matchers kept.
	gitignoreCacheSize = 1000
	// mimeCacheSize bounds the system mime lookups kept.
	mimeCacheSize = 256

	// DefaultMaxFileSize is the default maximum file size (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024
)

// Options configures the scanner.
type Options struct {
	// Exclude lists doublestar patterns matched against slash-separated
	// paths relative to the root.
	Exclude []string
	// RespectGitignore applies .gitignore files of directory roots.
	RespectGitignore bool
	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64
	// FollowSymlinks includes symbolic links to files.
	FollowSymlinks bool
}

// Scanner turns roots into indexables. It is safe for concurrent use.
type Scanner struct {
	opts   Options
	logger *slog.Logger

	// gitignoreCache maps a directory to its matcher, nil when the
	// directory has no .gitignore.
	gitignoreCache *lru.Cache[string, *ignore.GitIgnore]
	mimeCache      *lru.Cache[string, string]
	cacheMu        sync.Mutex
}

// New creates a scanner.
func New(opts Options, logger *slog.Logger) (*Scanner, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	gi, err := lru.New[string, *ignore.GitIgnore](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	mc, err := lru.New[string, string](mimeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create mime cache: %w", err)
	}
	return &Scanner{
		opts:           opts,
		logger:         logging.OrDefault(logger),
		gitignoreCache: gi,
		mimeCache:      mc,
	}, nil
}

// IsArchive reports whether p names a zip or jar archive.
func IsArchive(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	return ext == ".zip" || ext == ".jar"
}

// MimeType returns the mime type of a relative path.
func (s *Scanner) MimeType(rel string) string {
	if lang := DetectLanguage(rel); lang != "" {
		return mimeForLanguage(lang)
	}
	ext := strings.ToLower(path.Ext(rel))
	if m, ok := s.mimeCache.Get(ext); ok {
		return m
	}
	m := mimeForExtension(ext)
	s.mimeCache.Add(ext, m)
	return m
}

// Enumerate returns the indexables of the directory at root, in lexical
// path order.
func (s *Scanner) Enumerate(ctx context.Context, root string) ([]indexer.Indexable, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	var out []indexer.Indexable
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			return nil // Skip files we can't access
		}

		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludedDir(rel) || (s.opts.RespectGitignore && s.isGitignored(root, rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
			return nil
		}

		if ix, ok := s.fileIndexable(root, rel, p); ok {
			out = append(out, ix)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup resolves relative paths inside the directory at root. Paths that
// no longer exist or are now excluded are returned as missing.
func (s *Scanner) Lookup(root string, rels []string) (found []indexer.Indexable, missing []string) {
	for _, rel := range rels {
		rel = filepath.ToSlash(rel)
		if ix, ok := s.fileIndexable(root, rel, filepath.Join(root, filepath.FromSlash(rel))); ok {
			found = append(found, ix)
		} else {
			missing = append(missing, rel)
		}
	}
	return found, missing
}

// Stub returns an indexable for a path that may no longer exist, so its
// documents can be deleted.
func (s *Scanner) Stub(root, rel string) indexer.Indexable {
	rel = filepath.ToSlash(rel)
	return indexer.Indexable{
		RelativePath: rel,
		MimeType:     s.MimeType(rel),
		URL:          indexer.FileURL(filepath.Join(root, filepath.FromSlash(rel))),
	}
}

func (s *Scanner) fileIndexable(root, rel, abs string) (indexer.Indexable, bool) {
	if s.excludedFile(rel) || s.excludedDir(path.Dir(rel)) {
		return indexer.Indexable{}, false
	}
	if s.opts.RespectGitignore && s.isGitignored(root, rel, false) {
		return indexer.Indexable{}, false
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return indexer.Indexable{}, false
	}
	if info.Size() > s.opts.MaxFileSize || isBinaryFile(abs) {
		return indexer.Indexable{}, false
	}
	return indexer.Indexable{
		RelativePath: rel,
		MimeType:     s.MimeType(rel),
		URL:          indexer.FileURL(abs),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}, true
}

// EnumerateArchive returns the entries of the zip or jar archive at p in
// archive order.
func (s *Scanner) EnumerateArchive(ctx context.Context, p string) ([]indexer.Indexable, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	var out []indexer.Indexable
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || s.excludedFile(f.Name) || s.excludedDir(path.Dir(f.Name)) {
			continue
		}
		if int64(f.UncompressedSize64) > s.opts.MaxFileSize {
			continue
		}
		out = append(out, indexer.Indexable{
			RelativePath: f.Name,
			MimeType:     s.MimeType(f.Name),
			URL:          indexer.ArchiveEntryURL(p, f.Name),
			Size:         int64(f.UncompressedSize64),
			ModTime:      f.Modified,
		})
	}
	return out, nil
}

func (s *Scanner) excludedDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	// A directory is excluded when a file directly inside it would be.
	probe := rel + "/x"
	return matchAny(defaultExcludes, probe) || matchAny(s.opts.Exclude, probe) || matchAny(s.opts.Exclude, rel)
}

func (s *Scanner) excludedFile(rel string) bool {
	base := path.Base(rel)
	if matchAny(sensitiveFilePatterns, base) {
		return true
	}
	return matchAny(defaultExcludes, rel) || matchAny(s.opts.Exclude, rel)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// isGitignored checks rel against the .gitignore of the root and of every
// directory above rel.
func (s *Scanner) isGitignored(root, rel string, isDir bool) bool {
	if isDir {
		rel += "/"
	}
	dir := ""
	parts := strings.Split(path.Dir(strings.TrimSuffix(rel, "/")), "/")
	for i := -1; i < len(parts); i++ {
		if i >= 0 {
			if parts[i] == "." {
				continue
			}
			dir = path.Join(dir, parts[i])
		}
		m := s.gitignoreMatcher(filepath.Join(root, filepath.FromSlash(dir)))
		if m == nil {
			continue
		}
		local := rel
		if dir != "" {
			local = strings.TrimPrefix(rel, dir+"/")
		}
		if m.MatchesPath(local) {
			return true
		}
	}
	return false
}

func (s *Scanner) gitignoreMatcher(dir string) *ignore.GitIgnore {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if m, ok := s.gitignoreCache.Get(dir); ok {
		return m
	}

	var m *ignore.GitIgnore
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); err == nil {
		compiled, err := ignore.CompileIgnoreFile(p)
		if err != nil {
			s.logger.Warn("failed to parse .gitignore", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			m = compiled
		}
	}
	s.gitignoreCache.Add(dir, m)
	return m
}

// InvalidateGitignoreCache drops every cached matcher. Call it when a
// .gitignore file changes.
func (s *Scanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

// isBinaryFile checks the first 512 bytes for a NUL byte.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
