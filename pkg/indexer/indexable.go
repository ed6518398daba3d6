package indexer

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Indexable is one file inside a root.
//
// RelativePath is slash-separated and relative to the root; it doubles as
// the primary key seed of the documents produced for the file. URL is the
// content handle, either file:///abs/path or jar:file:///abs/a.zip!/entry.
type Indexable struct {
	RelativePath string
	MimeType     string
	URL          string
	Size         int64
	ModTime      time.Time
}

// Open returns a reader for the indexable's content.
func (i Indexable) Open() (io.ReadCloser, error) {
	if archive, entry, ok := SplitArchiveURL(i.URL); ok {
		return openArchiveEntry(archive, entry)
	}
	path, err := PathFromURL(i.URL)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// PrimaryKey is the key shared by every document produced for i.
func (i Indexable) PrimaryKey() string {
	return i.RelativePath
}

// ReadAll returns the indexable's content.
func (i Indexable) ReadAll() ([]byte, error) {
	rc, err := i.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// FileURL returns the file:// URL of an absolute path.
func FileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// PathFromURL converts a file:// URL back into a local path.
func PathFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid content url %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported content url scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// ArchiveEntryURL returns the jar: URL for an entry inside an archive.
func ArchiveEntryURL(archivePath, entry string) string {
	return "jar:" + FileURL(archivePath) + "!/" + entry
}

// SplitArchiveURL splits a jar: URL into archive path and entry name.
func SplitArchiveURL(raw string) (archive, entry string, ok bool) {
	rest, found := strings.CutPrefix(raw, "jar:")
	if !found {
		return "", "", false
	}
	outer, inner, found := strings.Cut(rest, "!/")
	if !found {
		return "", "", false
	}
	path, err := PathFromURL(outer)
	if err != nil {
		return "", "", false
	}
	return path, inner, true
}

type archiveEntryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (r *archiveEntryReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

func openArchiveEntry(archive, entry string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	f, err := zr.Open(entry)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	return &archiveEntryReader{ReadCloser: f, archive: zr}, nil
}
