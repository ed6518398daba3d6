package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

const (
	rootKeyFile = "root.txt"
	lockFile    = ".lock"
	ownerFile   = ".owner"
)

// CacheFolder is the on-disk home of every index and of the archive
// timestamps:
//
//	<dir>/.lock
//	<dir>/.owner          pid of the process holding the lock
//	<dir>/timestamps.db
//	<dir>/roots/<hash of root key>/root.txt
//	<dir>/roots/<hash of root key>/<indexer>-v<version>/
type CacheFolder struct {
	dir  string
	lock *flock.Flock
}

// OpenCacheFolder opens dir for writing. It fails with ERR_204_CACHE_LOCKED
// when another process has it open.
func OpenCacheFolder(dir string) (*CacheFolder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "failed to create cache folder", err)
	}
	lock := flock.New(filepath.Join(dir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "failed to lock cache folder", err)
	}
	if !ok {
		msg := "cache folder " + dir + " is in use by another process"
		if pid := lockOwner(dir); pid != "" {
			msg += " (pid " + pid + ")"
		}
		return nil, amerrors.New(amerrors.ErrCodeCacheLocked, msg, nil).
			WithSuggestion("Stop the other amanidx process or use a different cache_dir")
	}
	// The owner file is informational; a failed write leaves the lock valid.
	_ = os.WriteFile(filepath.Join(dir, ownerFile), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return &CacheFolder{dir: dir, lock: lock}, nil
}

// lockOwner returns the pid recorded by the process holding the lock, or
// "" when unknown.
func lockOwner(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadCacheFolder opens dir for inspection without locking it.
func ReadCacheFolder(dir string) *CacheFolder {
	return &CacheFolder{dir: dir}
}

// Dir returns the cache folder path.
func (c *CacheFolder) Dir() string {
	return c.dir
}

// RootDir returns the directory holding the indices of a root.
func (c *CacheFolder) RootDir(rootKey string) string {
	return filepath.Join(c.dir, "roots", strconv.FormatUint(xxhash.Sum64String(rootKey), 16))
}

// IndexDir returns the directory of the index f builds for a root.
func (c *CacheFolder) IndexDir(rootKey string, f indexer.Factory) string {
	return filepath.Join(c.RootDir(rootKey), IndexDirName(f.Name(), f.Version()))
}

// IndexDirName returns the directory name of an indexer's index.
func IndexDirName(name string, version int) string {
	return name + "-v" + strconv.Itoa(version)
}

// Remember records the root key next to its indices so that status can
// map directories back to roots.
func (c *CacheFolder) Remember(rootKey string) error {
	dir := c.RootDir(rootKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to create root cache directory", err)
	}
	return os.WriteFile(filepath.Join(dir, rootKeyFile), []byte(rootKey+"\n"), 0o644)
}

// Forget deletes every index of a root.
func (c *CacheFolder) Forget(rootKey string) error {
	return os.RemoveAll(c.RootDir(rootKey))
}

// KnownRoots returns the keys of every root with a cache directory, sorted.
func (c *CacheFolder) KnownRoots() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.dir, "roots"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache folder: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, "roots", e.Name(), rootKeyFile))
		if err != nil {
			continue
		}
		keys = append(keys, strings.TrimSpace(string(data)))
	}
	sort.Strings(keys)
	return keys, nil
}

// IndexDirs returns the index directory names present for a root.
func (c *CacheFolder) IndexDirs(rootKey string) ([]string, error) {
	entries, err := os.ReadDir(c.RootDir(rootKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Close releases the process lock. It is safe to call more than once.
func (c *CacheFolder) Close() error {
	if c.lock == nil || !c.lock.Locked() {
		return nil
	}
	_ = os.Remove(filepath.Join(c.dir, ownerFile))
	if err := c.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release cache folder lock: %w", err)
	}
	return nil
}
