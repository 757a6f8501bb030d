// Package blob stores the files exchanged with the vendor and the bank.
//
// Keys are slash-separated paths such as
// "vendor/extracts/2024-03-01-09-30-00/vpei.csv". Two drivers exist: a
// go-billy filesystem (a directory on disk, or memory for tests) and S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotExist is returned by Get for a missing key.
var ErrNotExist = errors.New("blob does not exist")

// Store is the storage surface the pipeline needs.
type Store interface {
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Get reads the object at key, or returns ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key holds an object.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Driver names a Store implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverMemory     Driver = "memory"
	DriverS3         Driver = "s3"
)

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	Root   string
	S3     S3Config
}

// Open returns the Store cfg describes.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("blob: fs driver requires a root directory")
		}
		return NewOSFS(cfg.Root), nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		s, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

// Join builds a key from parts, ignoring empty ones.
func Join(parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			keep = append(keep, p)
		}
	}
	return path.Join(keep...)
}

// Dirs returns the distinct immediate sub-directories under prefix, sorted.
// "a/b/c.csv" under "a" yields "a/b".
func Dirs(ctx context.Context, s Store, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	keys, err := s.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var dirs []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, listPrefix)
		i := strings.Index(rest, "/")
		if i <= 0 {
			continue
		}
		dir := Join(prefix, rest[:i])
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// Files returns the keys directly under prefix (not in sub-directories).
func Files(ctx context.Context, s Store, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	keys, err := s.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, k := range keys {
		if !strings.Contains(strings.TrimPrefix(k, listPrefix), "/") {
			files = append(files, k)
		}
	}
	return files, nil
}
