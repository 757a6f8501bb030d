package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FS is a Store over a go-billy filesystem.
type FS struct {
	fs billy.Filesystem
}

// NewFS wraps fsys.
func NewFS(fsys billy.Filesystem) *FS {
	return &FS{fs: fsys}
}

// NewOSFS stores objects as files under root.
func NewOSFS(root string) *FS {
	return NewFS(osfs.New(root))
}

// NewMemory stores objects in memory.
func NewMemory() *FS {
	return NewFS(memfs.New())
}

// Put implements Store.Put.
func (b *FS) Put(_ context.Context, key string, data []byte) error {
	if dir := path.Dir(key); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("billy: mkdirall %q: %w", dir, err)
		}
	}
	if err := util.WriteFile(b.fs, key, data, 0o644); err != nil {
		return fmt.Errorf("billy: write %q: %w", key, err)
	}
	return nil
}

// Get implements Store.Get.
func (b *FS) Get(_ context.Context, key string) ([]byte, error) {
	data, err := util.ReadFile(b.fs, key)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("billy: read %q: %w", key, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("billy: read %q: %w", key, err)
	}
	return data, nil
}

// Exists implements Store.Exists.
func (b *FS) Exists(_ context.Context, key string) (bool, error) {
	fi, err := b.fs.Stat(key)
	switch {
	case err == nil:
		return !fi.IsDir(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("billy: stat %q: %w", key, err)
	}
}

// List implements Store.List.
func (b *FS) List(_ context.Context, prefix string) ([]string, error) {
	start := "."
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = prefix[:i]
	}
	var keys []string
	if err := b.walk(start, &keys); err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *FS) walk(dir string, keys *[]string) error {
	infos, err := b.fs.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("billy: readdir %q: %w", dir, err)
	}
	for _, fi := range infos {
		p := fi.Name()
		if dir != "." {
			p = path.Join(dir, fi.Name())
		}
		if fi.IsDir() {
			if err := b.walk(p, keys); err != nil {
				return err
			}
			continue
		}
		*keys = append(*keys, p)
	}
	return nil
}

// Raw returns the underlying billy filesystem.
func (b *FS) Raw() billy.Filesystem { return b.fs }
