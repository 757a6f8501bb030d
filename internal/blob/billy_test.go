package blob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_PutGetExists(t *testing.T) {
	for name, s := range map[string]*FS{
		"memory": NewMemory(),
		"os":     NewOSFS(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "vendor/extracts/2024-03-01-09-30-00/vpei.csv"

			ok, err := s.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, key, []byte("a,b\n1,2\n")))
			ok, err = s.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "a,b\n1,2\n", string(got))

			require.NoError(t, s.Put(ctx, key, []byte("replaced")))
			got, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(got))

			ok, err = s.Exists(ctx, "vendor/extracts")
			require.NoError(t, err)
			assert.False(t, ok, "directories are not objects")
		})
	}
}

func TestFS_GetMissing(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "nope.txt")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestFS_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range []string{
		"vendor/extracts/b/vpei.csv",
		"vendor/extracts/a/vpei.csv",
		"vendor/extracts/a/payments.csv",
		"bank/ach/out.ach",
		"top.txt",
	} {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	keys, err := s.List(ctx, "vendor/extracts/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"vendor/extracts/a/payments.csv",
		"vendor/extracts/a/vpei.csv",
		"vendor/extracts/b/vpei.csv",
	}, keys)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	keys, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDirsAndFiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range []string{
		"in/2024-03-02/vpei.csv",
		"in/2024-03-01/vpei.csv",
		"in/2024-03-01/claims.csv",
		"in/readme.txt",
	} {
		require.NoError(t, s.Put(ctx, k, nil))
	}

	dirs, err := Dirs(ctx, s, "in")
	require.NoError(t, err)
	assert.Equal(t, []string{"in/2024-03-01", "in/2024-03-02"}, dirs)

	files, err := Files(ctx, s, "in/")
	require.NoError(t, err)
	assert.Equal(t, []string{"in/readme.txt"}, files)

	files, err = Files(ctx, s, "in/2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"in/2024-03-01/claims.csv", "in/2024-03-01/vpei.csv"}, files)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a/b/c.csv", Join("a/", "", "/b", "c.csv"))
	assert.Equal(t, "", Join())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverFilesystem, Root: filepath.Join(t.TempDir(), "blobs")})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "x/y.txt", []byte("y")))

	_, err = Open(ctx, Config{Driver: DriverFilesystem})
	assert.Error(t, err)

	s, err = Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &FS{}, s)

	_, err = Open(ctx, Config{Driver: "ftp"})
	assert.ErrorContains(t, err, `unknown driver "ftp"`)

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.ErrorContains(t, err, "bucket required")
}
