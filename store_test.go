package zarr

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putString(t *testing.T, s Store, key, val string) {
	t.Helper()
	require.NoError(t, s.Put(key, strings.NewReader(val)))
}

func getString(t *testing.T, s Store, key string) string {
	t.Helper()
	f, err := s.Get(key)
	require.NoError(t, err)
	defer f.Close()
	d, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(d)
}

func collectLeafKeys(t *testing.T, s Store, prefix string) []string {
	t.Helper()
	var keys []string
	for k, err := range s.ListLeafKeys(prefix) {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func testStore(t *testing.T, s Store) {
	putString(t, s, ".zgroup", `{"zarr_format":2}`)
	putString(t, s, "A/1/.zgroup", `{"zarr_format":2}`)
	putString(t, s, "A/1/0/.zarray", `{}`)
	putString(t, s, "A/1/0/0.0", "chunk")
	putString(t, s, "A/2/.zgroup", `{"zarr_format":2}`)
	putString(t, s, "labels/.zgroup", `{"zarr_format":2}`)

	assert.Equal(t, "chunk", getString(t, s, "A/1/0/0.0"))

	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotfound))

	groups, err := s.ListKeysWithSuffix("", ".zgroup")
	require.NoError(t, err)
	assert.Equal(t, []string{"A/1", "A/2", "labels"}, groups)

	groups, err = s.ListKeysWithSuffix("A", ".zgroup")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, groups)

	arrays, err := s.ListKeysWithSuffix("", ".zarray")
	require.NoError(t, err)
	assert.Equal(t, []string{"A/1/0"}, arrays)

	none, err := s.ListKeysWithSuffix("nope", ".zarray")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Equal(t, []string{"A/1/.zgroup", "A/1/0/.zarray", "A/1/0/0.0"}, collectLeafKeys(t, s, "A/1"))

	require.NoError(t, s.Delete("A/1"))
	_, err = s.Get("A/1/0/0.0")
	assert.True(t, errors.Is(err, ErrNotfound))
	assert.Equal(t, []string{"A/2/.zgroup"}, collectLeafKeys(t, s, "A"))

	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	assert.Equal(t, MemoryStoreType, s.Type())
	testStore(t, s)
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plate.zarr")
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	assert.Equal(t, LocalStoreType, s.Type())
	testStore(t, s)

	_, err = os.Stat(filepath.Join(dir, "A", "2", ".zgroup"))
	assert.NoError(t, err)
}

func TestLocalStoreMissingRoot(t *testing.T) {
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "absent.zarr"))
	require.NoError(t, err)

	keys, err := s.ListKeysWithSuffix("", ".zarray")
	require.NoError(t, err)
	assert.Empty(t, keys)

	var lastErr error
	for _, err := range s.ListLeafKeys("") {
		lastErr = err
	}
	assert.True(t, errors.Is(lastErr, ErrNotfound))
}

func TestLocalStoreDirectoryGet(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	putString(t, s, "dir/file", "x")

	_, err = s.Get("dir")
	assert.True(t, errors.Is(err, ErrNotfound))
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, LocalStoreType, s.Type())

	s, err = OpenStore("https://s3.example.org/bucket/image.zarr")
	require.NoError(t, err)
	assert.Equal(t, S3StoreType, s.Type())
	require.NoError(t, s.Close())
}

func TestStoreRoot(t *testing.T) {
	cases := map[string]string{
		"/data/image.zarr":                "/data/image.zarr",
		"/data/image.zarr/0/1/.zarray":    "/data/image.zarr",
		"/data/IMAGE.ZARR/0":              "/data/IMAGE.ZARR",
		"/data/plain/":                    "/data/plain",
		"https://host/bucket/p.zarr/A/1/": "https://host/bucket/p.zarr",
	}
	for in, expect := range cases {
		assert.Equal(t, expect, StoreRoot(in), in)
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b/c", JoinKey("a", "", "/b/", "c"))
	assert.Equal(t, "", JoinKey("", ""))
	assert.Equal(t, ".zattrs", JoinKey("", ".zattrs"))
}
