package store

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

// countBlobs counts canonical files, ignoring the staging subtree.
func countBlobs(t *testing.T, s *Store) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == s.staging {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestPutContentAddressing(t *testing.T) {
	s := newTestStore(t)
	content := []byte("some build output")

	hash1, path1, err := s.Put(content)
	require.NoError(t, err)

	wantHash := fmt.Sprintf("%x", sha256.Sum256(content))
	assert.Equal(t, wantHash, hash1)
	assert.Equal(t, filepath.Join(wantHash[:2], wantHash), path1)

	// Putting identical content again yields the same hash and path and
	// leaves exactly one physical file.
	hash2, path2, err := s.Put(content)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, countBlobs(t, s))

	got, err := s.Get(hash1)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutDistinctContent(t *testing.T) {
	s := newTestStore(t)

	hash1, _, err := s.Put([]byte("first"))
	require.NoError(t, err)
	hash2, _, err := s.Put([]byte("second"))
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2)
	assert.Equal(t, 2, countBlobs(t, s))
}

func TestPutDeclared(t *testing.T) {
	s := newTestStore(t)
	content := []byte("verified content")
	declared := fmt.Sprintf("%x", sha256.Sum256(content))

	hash, _, err := s.PutDeclared(content, declared)
	require.NoError(t, err)
	assert.Equal(t, declared, hash)
}

func TestPutDeclaredMismatch(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.PutDeclared([]byte("actual content"), "0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrCorrupt)

	// Nothing was written, not even to staging.
	assert.Equal(t, 0, countBlobs(t, s))
	entries, err := os.ReadDir(s.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Open("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenStreams(t *testing.T) {
	s := newTestStore(t)
	content := []byte("streamed bytes")

	hash, _, err := s.Put(content)
	require.NoError(t, err)

	reader, size, err := s.Open(hash)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(len(content)), size)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSweepStagingRemovesOrphans(t *testing.T) {
	dir := t.TempDir()

	// Simulate a writer that crashed before its rename committed.
	staging := filepath.Join(dir, stagingDir)
	require.NoError(t, os.MkdirAll(staging, 0o755))
	orphan := filepath.Join(staging, "leftover")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))

	_, err := New(dir)
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepUnreferenced(t *testing.T) {
	s := newTestStore(t)

	kept, _, err := s.Put([]byte("still referenced"))
	require.NoError(t, err)
	dropped, _, err := s.Put([]byte("orphaned blob"))
	require.NoError(t, err)

	removed, err := s.SweepUnreferenced(map[string]bool{kept: true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.True(t, s.Exists(kept))
	assert.False(t, s.Exists(dropped))
}
