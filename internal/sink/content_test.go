package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSContentStore_PutAndLocation(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSContentStore(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	_, ok := s.Location("guid-1", 1)
	assert.False(t, ok)

	loc, err := s.Put(context.Background(), "guid-1", 1, []byte("%PDF-1.4 content"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs", "guid-1.v1.pdf"), loc)

	got, ok := s.Location("guid-1", 1)
	assert.True(t, ok)
	assert.Equal(t, loc, got)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(data))
}

func TestFSContentStore_VersionsAreDistinct(t *testing.T) {
	s, err := NewFSContentStore(t.TempDir())
	require.NoError(t, err)

	loc1, err := s.Put(context.Background(), "guid-1", 1, []byte("original"))
	require.NoError(t, err)

	// A stored prior version never answers for the amended one.
	_, ok := s.Location("guid-1", 2)
	assert.False(t, ok)

	loc2, err := s.Put(context.Background(), "guid-1", 2, []byte("amended"))
	require.NoError(t, err)
	assert.NotEqual(t, loc1, loc2)

	data, err := os.ReadFile(loc1)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	data, err = os.ReadFile(loc2)
	require.NoError(t, err)
	assert.Equal(t, "amended", string(data))
}

func TestFSContentStore_PutOverwrites(t *testing.T) {
	s, err := NewFSContentStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "guid-1", 1, []byte("first fetch"))
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "guid-1", 1, []byte("refetched"))
	require.NoError(t, err)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "refetched", string(data))
}

func TestFSContentStore_PutCancelled(t *testing.T) {
	s, err := NewFSContentStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Put(ctx, "guid-1", 1, []byte("data"))
	assert.Error(t, err)
	_, ok := s.Location("guid-1", 1)
	assert.False(t, ok)
}

func TestFSContentStore_NoStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSContentStore(dir)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "guid-1", 1, []byte("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "guid-1.v1.pdf", entries[0].Name())
}
