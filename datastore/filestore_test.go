package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "gatehouse/specs/abc", []byte(`{"time":1}`), 1))
	data, err := s.Get(ctx, "gatehouse/specs/abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":1}`, string(data))
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestKeysWithSlashesAreSanitized(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a/b/c", []byte("x"), 0))
	data, err := s.Get(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestWatchSeesExternalWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got := make(chan []byte, 1)
	require.NoError(t, s.Watch("specs", func(data []byte) {
		select {
		case got <- data:
		default:
		}
	}))

	// A second store stands in for another process writing the cache.
	other, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Set(context.Background(), "specs", []byte(`{"time":9}`), 9))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"time":9}`, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never observed the write")
	}
}
