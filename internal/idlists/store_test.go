package idlists

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/hashing"
	"gatehouse/internal/telemetry/logging"
)

func strPtr(s string) *string { return &s }

func TestApplyAddsAndRemovesPrefixes(t *testing.T) {
	s := NewStore(logging.New("none"))
	marcos := hashing.Sha256Prefix8("Marcos")

	s.Apply(map[string]Update{
		"company_id_list": {
			RawChangeset: []byte("+" + marcos + "\n"),
			NewMetadata:  Metadata{Size: 10, CreationTime: 1},
		},
	})
	assert.True(t, s.Contains("company_id_list", marcos))
	assert.False(t, s.Contains("company_id_list", hashing.Sha256Prefix8("Other")))
	assert.False(t, s.Contains("unknown_list", marcos))

	s.Apply(map[string]Update{
		"company_id_list": {
			RawChangeset: []byte("-" + marcos + "\n"),
			NewMetadata:  Metadata{Size: 20, CreationTime: 1},
		},
	})
	assert.False(t, s.Contains("company_id_list", marcos))
}

func TestApplyIgnoresMalformedLines(t *testing.T) {
	s := NewStore(logging.New("none"))
	s.Apply(map[string]Update{
		"l": {
			RawChangeset: []byte("+aaaaaaaa\n\n?\n*bbbbbbbb\n+cccccccc"),
			NewMetadata:  Metadata{Size: 5, CreationTime: 1},
		},
	})
	assert.True(t, s.Contains("l", "aaaaaaaa"))
	assert.True(t, s.Contains("l", "cccccccc"))
	assert.False(t, s.Contains("l", "bbbbbbbb"))
}

func TestIdentityChangeRebuildsList(t *testing.T) {
	s := NewStore(logging.New("none"))
	s.Apply(map[string]Update{
		"l": {RawChangeset: []byte("+aaaaaaaa\n"), NewMetadata: Metadata{Size: 9, CreationTime: 1, FileID: strPtr("f1")}},
	})
	require.True(t, s.Contains("l", "aaaaaaaa"))

	// New file id: the old contents must not survive.
	s.Apply(map[string]Update{
		"l": {RawChangeset: []byte("+bbbbbbbb\n"), NewMetadata: Metadata{Size: 9, CreationTime: 1, FileID: strPtr("f2")}},
	})
	assert.False(t, s.Contains("l", "aaaaaaaa"))
	assert.True(t, s.Contains("l", "bbbbbbbb"))

	// Newer creation time rebuilds too.
	s.Apply(map[string]Update{
		"l": {RawChangeset: []byte("+cccccccc\n"), NewMetadata: Metadata{Size: 9, CreationTime: 2, FileID: strPtr("f2")}},
	})
	assert.False(t, s.Contains("l", "bbbbbbbb"))
	assert.True(t, s.Contains("l", "cccccccc"))
}

func TestSameIdentityAppends(t *testing.T) {
	s := NewStore(logging.New("none"))
	meta := Metadata{Size: 9, CreationTime: 1, FileID: strPtr("f1")}
	s.Apply(map[string]Update{"l": {RawChangeset: []byte("+aaaaaaaa\n"), NewMetadata: meta}})

	grown := meta
	grown.Size = 18
	s.Apply(map[string]Update{"l": {RawChangeset: []byte("+bbbbbbbb\n"), NewMetadata: grown}})
	assert.True(t, s.Contains("l", "aaaaaaaa"))
	assert.True(t, s.Contains("l", "bbbbbbbb"))
	assert.Equal(t, int64(18), s.Metadata()["l"].Size)
}

func TestListsAbsentFromManifestAreDeleted(t *testing.T) {
	s := NewStore(logging.New("none"))
	s.Apply(map[string]Update{
		"keep":   {RawChangeset: []byte("+aaaaaaaa\n"), NewMetadata: Metadata{CreationTime: 1}},
		"remove": {RawChangeset: []byte("+bbbbbbbb\n"), NewMetadata: Metadata{CreationTime: 1}},
	})
	s.Apply(map[string]Update{
		"keep": {NewMetadata: Metadata{CreationTime: 1}},
	})
	assert.True(t, s.Contains("keep", "aaaaaaaa"))
	assert.False(t, s.Contains("remove", "bbbbbbbb"))
	assert.NotContains(t, s.Metadata(), "remove")
}
