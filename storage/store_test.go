package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("lucid_auth")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("lucid_auth", []byte(`{"jwt":"a.b.c"}`)))
	got, err := s.Get("lucid_auth")
	require.NoError(t, err)
	assert.Equal(t, `{"jwt":"a.b.c"}`, string(got))

	// Returned slices are copies
	got[0] = 'X'
	again, err := s.Get("lucid_auth")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), again[0])

	require.NoError(t, s.Set("lucid_auth", []byte(`{}`)))
	got, err = s.Get("lucid_auth")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	require.NoError(t, s.Delete("lucid_auth"))
	_, err = s.Get("lucid_auth")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("never-set"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStore(t, s)
}

func TestBadgerStore_InMemory(t *testing.T) {
	s, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestBadgerStore_EncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	key := []byte("0123456789abcdef0123456789abcdef")

	s, err := NewBadgerStore(BadgerConfig{DBPath: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Close())

	// Reopen and read back
	s, err = NewBadgerStore(BadgerConfig{DBPath: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}
