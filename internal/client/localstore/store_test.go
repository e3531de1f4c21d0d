package localstore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	return s
}

func TestFileStore_GetSet(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.Get("session")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("session", []byte(`{"token":"abc"}`)))
	data, ok, err := s.Get("session")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"token":"abc"}`, string(data))

	info, err := os.Stat(filepath.Join(s.Dir(), "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerms), info.Mode().Perm())
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"", "..", "../escape", "a/b"} {
		err := s.Set(key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStore_UpdateIsSerialized(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("counter", []byte{0}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update("counter", func(data []byte, _ bool) ([]byte, error) {
				return []byte{data[0] + 1}, nil
			}))
		}()
	}
	wg.Wait()

	data, _, err := s.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, byte(20), data[0])
}

func TestFileStore_UpdateErrorAndNilSkipWrite(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("k", []byte("before")))

	boom := errors.New("boom")
	err := s.Update("k", func([]byte, bool) ([]byte, error) { return []byte("after"), boom })
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.Update("k", func([]byte, bool) ([]byte, error) { return nil, nil }))

	data, _, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))
}

func TestFileStore_TryLock(t *testing.T) {
	s := newStore(t)

	release, ok, err := s.TryLock("drain")
	require.NoError(t, err)
	require.True(t, ok)

	// flock is per open file description, so a second open conflicts
	_, ok, err = s.TryLock("drain")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := s.TryLock("drain")
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}
