package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chore-tracker/internal/client/localstore"
	"chore-tracker/internal/model"
)

func TestCache_SaveReplacesWholesale(t *testing.T) {
	store, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := New(store, "")

	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	first := []model.Chore{
		{ID: 1, UserID: 42, Title: "Dishes", Status: model.StatusPending, Priority: model.PriorityLow},
		{ID: 2, UserID: 42, Title: "Laundry", Status: model.StatusCompleted, Priority: model.PriorityMedium, Points: 3},
	}
	require.NoError(t, c.Save(first))

	second := []model.Chore{{ID: 3, UserID: 42, Title: "Pay rent", Status: model.StatusInProgress, Priority: model.PriorityHigh}}
	require.NoError(t, c.Save(second))

	snap, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, snap.SavedAt.IsZero())
	if diff := cmp.Diff(second, snap.Chores, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("cached chores mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_SaveNilWritesEmptyList(t *testing.T) {
	store, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := New(store, "")

	require.NoError(t, c.Save(nil))
	snap, ok, err := c.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, snap.Chores)
}
