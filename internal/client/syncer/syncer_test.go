package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chore-tracker/internal/client/api"
	"chore-tracker/internal/client/cache"
	"chore-tracker/internal/client/localstore"
	"chore-tracker/internal/client/outbox"
	"chore-tracker/internal/model"
	"chore-tracker/internal/push"
)

const owner = 42

// fakeStore behaves like the chore API for one user.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	chores  map[int64]model.Chore
	offline bool
	calls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, chores: make(map[int64]model.Chore)}
}

func (f *fakeStore) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeStore) seed(id int64, title string) model.Chore {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := model.Chore{ID: id, UserID: owner, Title: title, Status: model.StatusPending, Priority: model.PriorityMedium}
	f.chores[id] = c
	if id >= f.nextID {
		f.nextID = id + 1
	}
	return c
}

func (f *fakeStore) enter() error {
	f.mu.Lock()
	f.calls++
	if f.offline {
		return fmt.Errorf("%w: dial tcp 127.0.0.1:3000: connection refused", api.ErrUnavailable)
	}
	return nil
}

func (f *fakeStore) List(context.Context) ([]model.Chore, error) {
	if err := f.enter(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	out := make([]model.Chore, 0, len(f.chores))
	for _, c := range f.chores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) Create(_ context.Context, in model.ChoreInput) (*model.Chore, error) {
	if err := f.enter(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	if in.Title == "forbidden" {
		return nil, fmt.Errorf("%w: status 400", api.ErrRejected)
	}
	c := in.Build(owner, time.Now())
	c.ID = f.nextID
	f.nextID++
	f.chores[c.ID] = c
	return &c, nil
}

func (f *fakeStore) Update(_ context.Context, id int64, patch model.ChorePatch) (*model.Chore, error) {
	if err := f.enter(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	c, ok := f.chores[id]
	if !ok {
		return nil, fmt.Errorf("%w: Chore not found", api.ErrNotFound)
	}
	patch.Apply(&c, time.Now())
	f.chores[id] = c
	return &c, nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	if err := f.enter(); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if _, ok := f.chores[id]; !ok {
		return fmt.Errorf("%w: Chore not found", api.ErrNotFound)
	}
	delete(f.chores, id)
	return nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) snapshot() map[int64]model.Chore {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]model.Chore, len(f.chores))
	for k, v := range f.chores {
		out[k] = v
	}
	return out
}

type harness struct {
	store  *fakeStore
	local  localstore.Store
	outbox *outbox.Outbox
	cache  *cache.Cache
	syncer *Syncer
}

func newHarness(t *testing.T, store *fakeStore, dir string) *harness {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	local, err := localstore.NewFileStore(dir)
	require.NoError(t, err)
	ob, err := outbox.Open(local, "")
	require.NoError(t, err)
	c := cache.New(local, "")
	return &harness{
		store:  store,
		local:  local,
		outbox: ob,
		cache:  c,
		syncer: New(store, ob, c, owner, zerolog.Nop()),
	}
}

func ids(chores []model.Chore) []int64 {
	out := make([]int64, 0, len(chores))
	for _, c := range chores {
		out = append(out, c.ID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestOfflineDeleteReplaysOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(7, "Take out trash")
	store.seed(8, "Mop floor")
	h := newHarness(t, store, "")
	require.NoError(t, h.syncer.Refresh(ctx))

	store.setOffline(true)
	err := h.syncer.Delete(ctx, 7)
	require.ErrorIs(t, err, ErrQueued)
	assert.ErrorIs(t, err, api.ErrUnavailable)
	assert.Equal(t, []int64{8}, ids(h.syncer.Chores()))

	entries, err := h.outbox.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, outbox.KindDelete, entries[0].Kind)
	assert.Equal(t, int64(7), entries[0].TargetID)

	store.setOffline(false)
	res, err := h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.NotContains(t, store.snapshot(), int64(7))
	assert.Equal(t, []int64{8}, ids(h.syncer.Chores()))

	calls := store.callCount()
	res, err = h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Equal(t, calls, store.callCount(), "nothing left to replay")
}

func TestOfflineCreateThenEditResolvesTempID(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	h := newHarness(t, store, "")

	store.setOffline(true)
	local, err := h.syncer.Create(ctx, model.ChoreInput{Title: "Pay rent", Priority: model.PriorityHigh})
	require.ErrorIs(t, err, ErrQueued)
	require.True(t, local.IsTemporary())
	assert.Equal(t, int64(owner), local.UserID)

	edited, err := h.syncer.Update(ctx, local.ID, model.ChorePatch{Completed: ptr(true)})
	require.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, model.StatusCompleted, edited.Status)

	other, err := h.syncer.Create(ctx, model.ChoreInput{Title: "Call mom"})
	require.ErrorIs(t, err, ErrQueued)
	assert.Less(t, other.ID, local.ID, "temporary ids keep decreasing")

	store.setOffline(false)
	res, err := h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)

	server := store.snapshot()
	require.Len(t, server, 2)
	for _, c := range h.syncer.Chores() {
		assert.Positive(t, c.ID)
		assert.Equal(t, server[c.ID].Status, c.Status)
	}
	assert.Equal(t, model.StatusCompleted, server[1].Status)
	assert.Equal(t, "Pay rent", server[1].Title)

	snap, ok, err := h.cache.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{1, 2}, ids(snap.Chores))
}

func TestTwoClientsSeeCreateOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newHarness(t, store, "")

	// client B starts from a stale cache that already holds the chore
	b := newHarness(t, store, "")
	stale := model.Chore{ID: 1, UserID: owner, Title: "Pay rent (old)", Status: model.StatusPending, Priority: model.PriorityLow}
	require.NoError(t, b.cache.Save([]model.Chore{stale}))
	require.NoError(t, b.syncer.Bootstrap())

	created, err := a.syncer.Create(ctx, model.ChoreInput{Title: "Pay rent"})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)

	// the server pushes CHORE_CREATED to every channel of user 42
	b.syncer.ApplyEvent(push.ChoreCreated(*created))
	a.syncer.ApplyEvent(push.ChoreCreated(*created))

	want := []model.Chore{*created}
	if diff := cmp.Diff(want, b.syncer.Chores()); diff != "" {
		t.Errorf("client B list mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, a.syncer.Chores()); diff != "" {
		t.Errorf("client A list mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEventUpdateAndDelete(t *testing.T) {
	s := newHarness(t, newFakeStore(), "").syncer

	c := model.Chore{ID: 3, UserID: owner, Title: "Vacuum", Status: model.StatusPending}
	s.ApplyEvent(push.ChoreUpdated(c))
	require.Equal(t, []int64{3}, ids(s.Chores()), "update of an unknown chore inserts it")

	c.Status = model.StatusInProgress
	s.ApplyEvent(push.ChoreUpdated(c))
	require.Len(t, s.Chores(), 1)
	assert.Equal(t, model.StatusInProgress, s.Chores()[0].Status)

	s.ApplyEvent(push.ChoreDeleted(3))
	assert.Empty(t, s.Chores())

	s.ApplyEvent(push.Event{Type: push.EventChoreCreated})
	assert.Empty(t, s.Chores())
}

func TestDirectNotFoundIsTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeStore(), "")

	_, err := h.syncer.Update(ctx, 99, model.ChorePatch{Title: ptr("x")})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrQueued)

	err = h.syncer.Delete(ctx, 99)
	require.ErrorIs(t, err, ErrNotFound)

	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRejectedIsNotQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newFakeStore(), "")

	_, err := h.syncer.Create(ctx, model.ChoreInput{Title: "forbidden"})
	require.ErrorIs(t, err, api.ErrRejected)

	_, err = h.syncer.Create(ctx, model.ChoreInput{Title: ""})
	require.ErrorIs(t, err, model.ErrInvalid)

	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Empty(t, h.syncer.Chores())
}

func TestDirectSuccessDrainsLeftovers(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(7, "Take out trash")
	h := newHarness(t, store, "")
	require.NoError(t, h.syncer.Refresh(ctx))

	store.setOffline(true)
	require.ErrorIs(t, h.syncer.Delete(ctx, 7), ErrQueued)

	store.setOffline(false)
	_, err := h.syncer.Create(ctx, model.ChoreInput{Title: "Water plants"})
	require.NoError(t, err)
	h.syncer.Wait()

	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.NotContains(t, store.snapshot(), int64(7))
}

func TestQueuedUpdateOfDeletedChoreIsDropped(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(5, "Fix sink")
	h := newHarness(t, store, "")
	require.NoError(t, h.syncer.Refresh(ctx))

	store.setOffline(true)
	_, err := h.syncer.Update(ctx, 5, model.ChorePatch{Status: ptr(model.StatusInProgress)})
	require.ErrorIs(t, err, ErrQueued)

	store.setOffline(false)
	require.NoError(t, store.Delete(ctx, 5))

	res, err := h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, h.syncer.Chores())
}

func TestFailedReplayStaysQueued(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	h := newHarness(t, store, "")

	store.setOffline(true)
	local, err := h.syncer.Create(ctx, model.ChoreInput{Title: "Pay rent"})
	require.ErrorIs(t, err, ErrQueued)
	require.ErrorIs(t, h.syncer.Delete(ctx, local.ID), ErrQueued)

	res, err := h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.DrainResult{Retained: 2}, res)

	store.setOffline(false)
	res, err = h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Empty(t, store.snapshot())
	assert.Empty(t, h.syncer.Chores())
}

func TestStatusPrecedenceWhileOffline(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	h := newHarness(t, store, "")
	store.setOffline(true)

	both, err := h.syncer.Create(ctx, model.ChoreInput{
		Title:     "Both",
		Status:    ptr(model.StatusInProgress),
		Completed: ptr(true),
	})
	require.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, model.StatusInProgress, both.Status)
	assert.False(t, both.Completed())

	onlyCompleted, err := h.syncer.Create(ctx, model.ChoreInput{Title: "Flag", Completed: ptr(true)})
	require.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, model.StatusCompleted, onlyCompleted.Status)

	store.setOffline(false)
	_, err = h.syncer.Reconcile(ctx)
	require.NoError(t, err)
	server := store.snapshot()
	assert.Equal(t, model.StatusInProgress, server[1].Status)
	assert.Equal(t, model.StatusCompleted, server[2].Status)
}

func TestBootstrapOverlaysQueueAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(7, "Take out trash")
	dir := t.TempDir()
	first := newHarness(t, store, dir)
	require.NoError(t, first.syncer.Refresh(ctx))

	store.setOffline(true)
	local, err := first.syncer.Create(ctx, model.ChoreInput{Title: "Pay rent"})
	require.ErrorIs(t, err, ErrQueued)
	require.ErrorIs(t, first.syncer.Delete(ctx, 7), ErrQueued)

	second := newHarness(t, store, dir)
	require.NoError(t, second.syncer.Bootstrap())
	require.NoError(t, second.syncer.Bootstrap())
	assert.Equal(t, []int64{local.ID}, ids(second.syncer.Chores()))

	next, err := second.syncer.Create(ctx, model.ChoreInput{Title: "Later"})
	require.ErrorIs(t, err, ErrQueued)
	assert.Less(t, next.ID, local.ID)
}

func TestRefreshKeepsQueuedChanges(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(1, "Dishes")
	h := newHarness(t, store, "")

	store.setOffline(true)
	_, err := h.syncer.Update(ctx, 1, model.ChorePatch{Title: ptr("Dishes and pans")})
	require.ErrorIs(t, err, ErrQueued)
	require.Error(t, h.syncer.Refresh(ctx))

	// server reachable for reads, queue not drained yet
	store.setOffline(false)
	require.NoError(t, h.syncer.Refresh(ctx))
	require.Len(t, h.syncer.Chores(), 1)
	assert.Equal(t, "Dishes and pans", h.syncer.Chores()[0].Title)
}

func TestLaterEditWaitsBehindQueuedEdit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(7, "Take out trash")
	h := newHarness(t, store, "")
	require.NoError(t, h.syncer.Refresh(ctx))

	store.setOffline(true)
	_, err := h.syncer.Update(ctx, 7, model.ChorePatch{Title: ptr("older")})
	require.ErrorIs(t, err, ErrQueued)

	store.setOffline(false)
	local, err := h.syncer.Update(ctx, 7, model.ChorePatch{Title: ptr("newer")})
	require.ErrorIs(t, err, ErrQueued)
	assert.ErrorIs(t, err, errBehindQueue)
	assert.Equal(t, "newer", local.Title)
	h.syncer.Wait()

	assert.Equal(t, "newer", store.snapshot()[7].Title)
	require.Len(t, h.syncer.Chores(), 1)
	assert.Equal(t, "newer", h.syncer.Chores()[0].Title)
	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestEditAfterQueuedDeleteIsDropped(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.seed(7, "Take out trash")
	h := newHarness(t, store, "")
	require.NoError(t, h.syncer.Refresh(ctx))

	store.setOffline(true)
	require.ErrorIs(t, h.syncer.Delete(ctx, 7), ErrQueued)

	store.setOffline(false)
	_, err := h.syncer.Update(ctx, 7, model.ChorePatch{Title: ptr("revived")})
	require.ErrorIs(t, err, ErrQueued)
	h.syncer.Wait()

	assert.NotContains(t, store.snapshot(), int64(7))
	assert.Empty(t, h.syncer.Chores())
	pending, err := h.syncer.Pending()
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestStalledServerIsBoundedByTimeout(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	hs := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		hs.Close()
	})

	local, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ob, err := outbox.Open(local, "")
	require.NoError(t, err)
	client := api.New(hs.URL, "token", 100*time.Millisecond)
	s := New(client, ob, cache.New(local, ""), owner, zerolog.Nop())

	start := time.Now()
	_, err = s.Create(ctx, model.ChoreInput{Title: "Pay rent"})
	require.ErrorIs(t, err, ErrQueued)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	start = time.Now()
	res, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.DrainResult{Retained: 1}, res)
	assert.Less(t, time.Since(start), 2*time.Second)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
