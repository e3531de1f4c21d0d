// Package syncer keeps a client's visible chore list in step with the
// server. Mutations go to the server first; when it cannot be reached they
// are applied locally and queued in the outbox for a later Reconcile.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chore-tracker/internal/client/api"
	"chore-tracker/internal/client/cache"
	"chore-tracker/internal/client/outbox"
	"chore-tracker/internal/model"
	"chore-tracker/internal/push"
)

var (
	// ErrQueued means the server was unreachable; the change is applied
	// locally and waits in the outbox.
	ErrQueued = errors.New("change queued until the server is reachable")
	// ErrNotFound is terminal: the chore is gone or belongs to someone else.
	ErrNotFound = errors.New("chore not found")

	errUnresolved  = errors.New("chore is not synced yet")
	errBehindQueue = errors.New("an earlier change to this chore is still queued")
)

// Store is the authoritative chore store as seen by the client.
type Store interface {
	List(ctx context.Context) ([]model.Chore, error)
	Create(ctx context.Context, in model.ChoreInput) (*model.Chore, error)
	Update(ctx context.Context, id int64, patch model.ChorePatch) (*model.Chore, error)
	Delete(ctx context.Context, id int64) error
}

type Syncer struct {
	store  Store
	outbox *outbox.Outbox
	cache  *cache.Cache
	userID int64
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	chores   []model.Chore
	lastTemp int64

	background sync.WaitGroup
}

func New(store Store, ob *outbox.Outbox, c *cache.Cache, userID int64, log zerolog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		outbox: ob,
		cache:  c,
		userID: userID,
		log:    log.With().Str("component", "syncer").Logger(),
		now:    time.Now,
	}
}

// Chores returns a copy of the visible list.
func (s *Syncer) Chores() []model.Chore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Chore(nil), s.chores...)
}

// Pending is the number of queued mutations.
func (s *Syncer) Pending() (int, error) {
	return s.outbox.Len()
}

// Bootstrap paints the visible list from the cache plus whatever is still
// queued. It never touches the network.
func (s *Syncer) Bootstrap() error {
	snap, _, err := s.cache.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring unreadable cache")
	}
	entries, err := s.outbox.Entries()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chores = s.overlayLocked(snap.Chores, entries)
	return nil
}

// Refresh replaces the visible list with the server's, keeping queued
// changes on top, and writes the result to the cache.
func (s *Syncer) Refresh(ctx context.Context) error {
	list, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	entries, err := s.outbox.Entries()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.chores = s.overlayLocked(list, entries)
	s.mu.Unlock()
	s.saveCache()
	return nil
}

// Resume is the foreground trigger: replay the outbox, then refetch.
func (s *Syncer) Resume(ctx context.Context) error {
	if _, err := s.Reconcile(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Syncer) Create(ctx context.Context, in model.ChoreInput) (*model.Chore, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, in)
	if err == nil {
		s.mu.Lock()
		s.upsertLocked(*created)
		s.mu.Unlock()
		s.afterDirect()
		return created, nil
	}
	if !api.IsRetryable(err) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	local := in.Build(s.userID, s.now().UTC())
	local.ID = s.nextTempIDLocked()
	if qerr := s.outbox.Enqueue(outbox.NewCreate(local.ID, in)); qerr != nil {
		return nil, fmt.Errorf("queue create: %w", qerr)
	}
	s.chores = append([]model.Chore{local}, s.chores...)
	s.log.Info().Err(err).Int64("temp_id", local.ID).Msg("create queued")
	return &local, fmt.Errorf("%w: %w", ErrQueued, err)
}

func (s *Syncer) Update(ctx context.Context, id int64, patch model.ChorePatch) (*model.Chore, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if id < 0 {
		return s.queueUpdate(id, patch, errUnresolved)
	}
	if behind, err := s.queuedFor(id); err != nil {
		return nil, err
	} else if behind {
		local, err := s.queueUpdate(id, patch, errBehindQueue)
		s.kick()
		return local, err
	}

	updated, err := s.store.Update(ctx, id, patch)
	switch {
	case err == nil:
		s.mu.Lock()
		s.upsertLocked(*updated)
		s.mu.Unlock()
		s.afterDirect()
		return updated, nil
	case errors.Is(err, api.ErrNotFound):
		s.dropLocal(id)
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	case api.IsRetryable(err):
		return s.queueUpdate(id, patch, err)
	default:
		return nil, err
	}
}

func (s *Syncer) queueUpdate(id int64, patch model.ChorePatch, cause error) (*model.Chore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 && id < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err := s.outbox.Enqueue(outbox.NewUpdate(id, patch)); err != nil {
		return nil, fmt.Errorf("queue update: %w", err)
	}
	s.log.Info().Err(cause).Int64("chore_id", id).Msg("update queued")
	if i < 0 {
		return nil, fmt.Errorf("%w: %w", ErrQueued, cause)
	}
	patch.Apply(&s.chores[i], s.now().UTC())
	local := s.chores[i]
	return &local, fmt.Errorf("%w: %w", ErrQueued, cause)
}

func (s *Syncer) Delete(ctx context.Context, id int64) error {
	if id < 0 {
		return s.queueDelete(id, errUnresolved)
	}
	if behind, err := s.queuedFor(id); err != nil {
		return err
	} else if behind {
		err := s.queueDelete(id, errBehindQueue)
		s.kick()
		return err
	}

	err := s.store.Delete(ctx, id)
	switch {
	case err == nil:
		s.dropLocal(id)
		s.afterDirect()
		return nil
	case errors.Is(err, api.ErrNotFound):
		s.dropLocal(id)
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	case api.IsRetryable(err):
		return s.queueDelete(id, err)
	default:
		return err
	}
}

func (s *Syncer) queueDelete(id int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 && s.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err := s.outbox.Enqueue(outbox.NewDelete(id)); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	s.removeLocked(id)
	s.log.Info().Err(cause).Int64("chore_id", id).Msg("delete queued")
	return fmt.Errorf("%w: %w", ErrQueued, cause)
}

// Reconcile replays the outbox once. Entries that fail stay queued for the
// next call. A call made while a pass is running is a no-op.
func (s *Syncer) Reconcile(ctx context.Context) (outbox.DrainResult, error) {
	resolved := make(map[int64]int64)
	res, err := s.outbox.Drain(ctx, func(ctx context.Context, e outbox.Entry) (int64, error) {
		if err := s.replay(ctx, e, resolved); err != nil {
			s.log.Debug().Err(err).Str("entry", e.ID).Str("op", string(e.Kind)).Msg("replay failed, retained")
			return 0, err
		}
		return resolved[e.TempID], nil
	})
	if err != nil || res.Skipped {
		return res, err
	}
	if res.Applied > 0 {
		s.saveCache()
		s.log.Info().Int("applied", res.Applied).Int("retained", res.Retained).Msg("outbox drained")
	}
	return res, nil
}

func (s *Syncer) replay(ctx context.Context, e outbox.Entry, resolved map[int64]int64) error {
	target := e.TargetID
	if id, ok := resolved[target]; ok {
		target = id
	}

	switch e.Kind {
	case outbox.KindCreate:
		if e.Create == nil {
			return nil
		}
		created, err := s.store.Create(ctx, *e.Create)
		if err != nil {
			return err
		}
		resolved[e.TempID] = created.ID
		s.mu.Lock()
		s.removeLocked(e.TempID)
		s.upsertLocked(*created)
		s.mu.Unlock()
		return nil

	case outbox.KindUpdate:
		if target < 0 {
			return errUnresolved
		}
		var patch model.ChorePatch
		if e.Patch != nil {
			patch = *e.Patch
		}
		updated, err := s.store.Update(ctx, target, patch)
		if errors.Is(err, api.ErrNotFound) {
			s.log.Warn().Int64("chore_id", target).Msg("queued update hit a deleted chore, dropping")
			s.dropLocal(target)
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.upsertLocked(*updated)
		s.mu.Unlock()
		return nil

	case outbox.KindDelete:
		if target < 0 {
			return errUnresolved
		}
		err := s.store.Delete(ctx, target)
		if errors.Is(err, api.ErrNotFound) {
			s.log.Warn().Int64("chore_id", target).Msg("queued delete hit a missing chore, dropping")
			err = nil
		}
		if err != nil {
			return err
		}
		s.dropLocal(target)
		return nil
	}

	s.log.Warn().Str("op", string(e.Kind)).Msg("unknown outbox entry, dropping")
	return nil
}

// ApplyEvent feeds a push into the visible list. Pushes win by arrival
// order.
func (s *Syncer) ApplyEvent(ev push.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case push.EventChoreCreated:
		if ev.Chore == nil {
			return
		}
		s.removeLocked(ev.Chore.ID)
		s.chores = append([]model.Chore{*ev.Chore}, s.chores...)
	case push.EventChoreUpdated:
		if ev.Chore != nil {
			s.upsertLocked(*ev.Chore)
		}
	case push.EventChoreDeleted:
		s.removeLocked(ev.ChoreID)
	}
}

// Wait blocks until background reconciles started by direct mutations
// finish.
func (s *Syncer) Wait() {
	s.background.Wait()
}

// afterDirect writes the cache and, when something is still queued, starts
// an opportunistic Reconcile.
func (s *Syncer) afterDirect() {
	s.saveCache()

	n, err := s.outbox.Len()
	if err != nil || n == 0 {
		return
	}
	s.kick()
}

// kick starts a Reconcile in the background.
func (s *Syncer) kick() {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.Reconcile(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("opportunistic reconcile")
		}
	}()
}

// queuedFor reports whether the outbox still holds a change to the chore
// with server id id. Later changes to it must replay after that one.
func (s *Syncer) queuedFor(id int64) (bool, error) {
	entries, err := s.outbox.Entries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Kind != outbox.KindCreate && e.TargetID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Syncer) saveCache() {
	if err := s.cache.Save(s.Chores()); err != nil {
		s.log.Warn().Err(err).Msg("write cache")
	}
}

func (s *Syncer) dropLocal(id int64) {
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()
}

// overlayLocked applies queued entries on top of base. Applying it twice
// yields the same list.
func (s *Syncer) overlayLocked(base []model.Chore, entries []outbox.Entry) []model.Chore {
	s.chores = append([]model.Chore(nil), base...)
	now := s.now().UTC()
	for _, e := range entries {
		switch e.Kind {
		case outbox.KindCreate:
			if e.Create == nil || s.indexLocked(e.TempID) >= 0 {
				continue
			}
			local := e.Create.Build(s.userID, e.EnqueuedAt)
			local.ID = e.TempID
			s.chores = append([]model.Chore{local}, s.chores...)
			if e.TempID < s.lastTemp {
				s.lastTemp = e.TempID
			}
		case outbox.KindUpdate:
			if i := s.indexLocked(e.TargetID); i >= 0 && e.Patch != nil {
				e.Patch.Apply(&s.chores[i], now)
			}
		case outbox.KindDelete:
			s.removeLocked(e.TargetID)
		}
	}
	return s.chores
}

// nextTempIDLocked hands out negative ids that keep decreasing, also across
// restarts, so they never collide with server ids or each other.
func (s *Syncer) nextTempIDLocked() int64 {
	id := -s.now().UnixMilli()
	if id >= s.lastTemp {
		id = s.lastTemp - 1
	}
	s.lastTemp = id
	return id
}

func (s *Syncer) indexLocked(id int64) int {
	for i := range s.chores {
		if s.chores[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Syncer) upsertLocked(c model.Chore) {
	if i := s.indexLocked(c.ID); i >= 0 {
		s.chores[i] = c
		return
	}
	s.chores = append([]model.Chore{c}, s.chores...)
}

func (s *Syncer) removeLocked(id int64) {
	if i := s.indexLocked(id); i >= 0 {
		s.chores = append(s.chores[:i], s.chores[i+1:]...)
	}
}
