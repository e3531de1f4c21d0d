// Package outbox is the durable, ordered queue of chore mutations that the
// server has not confirmed yet.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chore-tracker/internal/client/localstore"
	"chore-tracker/internal/model"
)

// DefaultKey is the localstore key the queue lives under.
const DefaultKey = "outbox"

var pendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "chorectl",
	Subsystem: "outbox",
	Name:      "pending_entries",
	Help:      "Mutations waiting to be replayed against the server.",
})

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Entry is one queued mutation. Create entries carry the temporary id the
// chore is shown under locally; update and delete entries carry the target.
type Entry struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"op"`
	TempID     int64             `json:"tempId,omitempty"`
	TargetID   int64             `json:"targetId,omitempty"`
	Create     *model.ChoreInput `json:"create,omitempty"`
	Patch      *model.ChorePatch `json:"patch,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// chore is the id the entry is about: the temporary id for a create, the
// target otherwise.
func (e Entry) chore() int64 {
	if e.Kind == KindCreate {
		return e.TempID
	}
	return e.TargetID
}

func NewCreate(tempID int64, in model.ChoreInput) Entry {
	return Entry{ID: uuid.NewString(), Kind: KindCreate, TempID: tempID, Create: &in, EnqueuedAt: time.Now().UTC()}
}

func NewUpdate(targetID int64, patch model.ChorePatch) Entry {
	return Entry{ID: uuid.NewString(), Kind: KindUpdate, TargetID: targetID, Patch: &patch, EnqueuedAt: time.Now().UTC()}
}

func NewDelete(targetID int64) Entry {
	return Entry{ID: uuid.NewString(), Kind: KindDelete, TargetID: targetID, EnqueuedAt: time.Now().UTC()}
}

// ApplyFunc replays one entry against the server. For a create entry it
// returns the id the server assigned; the value is ignored for other kinds.
type ApplyFunc func(ctx context.Context, e Entry) (serverID int64, err error)

// DrainResult summarizes one pass.
type DrainResult struct {
	// Skipped is true when another pass was already running.
	Skipped  bool
	Applied  int
	Retained int
}

// Outbox is safe for concurrent use. The queue is re-read from the store on
// every operation so several processes sharing a state dir see one queue.
type Outbox struct {
	store    localstore.Store
	key      string
	draining atomic.Bool
	mu       sync.Mutex
}

func Open(store localstore.Store, key string) (*Outbox, error) {
	if key == "" {
		key = DefaultKey
	}
	o := &Outbox{store: store, key: key}
	entries, err := o.Entries()
	if err != nil {
		return nil, err
	}
	pendingEntries.Set(float64(len(entries)))
	return o, nil
}

// Enqueue appends e and persists the queue before returning.
func (o *Outbox) Enqueue(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return o.update(func(entries []Entry) ([]Entry, error) {
		return append(entries, e), nil
	})
}

// Entries returns the persisted queue in order.
func (o *Outbox) Entries() ([]Entry, error) {
	data, ok, err := o.store.Get(o.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decode(data)
}

func (o *Outbox) Len() (int, error) {
	entries, err := o.Entries()
	return len(entries), err
}

// Drain replays a snapshot of the queue in order. Entries whose apply
// succeeds are removed; failed entries keep their relative order, and
// entries enqueued during the pass stay behind them. Once an entry fails,
// later entries for the same chore are not attempted in that pass. Updates and deletes
// left in the queue that target the temporary id of a replayed create are
// pointed at the server id in the same write that removes the create.
// A call made while another pass is running returns at once with Skipped set.
func (o *Outbox) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	if !o.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer o.draining.Store(false)

	release, ok, err := o.store.TryLock(o.key + "-drain")
	if err != nil {
		return DrainResult{}, err
	}
	if !ok {
		return DrainResult{Skipped: true}, nil
	}
	defer release()

	snapshot, err := o.Entries()
	if err != nil {
		return DrainResult{}, err
	}

	var res DrainResult
	done := make(map[string]bool, len(snapshot))
	rebind := make(map[int64]int64)
	blocked := make(map[int64]bool)
	for _, e := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if blocked[e.chore()] {
			continue
		}
		serverID, err := apply(ctx, e)
		if err != nil {
			blocked[e.chore()] = true
			continue
		}
		if e.Kind == KindCreate && serverID != 0 {
			rebind[e.TempID] = serverID
		}
		done[e.ID] = true
		res.Applied++
	}
	res.Retained = len(snapshot) - res.Applied

	if len(done) == 0 {
		return res, nil
	}
	err = o.update(func(entries []Entry) ([]Entry, error) {
		kept := entries[:0]
		for _, e := range entries {
			if done[e.ID] {
				continue
			}
			if id, ok := rebind[e.TargetID]; ok && e.Kind != KindCreate {
				e.TargetID = id
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	return res, err
}

func (o *Outbox) update(fn func([]Entry) ([]Entry, error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var count int
	err := o.store.Update(o.key, func(data []byte, ok bool) ([]byte, error) {
		var entries []Entry
		if ok {
			var err error
			if entries, err = decode(data); err != nil {
				return nil, err
			}
		}
		next, err := fn(entries)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []Entry{}
		}
		count = len(next)
		return json.Marshal(next)
	})
	if err != nil {
		return fmt.Errorf("persist outbox: %w", err)
	}
	pendingEntries.Set(float64(count))
	return nil
}

var ErrCorrupt = errors.New("outbox corrupt")

func decode(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return entries, nil
}
