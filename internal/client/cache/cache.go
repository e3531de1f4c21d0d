// Package cache mirrors the last visible chore list to local storage so the
// client can paint something before the first fetch returns.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"chore-tracker/internal/client/localstore"
	"chore-tracker/internal/model"
)

const DefaultKey = "cache"

// Snapshot is the persisted list. It is never merged, only replaced.
type Snapshot struct {
	Chores  []model.Chore `json:"chores"`
	SavedAt time.Time     `json:"savedAt"`
}

type Cache struct {
	store localstore.Store
	key   string
}

func New(store localstore.Store, key string) *Cache {
	if key == "" {
		key = DefaultKey
	}
	return &Cache{store: store, key: key}
}

// Save overwrites the snapshot with chores.
func (c *Cache) Save(chores []model.Chore) error {
	if chores == nil {
		chores = []model.Chore{}
	}
	data, err := json.Marshal(Snapshot{Chores: chores, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return c.store.Set(c.key, data)
}

// Load returns the last snapshot. ok is false when nothing was saved yet.
func (c *Cache) Load() (snap Snapshot, ok bool, err error) {
	data, ok, err := c.store.Get(c.key)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode cache: %w", err)
	}
	return snap, true, nil
}
