package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chore-tracker/internal/model"
	"chore-tracker/internal/push"
	"chore-tracker/internal/repository"
)

// Notifier receives every committed chore change.
type Notifier interface {
	Notify(identity int64, ev push.Event) int
}

// ChorePage is one page of a listing.
type ChorePage struct {
	Items []model.Chore `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ChoreService wraps chore business logic. Writes are committed first and
// then pushed to the owner's live channels; a failed push never undoes a
// write.
type ChoreService struct {
	repo     *repository.ChoreRepository
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewChoreService(repo *repository.ChoreRepository, notifier Notifier, log zerolog.Logger) *ChoreService {
	return &ChoreService{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "chores").Logger(),
		now:      time.Now,
	}
}

func (s *ChoreService) List(ctx context.Context, userID int64, f repository.ChoreFilter) (ChorePage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageLimit
	case f.Limit > maxPageLimit:
		f.Limit = maxPageLimit
	}
	if f.Status != "" && !f.Status.Valid() {
		return ChorePage{}, fmt.Errorf("%w: unknown status %q", model.ErrInvalid, f.Status)
	}

	items, total, err := s.repo.List(ctx, userID, f)
	if err != nil {
		return ChorePage{}, err
	}
	if items == nil {
		items = []model.Chore{}
	}
	return ChorePage{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (s *ChoreService) Get(ctx context.Context, userID, choreID int64) (*model.Chore, error) {
	return s.repo.FindByID(ctx, userID, choreID)
}

func (s *ChoreService) Create(ctx context.Context, userID int64, in model.ChoreInput) (*model.Chore, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	chore := in.Build(userID, s.now().UTC())
	if err := s.repo.Create(ctx, &chore); err != nil {
		return nil, err
	}

	s.log.Debug().Int64("user_id", userID).Int64("chore_id", chore.ID).Msg("chore created")
	s.notifier.Notify(userID, push.ChoreCreated(chore))
	return &chore, nil
}

func (s *ChoreService) Update(ctx context.Context, userID, choreID int64, patch model.ChorePatch) (*model.Chore, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	chore, err := s.repo.FindByID(ctx, userID, choreID)
	if err != nil {
		return nil, err
	}
	patch.Apply(chore, s.now().UTC())
	if err := s.repo.Save(ctx, chore); err != nil {
		return nil, err
	}

	// Read back so the pushed state is exactly what is stored.
	saved, err := s.repo.FindByID(ctx, userID, choreID)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int64("user_id", userID).Int64("chore_id", choreID).Msg("chore updated")
	s.notifier.Notify(userID, push.ChoreUpdated(*saved))
	return saved, nil
}

func (s *ChoreService) Delete(ctx context.Context, userID, choreID int64) error {
	if err := s.repo.Delete(ctx, userID, choreID); err != nil {
		return err
	}

	s.log.Debug().Int64("user_id", userID).Int64("chore_id", choreID).Msg("chore deleted")
	s.notifier.Notify(userID, push.ChoreDeleted(choreID))
	return nil
}

// IsNotFound reports whether err means the chore does not exist for the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
