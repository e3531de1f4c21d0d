package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks a chore payload that fails validation.
var ErrInvalid = errors.New("invalid chore")

// Status is the lifecycle state of a chore.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority orders chores for the owner.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Chore is a single item on a user's list.
// Status is the only completion state kept; the legacy "completed" flag is
// derived when the chore is encoded.
type Chore struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	UserID      int64      `gorm:"index;not null" json:"user_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `gorm:"type:text;not null;default:pending;index" json:"status"`
	Priority    Priority   `gorm:"type:text;not null;default:medium" json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Points      int        `gorm:"not null;default:0" json:"points"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Completed is the legacy boolean view of Status.
func (c Chore) Completed() bool {
	return c.Status == StatusCompleted
}

// IsTemporary reports whether the chore only exists locally and still waits
// for a server-assigned id.
func (c Chore) IsTemporary() bool {
	return c.ID < 0
}

func (c Chore) MarshalJSON() ([]byte, error) {
	type Alias Chore
	return json.Marshal(struct {
		Alias
		Completed bool `json:"completed"`
	}{Alias: Alias(c), Completed: c.Completed()})
}

func (c *Chore) UnmarshalJSON(data []byte) error {
	type Alias Chore
	aux := struct {
		*Alias
		Completed *bool `json:"completed"`
	}{Alias: (*Alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var status *Status
	if c.Status != "" {
		s := c.Status
		status = &s
	}
	c.Status = ResolveStatus(status, aux.Completed, StatusPending)
	return nil
}

// ResolveStatus applies the status/completed precedence: an explicit status
// wins, otherwise completed maps to completed/pending, otherwise fallback.
func ResolveStatus(status *Status, completed *bool, fallback Status) Status {
	switch {
	case status != nil && *status != "":
		return *status
	case completed != nil && *completed:
		return StatusCompleted
	case completed != nil:
		return StatusPending
	default:
		return fallback
	}
}

// ChoreInput is the payload for creating a chore.
type ChoreInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Points      *int       `json:"points,omitempty"`
}

func (in ChoreInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if in.Status != nil && *in.Status != "" && !in.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, *in.Status)
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, in.Priority)
	}
	if in.Points != nil && *in.Points < 0 {
		return fmt.Errorf("%w: points must not be negative", ErrInvalid)
	}
	return nil
}

// Build turns the input into a chore owned by userID. Timestamps are set to now.
func (in ChoreInput) Build(userID int64, now time.Time) Chore {
	chore := Chore{
		UserID:      userID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      ResolveStatus(in.Status, in.Completed, StatusPending),
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if chore.Priority == "" {
		chore.Priority = PriorityMedium
	}
	if in.Points != nil {
		chore.Points = *in.Points
	}
	return chore
}

// ChorePatch is a partial update. Nil fields keep their current value.
type ChorePatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Points      *int       `json:"points,omitempty"`
}

func (p ChorePatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	if p.Status != nil && *p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, *p.Priority)
	}
	if p.Points != nil && *p.Points < 0 {
		return fmt.Errorf("%w: points must not be negative", ErrInvalid)
	}
	return nil
}

// Apply mutates c in place and stamps UpdatedAt. Owner, id and creation time
// are never touched.
func (p ChorePatch) Apply(c *Chore, now time.Time) {
	if p.Title != nil {
		c.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	c.Status = ResolveStatus(p.Status, p.Completed, c.Status)
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.DueDate != nil {
		c.DueDate = p.DueDate
	}
	if p.Points != nil {
		c.Points = *p.Points
	}
	c.UpdatedAt = now
}
