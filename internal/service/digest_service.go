package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"chore-tracker/internal/model"
	"chore-tracker/internal/repository"
)

// DigestService builds human-readable summaries of open chores.
type DigestService struct {
	choreRepo *repository.ChoreRepository
}

func NewDigestService(choreRepo *repository.ChoreRepository) *DigestService {
	return &DigestService{choreRepo: choreRepo}
}

// Digest renders the owner's open chores as Telegram HTML.
func (s *DigestService) Digest(ctx context.Context, userID int64, now time.Time) (string, error) {
	chores, err := s.choreRepo.ListOpen(ctx, userID)
	if err != nil {
		return "", err
	}

	var inProgress, pending []model.Chore
	for _, c := range chores {
		if c.Status == model.StatusInProgress {
			inProgress = append(inProgress, c)
		} else {
			pending = append(pending, c)
		}
	}
	sortByDue(inProgress)
	sortByDue(pending)

	var builder strings.Builder
	builder.WriteString("📋 <b>Chores</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("2006-01-02")))

	builder.WriteString("🔨 <b>In progress</b>\n")
	if len(inProgress) == 0 {
		builder.WriteString("— nothing in progress\n")
	} else {
		for _, c := range inProgress {
			builder.WriteString(FormatChore(c, now))
		}
	}

	builder.WriteString("\n🔥 <b>Pending</b>\n")
	if len(pending) == 0 {
		builder.WriteString("— no open chores\n")
	} else {
		for _, c := range pending {
			builder.WriteString(FormatChore(c, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

// sortByDue puts chores with the nearest due date first; undated chores go
// last, newest first.
func sortByDue(chores []model.Chore) {
	sort.SliceStable(chores, func(i, j int) bool {
		switch {
		case chores[i].DueDate == nil && chores[j].DueDate == nil:
			return chores[i].CreatedAt.After(chores[j].CreatedAt)
		case chores[i].DueDate == nil:
			return false
		case chores[j].DueDate == nil:
			return true
		default:
			return chores[i].DueDate.Before(*chores[j].DueDate)
		}
	})
}

// FormatChore renders one chore as a Telegram HTML block ending in a newline.
func FormatChore(c model.Chore, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	switch {
	case c.Status == model.StatusCompleted:
		icon = "✅"
	case c.DueDate != nil && now.After(*c.DueDate):
		icon = "⚠️"
	case c.DueDate != nil && c.DueDate.Sub(now) <= 48*time.Hour:
		icon = "⏳"
	}

	title := html.EscapeString(strings.TrimSpace(c.Title))
	sb.WriteString(fmt.Sprintf("%s #%d %s", icon, c.ID, title))
	if c.Priority == model.PriorityHigh {
		sb.WriteString(" <b>(high)</b>")
	}
	if c.Points > 0 {
		sb.WriteString(fmt.Sprintf(" · %d pts", c.Points))
	}

	if c.DueDate != nil && c.Status != model.StatusCompleted {
		d := c.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s — <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · ≈%d d left", d.Format("2006-01-02"), daysLeft))
		}
	}

	if c.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(c.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
