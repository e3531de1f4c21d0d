package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chore-tracker/internal/model"
)

const dateLayout = "2006-01-02"

func init() {
	var status string
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List chores (falls back to the local cache when offline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			if err := s.Refresh(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "offline, showing cached chores (%v)\n", err)
			}
			var shown []model.Chore
			for _, c := range s.Chores() {
				if status == "" || string(c.Status) == status {
					shown = append(shown, c)
				}
			}
			return printChores(a.out, shown)
		},
	}
	lsCmd.Flags().StringVar(&status, "status", "", "Only chores with this status (pending, in-progress, completed)")
	rootCmd.AddCommand(lsCmd)

	var in choreFlags
	addCmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create a chore",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := in.input(strings.Join(args, " "))
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			defer s.Wait()

			chore, err := s.Create(cmd.Context(), input)
			if err != nil && chore == nil {
				return err
			}
			if err := a.reportQueued(err, fmt.Sprintf("chore %d", chore.ID)); err != nil {
				return err
			}
			return printChores(a.out, []model.Chore{*chore})
		},
	}
	in.register(addCmd)
	rootCmd.AddCommand(addCmd)

	var up choreFlags
	updateCmd := &cobra.Command{
		Use:     "update ID",
		Short:   "Change fields of a chore; only the given flags are sent",
		Example: "  chorectl update 12 --completed\n  chorectl update --status in-progress -- -1700000000000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			patch, err := up.patch(cmd)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			defer s.Wait()

			chore, err := s.Update(cmd.Context(), id, patch)
			if err := a.reportQueued(err, fmt.Sprintf("update of chore %d", id)); err != nil {
				return err
			}
			if chore != nil {
				return printChores(a.out, []model.Chore{*chore})
			}
			return nil
		},
	}
	up.register(updateCmd)
	updateCmd.Flags().StringVar(&up.title, "title", "", "New title")
	rootCmd.AddCommand(updateCmd)

	rmCmd := &cobra.Command{
		Use:     "rm ID",
		Short:   "Delete a chore",
		Example: "  chorectl rm 7\n  chorectl rm -- -1700000000000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			defer s.Wait()

			err = s.Delete(cmd.Context(), id)
			if err == nil {
				fmt.Fprintf(a.out, "deleted chore %d\n", id)
				return nil
			}
			return a.reportQueued(err, fmt.Sprintf("delete of chore %d", id))
		},
	}
	rootCmd.AddCommand(rmCmd)
}

// choreFlags collects the optional chore fields shared by add and update.
type choreFlags struct {
	title       string
	description string
	status      string
	completed   bool
	priority    string
	due         string
	points      int
}

func (f *choreFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.description, "desc", "d", "", "Description")
	fl.StringVar(&f.status, "status", "", "Status: pending, in-progress or completed")
	fl.BoolVar(&f.completed, "completed", false, "Mark as completed (--status wins when both are given)")
	fl.StringVarP(&f.priority, "priority", "p", "", "Priority: low, medium or high")
	fl.StringVar(&f.due, "due", "", "Due date, "+dateLayout)
	fl.IntVar(&f.points, "points", 0, "Effort points")
}

func (f *choreFlags) input(title string) (model.ChoreInput, error) {
	in := model.ChoreInput{
		Title:       title,
		Description: f.description,
		Priority:    model.Priority(f.priority),
	}
	if f.status != "" {
		st := model.Status(f.status)
		in.Status = &st
	}
	if f.completed {
		in.Completed = &f.completed
	}
	if f.points != 0 {
		in.Points = &f.points
	}
	if f.due != "" {
		due, err := time.Parse(dateLayout, f.due)
		if err != nil {
			return in, fmt.Errorf("--due: %w", err)
		}
		in.DueDate = &due
	}
	return in, in.Validate()
}

// patch only carries the flags the user actually set.
func (f *choreFlags) patch(cmd *cobra.Command) (model.ChorePatch, error) {
	var p model.ChorePatch
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = &f.title
	}
	if changed("desc") {
		p.Description = &f.description
	}
	if changed("status") {
		st := model.Status(f.status)
		p.Status = &st
	}
	if changed("completed") {
		p.Completed = &f.completed
	}
	if changed("priority") {
		pr := model.Priority(f.priority)
		p.Priority = &pr
	}
	if changed("points") {
		p.Points = &f.points
	}
	if changed("due") {
		due, err := time.Parse(dateLayout, f.due)
		if err != nil {
			return p, fmt.Errorf("--due: %w", err)
		}
		p.DueDate = &due
	}
	return p, p.Validate()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chore id %q", raw)
	}
	return id, nil
}

func printChores(w io.Writer, chores []model.Chore) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tDUE\tPOINTS\tTITLE")
	for _, c := range chores {
		due := "-"
		if c.DueDate != nil {
			due = c.DueDate.Format(dateLayout)
		}
		id := strconv.FormatInt(c.ID, 10)
		if c.IsTemporary() {
			id += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", id, c.Status, c.Priority, due, c.Points, c.Title)
	}
	return tw.Flush()
}
