package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chore-tracker/internal/client/pushclient"
	"chore-tracker/internal/client/syncer"
	"chore-tracker/internal/push"
	"chore-tracker/internal/service"
)

func init() {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Show changes that still wait for the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			_, ob, err := a.syncer()
			if err != nil {
				return err
			}
			entries, err := ob.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "nothing pending")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUED\tOP\tCHORE")
			for _, e := range entries {
				target := e.TargetID
				if e.TempID != 0 {
					target = e.TempID
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", e.EnqueuedAt.Local().Format(time.DateTime), e.Kind, target)
			}
			return tw.Flush()
		},
	}
	rootCmd.AddCommand(pendingCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending changes and refresh the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			res, err := s.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintln(a.out, "another sync is already running")
				return nil
			}
			fmt.Fprintf(a.out, "applied %d, still pending %d\n", res.Applied, res.Retained)
			return s.Refresh(cmd.Context())
		},
	}
	rootCmd.AddCommand(syncCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected: print pushed changes, replay the queue on reconnect and every retry interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			s, _, err := a.syncer()
			if err != nil {
				return err
			}
			pc, err := pushclient.New(a.cfg.ServerURL, a.session.UserID, pushclient.Options{}, a.log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			scheduler := service.NewSchedulerService(time.Local, a.log)
			if _, err := scheduler.ScheduleInterval(a.cfg.RetryInterval, func() {
				if _, err := s.Reconcile(ctx); err != nil {
					a.log.Warn().Err(err).Msg("periodic sync")
				}
			}); err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			fmt.Fprintf(a.out, "watching %s as user %d (ctrl-c to stop)\n", pc.URL(), a.session.UserID)
			return pc.Run(ctx, &watchHandler{syncer: s, out: a.out})
		},
	}
	rootCmd.AddCommand(watchCmd)
}

// watchHandler reconciles on every (re)connect and prints pushes.
type watchHandler struct {
	syncer *syncer.Syncer
	out    io.Writer
}

func (h *watchHandler) OnConnect(ctx context.Context) {
	if err := h.syncer.Resume(ctx); err != nil {
		fmt.Fprintf(h.out, "sync after connect failed: %v\n", err)
		return
	}
	n, _ := h.syncer.Pending()
	fmt.Fprintf(h.out, "connected, %d chores, %d pending\n", len(h.syncer.Chores()), n)
}

func (h *watchHandler) OnEvent(ev push.Event) {
	h.syncer.ApplyEvent(ev)
	switch ev.Type {
	case push.EventChoreCreated:
		fmt.Fprintf(h.out, "+ #%d %s [%s]\n", ev.Chore.ID, ev.Chore.Title, ev.Chore.Status)
	case push.EventChoreUpdated:
		fmt.Fprintf(h.out, "~ #%d %s [%s]\n", ev.Chore.ID, ev.Chore.Title, ev.Chore.Status)
	case push.EventChoreDeleted:
		fmt.Fprintf(h.out, "- #%d\n", ev.ChoreID)
	}
}
