package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/metagram-net/metagram.net-sub000/internal/auth"
	"github.com/metagram-net/metagram.net-sub000/internal/jobs"
	"github.com/metagram-net/metagram.net-sub000/internal/queue"
)

// ── user ──────────────────────────────────────────────────────────────────────

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print a session token for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			u, err := rt.store.CreateUser(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("create user %q: %w", email, err)
			}
			token, err := auth.IssueSessionToken([]byte(rt.cfg.SessionSecret), u.ID, rt.cfg.SessionTTL, time.Now())
			if err != nil {
				return err
			}
			slog.Info("user created", "user_id", u.ID, "email", u.Email)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the new user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push a one-off background job",
	}
	cmd.PersistentFlags().StringVar(&at, "at", "", "RFC 3339 time to schedule the job for (default now)")

	// Recurring kinds go through PushUniq so a manual push never doubles up
	// with the scheduler's.
	recurring := func(use, short string, task queue.Task) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return enqueue(cmd, at, task, true)
			},
		}
	}

	var hydrant string
	hydrateOne := &cobra.Command{
		Use:   "hydrate-one",
		Short: "Fetch one hydrant's feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(hydrant)
			if err != nil {
				return fmt.Errorf("--hydrant: %w", err)
			}
			return enqueue(cmd, at, &jobs.HydrateOne{HydrantID: id}, false)
		},
	}
	hydrateOne.Flags().StringVar(&hydrant, "hydrant", "", "hydrant id")
	_ = hydrateOne.MarkFlagRequired("hydrant")

	cmd.AddCommand(
		recurring("hydrate-all", "Queue a fetch of every stale hydrant", &jobs.HydrateAll{}),
		recurring("cleanup", "Delete old successful jobs", &jobs.Cleanup{}),
		hydrateOne,
	)
	return cmd
}

func enqueue(cmd *cobra.Command, at string, task queue.Task, uniq bool) error {
	when := time.Now()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		when = t
	}

	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	push := rt.queue.Push
	if uniq {
		push = rt.queue.PushUniq
	}
	job, err := push(cmd.Context(), rt.store.Queries, task, when)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Kind(), err)
	}
	slog.Info("job enqueued", "job_id", job.ID, "kind", job.Kind(), "scheduled_at", job.ScheduledAt, "state", job.State())
	fmt.Fprintln(cmd.OutOrStdout(), job.ID)
	return nil
}

