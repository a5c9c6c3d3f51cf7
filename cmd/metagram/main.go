// Command metagram is the metagram server binary.
//
// Subcommands:
//
//	serve        HTTP API + embedded worker and cron scheduler (default for production)
//	worker       worker and cron scheduler only (no HTTP server)
//	migrate      run pending database migrations and exit
//	user create  create a user and print a session token
//	enqueue      push a one-off background job
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so that
	// time.LoadLocation works inside distroless containers that have no
	// /usr/share/zoneinfo.
	_ "time/tzdata"

	// Automatically sets GOMEMLIMIT from the cgroup memory limit so that
	// the Go GC triggers before the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/metagram-net/metagram.net-sub000/internal/api"
	"github.com/metagram-net/metagram.net-sub000/internal/jobs"
	"github.com/metagram-net/metagram.net-sub000/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:   "metagram",
		Short: "metagram: read-it-later drops fed by RSS hydrants",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		userCmd(),
		enqueueCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, worker and cron scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Background loops share ctx: cancellation stops polling and ticking,
	// while a job already running finishes on its own detached context.
	var wg sync.WaitGroup
	startBackground(ctx, &wg, rt)

	apiSrv := api.NewServer(rt.store, rt.queue, cfg)
	defer apiSrv.Close()

	// WriteTimeout intentionally omitted; no endpoint streams, and the
	// statement timeout bounds the slowest handler.
	srv := &http.Server{ //nolint:exhaustruct // WriteTimeout intentionally omitted
		Addr:              cfg.ListenAddr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	stop() // release signal notification and stop the background loops

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown: %w", err)
	}
	wg.Wait()
	slog.Info("server stopped")
	return runErr
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the worker and cron scheduler (no HTTP server)",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup
	startBackground(ctx, &wg, rt)
	slog.Info("worker started")
	wg.Wait() // returns once ctx is cancelled and the current job has finished
	slog.Info("worker stopped")
	return nil
}

// startBackground runs the worker loop and the cron scheduler until ctx is
// cancelled. Both report into the default Prometheus registry.
func startBackground(ctx context.Context, wg *sync.WaitGroup, rt *runtime) {
	metrics := worker.NewMetrics(prometheus.DefaultRegisterer)
	w := worker.New(rt.store, rt.queue, worker.Config{
		PollInterval: rt.cfg.WorkerPollInterval,
		Metrics:      metrics,
	})
	sched := worker.NewScheduler(rt.store, rt.queue, worker.SchedulerConfig{
		Interval: rt.cfg.CronInterval,
		Metrics:  metrics,
	}, jobs.Recurring()...)

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
}
