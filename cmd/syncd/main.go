package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log = log.With().Str("service", "syncd").Logger()

	// Create context that cancels on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local storage")
	}
	defer a.Close()

	user, ok := a.Provider.CurrentUser()
	if !ok {
		log.Fatal().Msg("Not signed in. Run 'finsync login' first.")
	}
	log = logger.ForUser(log, user.ID)

	opts := []session.Option{session.WithLogger(log)}

	// Initialize job store and queue
	var jobQueue *inmemory.Queue
	var sess *session.Session
	if a.SyncEnabled() {
		jobQueue = a.NewQueue(inmemory.NewStore())
		onPulled := func(userID string) {
			if userID == user.ID {
				sess.Reload()
			}
		}
		if err := jobQueue.Start(ctx, jobs.SyncHandler(a.Syncers(ctx), onPulled)); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job consumer")
		}
		opts = append(opts, session.WithPublisher(jobQueue))
	} else {
		log.Warn().Msg("No remote provider configured - running without cloud sync")
	}

	sess = session.New(a.Store(user.ID), session.Config{
		PollInterval:   cfg.Session.PollInterval,
		SeedSampleData: cfg.Session.SeedSampleData,
		AutoPush:       cfg.Session.AutoPush,
	}, opts...)
	unsubscribe := sess.Subscribe(func(c domain.Collection) {
		log.Debug().Str("collection", string(c)).Msg("Collection changed")
	})
	defer unsubscribe()

	if err := sess.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}

	// Bring the local copy up to date with the cloud once at startup
	if jobQueue != nil {
		job := &jobs.SyncJob{UserID: user.ID, Type: jobs.JobTypeFullSync}
		if err := jobQueue.PublishSync(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue initial sync")
		}
	}

	log.Info().Msg("Session host started; send SIGHUP to re-read local data")

	// SIGHUP stands in for the application regaining focus
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			sess.NotifyFocus()
			continue
		}
		break
	}

	log.Info().Msg("Shutting down session host...")

	// Close the session first so pending auto-push publishes land in the queue
	sess.Close()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if jobQueue != nil {
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during graceful shutdown")
		}
	}
	cancel()

	log.Info().Msg("Session host exited")
}
