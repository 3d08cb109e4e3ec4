package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "synchronise sources and serve the repository",
	RunE:  serve,
}

const (
	flagAddr         = "addr"
	flagSyncInterval = "sync-interval"
)

func init() {
	serveCmd.Flags().StringP(flagConfig, "c", "", "path to a repository configuration file")
	serveCmd.Flags().String(flagAddr, ":8080", "address to listen on")
	serveCmd.Flags().Duration(flagSyncInterval, 0, "how often to synchronise sources (overrides the config file)")

	_ = serveCmd.MarkFlagRequired(flagConfig)
	_ = serveCmd.MarkFlagFilename(flagConfig, ".yaml", ".yml")
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logr.FromContextOrDiscard(ctx)

	configPath, _ := cmd.Flags().GetString(flagConfig)
	addr, _ := cmd.Flags().GetString(flagAddr)
	intervalOverride, _ := cmd.Flags().GetDuration(flagSyncInterval)

	cfg, err := v1.ReadFile(configPath)
	if err != nil {
		return err
	}
	repo, err := newRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	interval, err := repo.syncInterval(intervalOverride)
	if err != nil {
		return err
	}

	// drop anything left behind by sources that
	// are no longer configured
	if n, err := repo.engine.Prune(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info("removed packages of unconfigured sources", "count", n)
	}

	go func() {
		if interval <= 0 {
			if _, err := repo.engine.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error(err, "sync run failed")
			}
			return
		}
		_ = repo.engine.Watch(ctx, interval)
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           repo.server(ctx).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", addr, "interval", interval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
