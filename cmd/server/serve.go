package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"paycore/internal/router"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the reconciliation scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	engine, stopRouter := router.Setup(cfg, router.Services{
		Ledger:    a.ledger,
		Webhooks:  a.pipeline,
		Donations: a.donations,
		Sweeper:   a.scheduler,
		Audit:     a.payments,
		Hub:       a.hub,
		Ping:      a.ping,
		Logger:    log,
	})
	defer stopRouter()

	var wg sync.WaitGroup
	if cfg.Reconcile.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("listen", zap.Error(err))
		stop()
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("server shutdown", zap.Error(serr))
	}
	wg.Wait()
	log.Info("server stopped")
	return err
}
