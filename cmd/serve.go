package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"novel-ai-proxy/internal/app"
	"novel-ai-proxy/internal/llm"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server.

The server stops gracefully on SIGINT or SIGTERM, letting in-flight
completions finish for up to five seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.config()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("could not listen on %s: %w", cfg.Server.Addr, err)
			}
			return serve(ctx, ln, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

// serve runs the application on ln until ctx is done, then shuts down.
func serve(ctx context.Context, ln net.Listener, cfg *llm.Config, logger *logrus.Logger) error {
	log := logger.WithField("component", "server")

	for _, warning := range cfg.Validate() {
		log.Warn(warning)
	}
	if cfg.Path != "" {
		log.WithField("path", cfg.Path).Info("loaded config file")
	}

	a, err := app.NewApp(cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}
	defer a.Close()

	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":  ln.Addr().String(),
			"model": cfg.Model.Name,
		}).Info("starting server")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		log.Info("server gracefully stopped")
		return nil
	})
	return g.Wait()
}
