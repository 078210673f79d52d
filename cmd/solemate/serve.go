package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/solemate/pkg/seed"
	"github.com/nstogner/solemate/pkg/server"
)

var (
	serveAddr     string
	serveSeed     string
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API",
	Long: `Serve the chat API:

  POST /api/threads/{id}/messages      send a user message
  POST /api/threads/{id}/confirmation  answer a pending confirmation
  GET  /api/threads[/{id}]             list or fetch threads
  GET  /api/tools                      tool declarations
  WS   /api/threads/{id}/chat          interactive chat
  GET  /healthz, /metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "listen address (overrides listen.address)")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "fixture loaded at startup")
	serveCmd.Flags().DurationVar(&serveInterval, "seed-interval", 0, "reload the --seed fixture at this interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if serveSeed != "" {
		res, err := a.seed(ctx, serveSeed)
		if err != nil {
			return err
		}
		slog.Info("Fixture loaded", "path", serveSeed, "orders", res.Orders, "policies", res.Policies)
		if serveInterval > 0 {
			go seed.Watch(ctx, serveSeed, serveInterval, a.store, a.store, func(seed.Result) { a.cache.Purge() })
		}
	}

	addr := cfg.Listen.Address
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(a.controller, a.store)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
