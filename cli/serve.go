package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/anita2210/flu-forecast-hub/api"
)

func cmdServe(g *globals) *cli.Command {
	var (
		addr string
		src  sourceFlags
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: joinFlags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "addr",
					Usage:       "Listen address (overrides server.addr)",
					Sources:     cli.EnvVars("FLUHUB_ADDR"),
					Destination: &addr,
				},
			},
			src.flags(),
		),
		Action: func(ctx context.Context, _ *cli.Command) error {
			logger := ctxlog.From(ctx)
			cfg := g.cfg
			if addr == "" {
				addr = cfg.Server.Addr
			}

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if report, err := src.load(ctx, a.hub); err != nil {
				return err
			} else if report != nil {
				logger.Info("seed data loaded", slog.Int("accepted", report.Accepted), slog.Uint64("version", report.Version))
			}

			router := api.NewRouter(ctx, a.hub, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
			server := api.NewServer(addr, router, cfg.Server.ReadTimeout)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server starting", slog.String("addr", addr), slog.Any("config", cfg))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				logger.Info("context cancelled, shutting down")
			case sig := <-sigCh:
				logger.Info("signal received, shutting down", slog.Any("signal", sig))
			case err, ok := <-errCh:
				if ok {
					return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shut down http server")
			}
			logger.Info("server shutdown complete")
			return nil
		},
	}
}
