package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ilvi89/stupid-tg-bot/internal/transport/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dialog engine over HTTP",
	Long: `Serve exposes the engine on a REST API (plus /healthz and /metrics)
and runs the periodic session sweeper. It shuts down gracefully on
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		api := httpapi.New(c.app,
			httpapi.WithLogger(c.logger),
			httpapi.WithUsers(c.users))
		srv := &http.Server{
			Addr:              c.cfg.HTTP.Addr,
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			c.logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if interval := c.cfg.Session.SweepInterval; interval > 0 {
			g.Go(func() error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						n, err := c.engine.Sessions().SweepExpired(ctx, c.cfg.Session.TTL)
						if err != nil {
							c.logger.Error("session sweep failed", "err", err)
							continue
						}
						if n > 0 {
							c.logger.Info("swept expired sessions", "count", n)
						}
					}
				}
			})
		}

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
