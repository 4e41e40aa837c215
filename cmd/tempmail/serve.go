package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/api"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const tokenCheckInterval = time.Minute

func newServeCmd(v *viper.Viper) *cobra.Command {
	var poll bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			a.tokens.StartRefreshLoop(ctx, tokenCheckInterval)

			srv := api.NewServer(ctx, api.Deps{
				Session:  a.session,
				Inbox:    a.inbox,
				Poller:   a.poller,
				Mail:     a.mail,
				Registry: a.registry,
				Monitor:  a.monitor,
				Logger:   a.log,

				ControlToken: a.cfg.ControlToken,
			})
			defer srv.Close()

			if poll {
				a.poller.Start(ctx)
			}

			httpServer := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Infof("🚀 Control API listening on http://%s", a.cfg.Listen)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serving control API: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("🛑 Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Close()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:8087)")
	cmd.Flags().BoolVar(&poll, "poll", true, "Poll the active inbox and stream events")
	v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return core(cmd)
}
