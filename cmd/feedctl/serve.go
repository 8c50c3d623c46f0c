package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/messaging"
	"github.com/chirper/feedsync/internal/models"
)

func createServeMetricsCmd(gf *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Follow the feed and serve this process's Prometheus metrics",
		Long: `Keep the newest feed page live (and, when signed in, the
notifications) and expose the client metrics on /metrics until interrupted.`,
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			if addr == "" {
				addr = rt.appCtx.Config.App.MetricsAddr
			}
			me, err := rt.signedIn()
			if err != nil {
				return err
			}

			pool := livequery.NewPool(rt.appCtx.Store, rt.appCtx.Logger, rt.metrics)
			defer pool.Close()
			_, release := pool.Acquire(livequery.QueryTarget(
				docstore.From(models.TweetsCollection).
					OrderBy("createdAt", docstore.Desc).
					WithLimit(rt.appCtx.Config.Feed.PageSize)))
			defer release()
			if me != nil {
				_, release := pool.Acquire(livequery.QueryTarget(messaging.NotificationsQuery(me.ID)))
				defer release()
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", rt.metrics.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errChan := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- err
				}
			}()
			color.Green("✅ Serving metrics on http://%s/metrics (%d live queries)", addr, pool.Len())

			select {
			case <-rt.ctx.Done():
				color.Yellow("\n🛑 Received interrupt signal, shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errChan:
				return err
			}
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default METRICS_ADDR)")
	return cmd
}
