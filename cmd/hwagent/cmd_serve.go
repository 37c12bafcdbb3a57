package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/spool"
	"github.com/newtron-network/hwagent/pkg/util"
)

var linkRefresh time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent",
	Long: `Warm boot from the state file, then apply every delta file moved into the
spool directory until interrupted.

With the asicdb backend, link state is read from STATE_DB and neighbors are
re-evaluated every --link-refresh.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().DurationVar(&linkRefresh, "link-refresh", 5*time.Second, "Link state polling interval for the asicdb backend")
}

func serve(ctx context.Context) error {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })

	if err := warmBoot(ctx, s); err != nil {
		cancel()
		g.Wait()
		return err
	}

	sp := spool.New(cfg.SpoolDir, s.Apply)
	g.Go(func() error { return sp.Run(ctx) })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			util.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !s.backend.static() {
		g.Go(func() error {
			refreshLinks(ctx, s, linkRefresh)
			return nil
		})
	}

	util.WithField("switch", s.backend.switchID).Info("agent ready")
	return g.Wait()
}

func refreshLinks(ctx context.Context, s *session, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.RefreshLinks(ctx); err != nil && ctx.Err() == nil {
				util.WithError(err).Warn("link refresh failed")
			}
		}
	}
}
