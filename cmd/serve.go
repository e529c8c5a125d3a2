package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/api"
	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/config"
	"github.com/sells-group/auction-intake/internal/monitoring"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initIntake(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildHandler(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		retention := time.Duration(cfg.Batch.RetentionMinutes) * time.Minute
		go runCleanup(ctx, env.Queue, retention, cleanupInterval(retention))
		go newHealthChecker(env.Store, cfg.Monitoring).Run(ctx)

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if err := env.Queue.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("batch queue shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func buildHandler(env *intakeEnv) http.Handler {
	return api.NewHandler(api.Deps{
		Queue:       env.Queue,
		Processor:   env.Processor,
		Classifier:  env.Processor.Engine(),
		Locations:   env.Processor.Locations(),
		Learning:    env.Learning,
		Catalog:     env.Catalog,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
}

// cleanupInterval sweeps a few times per retention window, at most once a
// minute.
func cleanupInterval(retention time.Duration) time.Duration {
	iv := retention / 4
	if iv < time.Minute {
		iv = time.Minute
	}
	return iv
}

// runCleanup evicts settled jobs older than retention until ctx is done. A
// non-positive retention disables eviction.
func runCleanup(ctx context.Context, q *batch.Queue, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := q.Cleanup(retention); n > 0 {
				zap.L().Info("evicted settled batch jobs", zap.Int("count", n))
			}
		}
	}
}

func newHealthChecker(runs monitoring.RunLister, mcfg config.MonitoringConfig) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(runs), monitoring.NewAlerter(mcfg), mcfg)
}
