package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voicecollect/internal/api"
	"voicecollect/internal/audio"
	"voicecollect/internal/ingest"
	"voicecollect/internal/metrics"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d := newDeps(cfg)
		defer d.Close()

		m := metrics.New()

		queue, err := d.queue(ctx)
		if err != nil {
			return err
		}

		gateway, err := d.gateway(ctx, m)
		if err != nil {
			return err
		}

		opts := []ingest.Option{
			ingest.WithCollisionPolicy(model.CollisionPolicy(cfg.Storage.CollisionPolicy)),
			ingest.WithCommitTimeout(cfg.Ingest.CommitTimeout),
			ingest.WithRecorder(m),
			ingest.WithNotifier(d.notifier()),
		}
		if mq := d.publisher(); mq != nil {
			opts = append(opts, ingest.WithPublisher(mq))
		}

		normalizer := audio.NewNormalizer(
			audio.WithTargetChannels(cfg.Audio.TargetChannels),
			audio.WithMaxInputBytes(cfg.Audio.MaxInputBytes),
		)
		svc := ingest.NewService(queue, normalizer, gateway, opts...)

		handler := api.NewHandler(queue, svc,
			api.WithMetrics(m.Handler()),
			api.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
			api.WithAllowedOrigin(cfg.Server.AllowedOrigin),
		)

		server := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTP server listening",
				zap.String("addr", cfg.Server.Addr),
				zap.String("provider", gateway.ProviderName()),
				zap.String("queue", cfg.Queue.Backend))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			logger.Info("Shutting down HTTP server")
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		logger.Info("HTTP server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
