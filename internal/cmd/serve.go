package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/server"
	"github.com/zfogg/sidechain/lazyload/internal/service"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lazy load HTTP service",
	Long: `Runs one loader behind an HTTP API. Clients place images with
POST /v1/images, move the viewport with POST /v1/viewport and poll
GET /v1/images/:id. Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		rt, err := service.Build(ctx, cfg, service.ModeServer)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		viewport := lazyload.NewViewport(cfg.Viewport.Width, cfg.Viewport.Height, cfg.Viewport.RootMargin)
		loader := lazyload.New(rt.Fetcher, rt.LoaderOptions(viewport)...)
		defer loader.Close()

		srv := server.New(server.Config{
			Loader:          loader,
			Viewport:        viewport,
			Metrics:         rt.Metrics,
			Gatherer:        rt.Gatherer,
			TracerProvider:  rt.TracerProvider(),
			DefaultPriority: lazyload.Priority(cfg.Loader.DefaultPriority),
		})

		if err := srv.Run(ctx, addr); err != nil {
			return err
		}

		stats := loader.Stats()
		logger.Log.Info("Lazy load service stopped",
			zap.Uint64("loaded", stats.Loaded),
			zap.Uint64("errored", stats.Errored),
			zap.Int("queued", stats.Queued),
		)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}
