package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	cfgpkg "github.com/local/imagedescriber/internal/config"
	"github.com/local/imagedescriber/internal/health"
	"github.com/local/imagedescriber/internal/limiter"
	logpkg "github.com/local/imagedescriber/internal/logger"
	"github.com/local/imagedescriber/internal/metrics"
	"github.com/local/imagedescriber/internal/server"
	"github.com/local/imagedescriber/internal/source"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API (default)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			Usage:   "Listen port, overrides PORT",
			Aliases: []string{"p"},
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := bootstrap(nil)
		if err != nil {
			return err
		}
		defer logpkg.Close()
		if p := c.String("port"); p != "" {
			cfg.Server.Port = p
		}
		return serve(c.Context, cfg)
	},
}

func serve(ctx context.Context, cfg *cfgpkg.Config) error {
	metrics.Init()

	svc, lim := newService(ctx, cfg)
	defer lim.CloseClient()

	deps := server.Dependencies{
		Describer: svc,
		Health:    newChecker(ctx, cfg, lim),
		Config:    cfg.Server,
	}
	if f := source.New(sourceOptions(cfg)); f.Enabled() {
		deps.Fetcher = f
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Bool("remote_refs", deps.Fetcher != nil).
			Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-stop:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func sourceOptions(cfg *cfgpkg.Config) source.Options {
	return source.Options{
		AllowRemote: cfg.Source.AllowRemote,
		MaxBytes:    cfg.Source.MaxBytes,
		TempDir:     cfg.Server.UploadDir,
		S3Endpoint:  cfg.Source.S3Endpoint,
		S3Region:    cfg.Source.S3Region,
		S3AccessKey: cfg.Source.S3AccessKey,
		S3SecretKey: cfg.Source.S3SecretKey,
	}
}

// newChecker reports only the dependencies that are actually configured.
func newChecker(ctx context.Context, cfg *cfgpkg.Config, lim *limiter.Adaptive) *health.Checker {
	opts := health.Options{
		Token:    cfg.Upstream.Token,
		Model:    cfg.Upstream.Model,
		S3Bucket: cfg.Source.S3Bucket,
	}
	if lim.Redis() != nil {
		opts.Redis = lim
	}
	if cfg.Source.S3Bucket != "" {
		cli, err := source.NewS3Client(ctx, sourceOptions(cfg))
		if err != nil {
			log.Warn().Err(err).Msg("s3 health check disabled")
		} else {
			opts.S3 = cli
		}
	}
	return health.New(opts)
}
