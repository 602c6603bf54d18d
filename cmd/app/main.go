package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	cfgpkg "github.com/local/imagedescriber/internal/config"
	"github.com/local/imagedescriber/internal/describe"
	"github.com/local/imagedescriber/internal/limiter"
	logpkg "github.com/local/imagedescriber/internal/logger"
)

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		if errors.Is(err, cfgpkg.ErrMissingCredential) {
			log.Fatal().Err(err).Msg("GitHub token missing")
		}
		log.Fatal().Err(err).Msg("imagedescriber failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "imagedescriber",
		Usage:          "Describe images with a hosted vision model",
		Commands:       []*cli.Command{serveCommand, describeCommand},
		DefaultCommand: "serve",
	}
}

// bootstrap loads configuration and initializes logging. A missing upstream
// credential is returned as is so main can exit before serving anything.
func bootstrap(logOut io.Writer) (*cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load()
	if err != nil {
		return nil, err
	}
	err = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
		Out:          logOut,
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService wires the limiter, upstream client and describe pipeline.
// Optional pieces that fail to initialize are logged and disabled; only the
// credential check in bootstrap stops the process.
func newService(ctx context.Context, cfg *cfgpkg.Config) (*describe.Service, *limiter.Adaptive) {
	switch cfg.Upstream.Flavor {
	case describe.FlavorChat, describe.FlavorResponses:
	default:
		log.Warn().Str("flavor", cfg.Upstream.Flavor).Msg("unknown UPSTREAM_API, using chat")
		cfg.Upstream.Flavor = describe.FlavorChat
	}

	limOpts := limiter.Options{
		RedisURL:         cfg.Breaker.RedisURL,
		MaxInflight:      cfg.Upstream.MaxInflight,
		BaseBackoff:      cfg.Breaker.BaseBackoff,
		MaxBackoff:       cfg.Breaker.MaxBackoff,
		FailureThreshold: cfg.Breaker.FailureThreshold,
	}
	lim, err := limiter.New(ctx, limOpts)
	if err != nil {
		log.Warn().Err(err).Msg("circuit breaker disabled")
		limOpts.RedisURL = ""
		lim, _ = limiter.New(ctx, limOpts)
	}

	client := describe.NewClient(describe.ClientOptions{
		BaseURL:        cfg.Upstream.BaseURL,
		Path:           cfg.UpstreamPath(),
		Token:          cfg.Upstream.Token,
		Model:          cfg.Upstream.Model,
		Timeout:        cfg.Upstream.Timeout,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		RetryBaseDelay: cfg.Upstream.RetryBaseDelay,
		Guard:          lim,
	})
	log.Info().
		Str("endpoint", client.Endpoint()).
		Str("model", client.Model()).
		Str("flavor", cfg.Upstream.Flavor).
		Bool("breaker", lim.Redis() != nil).
		Msg("upstream client ready")

	svc := describe.NewService(client, describe.PayloadOptions{
		Flavor:      cfg.Upstream.Flavor,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
	})
	return svc, lim
}
