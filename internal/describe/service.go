package describe

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/metrics"
)

// Result is a successful description.
type Result struct {
	Description string
	Shape       Shape
	Model       string
}

// Service runs the build, call, extract pipeline for one image.
type Service struct {
	client *Client
	opts   PayloadOptions
}

// NewService wires a Client with payload options. opts.Model defaults to the
// client's model.
func NewService(client *Client, opts PayloadOptions) *Service {
	if opts.Model == "" {
		opts.Model = client.Model()
	}
	return &Service{client: client, opts: opts}
}

// Describe sends img upstream and returns the extracted description.
func (s *Service) Describe(ctx context.Context, img Image) (Result, error) {
	if img.DataURL() == "" {
		return Result{}, &ValidationError{Message: MsgImageMissing}
	}
	payload, err := BuildPayload(img, s.opts)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	raw, err := s.client.Do(ctx, payload)
	if err != nil {
		return Result{}, err
	}

	ex, err := Extract(raw)
	if err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("kind", string(KindOf(err))).
			Str("body", truncate(string(raw), 512)).
			Msg("no description in upstream response")
		return Result{}, err
	}
	metrics.IncShape(string(ex.Shape))

	log.Ctx(ctx).Info().
		Str("model", s.opts.Model).
		Str("shape", string(ex.Shape)).
		Str("mime", img.MIME()).
		Int("chars", len(ex.Description)).
		Dur("duration", time.Since(start)).
		Msg("image described")
	return Result{Description: ex.Description, Shape: ex.Shape, Model: s.opts.Model}, nil
}
