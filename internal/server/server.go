package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/imagedescriber/internal/config"
	"github.com/local/imagedescriber/internal/describe"
	"github.com/local/imagedescriber/internal/health"
	"github.com/local/imagedescriber/internal/metrics"
)

// Describer turns a normalized image into a description.
type Describer interface {
	Describe(ctx context.Context, img describe.Image) (describe.Result, error)
}

// Fetcher downloads a remote image reference into a caller-owned temp file.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// Readiness reports dependency status for /health/ready.
type Readiness interface {
	Summary(ctx context.Context) health.Summary
}

// Dependencies groups what the HTTP surface needs. Fetcher and Health are optional.
type Dependencies struct {
	Describer Describer
	Fetcher   Fetcher
	Health    Readiness
	Config    config.ServerConfig
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.Config.MaxBodyBytes <= 0 {
		deps.Config.MaxBodyBytes = 10 << 20
	}
	return &Server{deps: deps}
}

// RegisterRoutes mounts the API, health, metrics and static routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/analyze-image", s.analyzeHandler("analysis"))
	mux.HandleFunc("/analyze", s.analyzeHandler("result"))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	if s.deps.Config.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.deps.Config.StaticDir)))
	}
}

// Handler returns the routed mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	var h http.Handler = mux
	h = recoverPanic(h)
	h = cors(s.deps.Config.CORSOrigin, h)
	h = accessLog(h)
	h = withRequestContext(h)
	return h
}

func (s *Server) analyzeHandler(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.Config.MaxBodyBytes)

		img, err := s.readImage(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.deps.Describer.Describe(r.Context(), img)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{key: res.Description})
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	sum := s.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !sum.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := describe.KindOf(err)
	body := errorBody{Error: describe.PublicMessage(err), Kind: string(kind)}
	if raw := describe.RawPayload(err); raw != "" {
		if json.Valid([]byte(raw)) {
			body.Details = json.RawMessage(raw)
		} else {
			body.Details = raw
		}
	} else if kind == describe.KindUpstreamHTTP {
		body.Details = err.Error()
	}

	ev := log.Ctx(r.Context()).Warn()
	if kind != describe.KindValidation {
		ev = log.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("kind", string(kind)).Msg("request failed")

	writeJSON(w, describe.HTTPStatus(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
