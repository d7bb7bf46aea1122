// Package server exposes the part master over HTTP: part lookup, ad-hoc
// uploads, artifact downloads, and a refresh trigger.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/partmaster/internal/config"
	"github.com/sells-group/partmaster/internal/monitoring"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/pipeline"
	"github.com/sells-group/partmaster/internal/source"
)

// PreviewRows caps the rows echoed back from an upload.
const PreviewRows = 50

// Runner is the part of pipeline.Pipeline the server drives.
type Runner interface {
	Refresh(ctx context.Context) (*pipeline.RunResult, error)
	ProcessUploads(ctx context.Context, uploads []source.Upload) (*pipeline.UploadResult, error)
}

// Server holds handler dependencies.
type Server struct {
	cfg       *config.Config
	runner    Runner
	store     partstore.Store
	limiter   *rate.Limiter
	alerter   *monitoring.Alerter
	uploadDir string

	// baseCtx outlives requests so background refreshes are not cancelled
	// when the triggering request returns.
	baseCtx context.Context

	running atomic.Bool
	mu      sync.Mutex
	last    *refreshStatus
}

type refreshStatus struct {
	Result     *pipeline.RunResult `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
	FinishedAt time.Time           `json:"finished_at"`
}

// New creates a Server. baseCtx bounds background refreshes.
func New(baseCtx context.Context, cfg *config.Config, runner Runner, st partstore.Store) *Server {
	limit := rate.Inf
	if cfg.Server.RefreshRPS > 0 {
		limit = rate.Limit(cfg.Server.RefreshRPS)
	}
	return &Server{
		cfg:       cfg,
		runner:    runner,
		store:     st,
		limiter:   rate.NewLimiter(limit, 1),
		alerter:   monitoring.NewAlerter(cfg.Monitoring),
		uploadDir: filepath.Join(cfg.Output.Dir, "output"),
		baseCtx:   baseCtx,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/parts", func(r chi.Router) {
		r.Get("/", s.handleListParts)
		r.Get("/{partNumber}", s.handleGetPart)
	})
	r.Get("/columns", s.handleColumns)

	r.Post("/upload", s.handleUpload)
	r.Get("/download/{filename}", s.handleDownload)
	r.Post("/download/selected", s.handleDownloadSelected)

	r.Post("/refresh", s.handleRefresh)
	r.Get("/refresh", s.handleRefreshStatus)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
