// Package intake serves the legislation callback: an authenticated upload of a
// zipped XML package that is run through the harvest pipeline.
package intake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
)

// KeyHeader carries the shared key.
const KeyHeader = "X-API-Key"

// fileField is the multipart field holding the package.
const fileField = "file"

// Ingester runs an uploaded package through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, data []byte) (upsert.Report, error)
}

// HealthChecker reports whether the index is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Response is the status envelope returned for an upload.
type Response struct {
	Status  string `json:"status"`
	Total   int    `json:"total"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Ignored int    `json:"ignored"`
	Failed  int    `json:"failed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Config tunes the handler.
type Config struct {
	APIKey         string
	MaxUploadBytes int64
	// ScratchDir holds uploads while they are processed. Empty means os.TempDir.
	ScratchDir string
	// Timeout bounds one ingest run.
	Timeout time.Duration
}

// Handler implements the intake routes.
type Handler struct {
	ing    Ingester
	health HealthChecker
	cfg    Config
	log    *slog.Logger
}

// New returns a handler. health may be nil.
func New(ing Ingester, health HealthChecker, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Handler{ing: ing, health: health, cfg: cfg, log: log}
}

// Routes returns the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireKey)
		r.Post("/legislation", h.handleUpload)
	})
	return r
}

func (h *Handler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(KeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.APIKey)) != 1 {
			h.log.Warn("intake request rejected",
				slog.String("remote", r.RemoteAddr),
				slog.String("requestId", middleware.GetReqID(r.Context())),
			)
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "index unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("requestId", middleware.GetReqID(r.Context())))
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	file, header, err := r.FormFile(fileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("missing %q file field", fileField)})
		return
	}
	defer file.Close()

	data, err := h.stage(file)
	if err != nil {
		log.Error("stage upload", slog.String("file", header.Filename), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.Timeout)
	defer cancel()
	report, err := h.ing.Ingest(ctx, data)
	if err != nil {
		log.Error("ingest upload", slog.String("file", header.Filename), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	log.Info("upload ingested",
		slog.String("file", header.Filename),
		slog.Int("added", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("ignored", report.Ignored),
		slog.Int("failed", report.Failed),
	)
	writeJSON(w, http.StatusOK, Response{
		Status:  "ok",
		Total:   report.Total(),
		Added:   report.Inserted,
		Updated: report.Updated,
		Ignored: report.Ignored,
		Failed:  report.Failed,
	})
}

// stage copies the upload into a scratch directory that is removed once read.
func (h *Handler) stage(src io.Reader) ([]byte, error) {
	dir, err := os.MkdirTemp(h.cfg.ScratchDir, "intake-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "upload")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}
	return os.ReadFile(path)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
