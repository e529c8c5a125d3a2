// Package api exposes classification, batch jobs and correction learning
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/batch"
	"github.com/sells-group/auction-intake/internal/classify"
	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/learning"
	"github.com/sells-group/auction-intake/internal/model"
)

const maxBodySize = 1 << 20

// Classifier picks the invoice format of a text.
type Classifier interface {
	Classify(text string) classify.Result
}

// LocationClassifier labels address text as pickup or delivery.
type LocationClassifier interface {
	Classify(address, context, formatHint, positionHint string) model.ClassifiedLocation
}

// Learner records corrections and serves learned rules.
type Learner interface {
	SubmitCorrections(ctx context.Context, runID int64, corrections []learning.Correction, markValidated bool) (saved, errCount int)
	Learn(ctx context.Context, formatID int) (learning.LearnSummary, error)
	Rules(ctx context.Context, formatID int) ([]model.LearnedRule, error)
	Stats(ctx context.Context, formatID int) (model.FormatStats, error)
}

// Deps are the handler's collaborators.
type Deps struct {
	Queue       *batch.Queue
	Processor   batch.Processor
	Classifier  Classifier
	Locations   LocationClassifier
	Learning    Learner
	Catalog     *formats.Catalog
	CORSOrigins []string
}

// NewHandler builds the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Post("/classify", handleClassify(deps))
	r.Post("/locations/classify", handleClassifyLocation(deps))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", handleCreateJob(deps))
		r.Get("/", handleListJobs(deps))
		r.Get("/{id}", handleJobStatus(deps))
		r.Get("/{id}/results", handleJobResults(deps))
		r.Post("/{id}/start", handleStartJob(deps))
		r.Post("/{id}/cancel", handleCancelJob(deps))
	})

	r.Post("/runs/{id}/corrections", handleSubmitCorrections(deps))

	r.Route("/formats/{id}", func(r chi.Router) {
		r.Get("/rules", handleFormatRules(deps))
		r.Get("/stats", handleFormatStats(deps))
		r.Post("/learn", handleLearn(deps))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"code":    code,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

// formatID resolves the {id} path parameter, a numeric id or a format code.
func formatID(catalog *formats.Catalog, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.Atoi(raw); err == nil {
		if catalog == nil {
			return id, id > 0
		}
		_, ok := catalog.ByID(id)
		return id, ok
	}
	if catalog == nil {
		return 0, false
	}
	p, ok := catalog.ByCode(raw)
	if !ok {
		return 0, false
	}
	return p.ID, true
}
