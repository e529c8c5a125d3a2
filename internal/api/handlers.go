package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/auction-intake/internal/learning"
	"github.com/sells-group/auction-intake/internal/model"
	"github.com/sells-group/auction-intake/internal/quality"
)

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Source          model.Source             `json:"source"`
	Score           float64                  `json:"score"`
	MatchedPatterns []string                 `json:"matched_patterns"`
	Classified      bool                     `json:"classified"`
	Quality         model.TextQualityMetrics `json:"quality"`
}

func handleClassify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "text is required")
			return
		}
		res := deps.Classifier.Classify(req.Text)
		writeJSON(w, http.StatusOK, classifyResponse{
			Source:          res.Source,
			Score:           res.Score,
			MatchedPatterns: res.MatchedPatterns,
			Classified:      res.Classified(),
			Quality:         quality.Analyze(req.Text),
		})
	}
}

type locationRequest struct {
	Address  string `json:"address"`
	Context  string `json:"context"`
	Format   string `json:"format"`
	Position string `json:"position"`
}

func handleClassifyLocation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req locationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Address) == "" {
			httpError(w, http.StatusBadRequest, "address is required")
			return
		}
		writeJSON(w, http.StatusOK, deps.Locations.Classify(req.Address, req.Context, req.Format, req.Position))
	}
}

type createJobRequest struct {
	RunIDs []int64 `json:"run_ids"`
	Start  bool    `json:"start"`
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.RunIDs) == 0 {
			httpError(w, http.StatusBadRequest, "run_ids is required")
			return
		}
		id := deps.Queue.Create(req.RunIDs)
		started := false
		if req.Start {
			started = deps.Queue.Start(id, deps.Processor)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"job_id": id, "started": started})
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": deps.Queue.List()})
	}
}

func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, ok := deps.Queue.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "job %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleJobResults(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, ok := deps.Queue.Results(id)
		if !ok {
			httpError(w, http.StatusNotFound, "job %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleStartJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, ok := deps.Queue.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "job %s not found", id)
			return
		}
		if !deps.Queue.Start(id, deps.Processor) {
			httpError(w, http.StatusConflict, "job %s cannot start from %s", id, st.Status)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "started": true})
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, ok := deps.Queue.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "job %s not found", id)
			return
		}
		if !deps.Queue.Cancel(id) {
			httpError(w, http.StatusConflict, "job %s is not running (%s)", id, st.Status)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "cancelling": true})
	}
}

type correctionsRequest struct {
	Corrections   []learning.Correction `json:"corrections"`
	MarkValidated bool                  `json:"mark_validated"`
}

func handleSubmitCorrections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || runID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid run id")
			return
		}
		var req correctionsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Corrections) == 0 {
			httpError(w, http.StatusBadRequest, "corrections is required")
			return
		}
		saved, errCount := deps.Learning.SubmitCorrections(r.Context(), runID, req.Corrections, req.MarkValidated)
		writeJSON(w, http.StatusOK, map[string]int{"saved": saved, "errors": errCount})
	}
}

func handleFormatRules(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := formatID(deps.Catalog, chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "unknown format %s", chi.URLParam(r, "id"))
			return
		}
		rules, err := deps.Learning.Rules(r.Context(), id)
		if err != nil {
			zap.L().Error("api: list rules", zap.Int("format_id", id), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "list rules failed")
			return
		}
		if rules == nil {
			rules = []model.LearnedRule{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"format_id": id, "rules": rules})
	}
}

func handleFormatStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := formatID(deps.Catalog, chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "unknown format %s", chi.URLParam(r, "id"))
			return
		}
		stats, err := deps.Learning.Stats(r.Context(), id)
		if err != nil {
			zap.L().Error("api: format stats", zap.Int("format_id", id), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "format stats failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleLearn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := formatID(deps.Catalog, chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "unknown format %s", chi.URLParam(r, "id"))
			return
		}
		summary, err := deps.Learning.Learn(r.Context(), id)
		if err != nil {
			zap.L().Error("api: learn", zap.Int("format_id", id), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "learning pass failed")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
