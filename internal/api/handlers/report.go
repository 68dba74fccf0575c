package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/internal/observe"
	"github.com/wonny/aegis-narrator/internal/pipeline"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// Runner runs one report request
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// QualityStore aggregates recorded outcomes per template version
type QualityStore interface {
	Summaries(ctx context.Context, template string) ([]observe.QualitySummary, error)
}

// ReportHandler handles report generation endpoints
// ⭐ SSOT: 리포트 API 핸들러는 여기서만
type ReportHandler struct {
	runner  Runner
	quality QualityStore // nil when the postgres sink is disabled
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(runner Runner, quality QualityStore, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		runner:  runner,
		quality: quality,
		logger:  log,
	}
}

// ReportRequest is the POST /api/reports body
type ReportRequest struct {
	Symbol          string                   `json:"symbol"`
	AsOf            string                   `json:"as_of"` // Optional: YYYY-MM-DD
	Template        string                   `json:"template"`
	TemplateVersion string                   `json:"template_version"`
	Payload         *contracts.MarketPayload `json:"payload"` // Optional: fetched upstream when absent
	Blocks          map[string]string        `json:"blocks"`
	DiagnosticRank  bool                     `json:"diagnostic_rank"`
}

// Generate runs the pipeline for one symbol
// POST /api/reports
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var body ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if body.Symbol == "" && (body.Payload == nil || body.Payload.Symbol == "") {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	req := pipeline.Request{
		Symbol:          body.Symbol,
		Payload:         body.Payload,
		Blocks:          body.Blocks,
		Template:        body.Template,
		TemplateVersion: body.TemplateVersion,
		DiagnosticRank:  body.DiagnosticRank,
	}
	if body.AsOf != "" {
		asOf, err := time.Parse("2006-01-02", body.AsOf)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'as_of' date format (expected YYYY-MM-DD)")
			return
		}
		req.AsOf = &asOf
	}

	res, err := h.runner.Run(r.Context(), req)
	if res == nil {
		h.logger.WithError(err).Error("Report request returned no result")
		respondError(w, http.StatusInternalServerError, "Report generation failed")
		return
	}

	respondJSON(w, statusFor(res, err), res)
}

// statusFor maps the outcome to an HTTP status. Gate failures are a normal 200
// response; callers read Outcome.
func statusFor(res *pipeline.Result, err error) int {
	switch res.Outcome {
	case contracts.OutcomeReleased, contracts.OutcomeGateFailed:
		return http.StatusOK
	case contracts.OutcomeInsufficientData:
		return http.StatusUnprocessableEntity
	case contracts.OutcomeAborted:
		return http.StatusGatewayTimeout
	}

	var mismatch *contracts.TemplateMismatchError
	switch {
	case errors.Is(err, contracts.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contracts.ErrRateLimited):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetQuality returns per-version outcome aggregates for a template
// GET /api/quality/{template}
func (h *ReportHandler) GetQuality(w http.ResponseWriter, r *http.Request) {
	if h.quality == nil {
		respondError(w, http.StatusServiceUnavailable, "Quality store not configured")
		return
	}

	template := mux.Vars(r)["template"]
	summaries, err := h.quality.Summaries(r.Context(), template)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get quality summaries")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve quality summaries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"template": template,
		"versions": summaries,
	})
}
