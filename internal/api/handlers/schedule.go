package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-narrator/internal/scheduler"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// ScheduleHandler exposes scheduler stats and manual runs
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(s *scheduler.Scheduler, log *logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s, logger: log}
}

// GetJobs returns stats for every scheduled job
// GET /api/schedule/jobs
func (h *ScheduleHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.GetJobStats())
}

// RunJob runs a job now and waits for it
// POST /api/schedule/jobs/{name}/run
func (h *ScheduleHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	result, err := h.scheduler.RunNow(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"job":     name,
		"success": result.Success,
	}).Info("Manual job run finished")
	respondJSON(w, http.StatusOK, result)
}
