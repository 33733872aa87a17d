package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	defaultURLLimit = 100
	maxURLLimit     = 1000
	storeTimeout    = 5 * time.Second
)

// listSites handles GET /v1/sites.
func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	sites, err := s.catalog.ListSites(ctx)
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	if sites == nil {
		sites = []indexer.Site{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

// listURLs handles GET /v1/urls?site_id=&limit=&offset=.
func (s *Server) listURLs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultURLLimit, maxURLLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := indexer.URLFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("site_id")); raw != "" {
		siteID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || siteID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid site_id")
			return
		}
		filter.SiteID = &siteID
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	urls, err := s.catalog.ListURLs(ctx, filter)
	if err != nil {
		s.logger.Error("list urls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list urls")
		return
	}
	if urls == nil {
		urls = []indexer.URL{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

// startRun handles POST /v1/runs. The run is queued and 202 is returned
// immediately with its record.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.launcher.Launch(r.Context(), indexer.TriggerAPI)
	if err != nil {
		s.logger.Error("start run failed", zap.String("run_id", run.ID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

// listRuns handles GET /v1/runs?status=&limit=&offset=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := store.ParseRunStatus(strings.ToLower(raw))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	runs, err := s.runs.ListRuns(ctx, status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /v1/runs/{run_id}. It returns the run record and its
// step checkpoints, or 404 when the run is unknown.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		s.logger.Error("list steps failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run steps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":   run,
		"steps": toStepDTOs(steps),
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// stepDTO leaves out the checkpointed result payload.
type stepDTO struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toStepDTOs(in []store.Step) []stepDTO {
	out := make([]stepDTO, 0, len(in))
	for _, step := range in {
		out = append(out, stepDTO{
			Name:      step.Name,
			Status:    string(step.Status),
			Attempts:  step.Attempts,
			Error:     step.Error,
			UpdatedAt: step.UpdatedAt,
		})
	}
	return out
}
