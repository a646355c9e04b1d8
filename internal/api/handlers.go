package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/codingofficer/internal/batch"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/pkg/models"
)

const recentRunCount = 5

// StartRequest is the body of POST /api/v1/coding/start
type StartRequest struct {
	// Test runs a small test batch of batch.test_limit rows
	Test bool `json:"test"`
	// Limit overrides batch.limit for a full run; 0 keeps the configured value
	Limit int `json:"limit"`
}

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	State      models.RunState    `json:"state"`
	Running    bool               `json:"running"`
	Progress   int                `json:"progress"`
	Coded      int                `json:"coded"`
	Pending    int                `json:"pending"`
	Current    *batch.Summary     `json:"current,omitempty"`
	Last       *batch.Summary     `json:"last,omitempty"`
	RecentRuns []models.RunRecord `json:"recent_runs"`
	ConfigErr  string             `json:"config_error,omitempty"`
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	coded, pending, err := s.store.CountPrompts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count prompts")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read coding progress")
	}
	runs, err := s.store.RecentRuns(ctx, recentRunCount)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read recent runs")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read recent runs")
	}
	if runs == nil {
		runs = make([]models.RunRecord, 0)
	}

	response := StatusResponse{
		State:      models.RunStateIdle,
		Running:    s.hub.Running(),
		Progress:   s.hub.Progress(),
		Coded:      coded,
		Pending:    pending,
		RecentRuns: runs,
	}
	if s.dispatcher != nil {
		response.State = s.dispatcher.State()
		response.Current = s.dispatcher.Current()
		response.Last = s.dispatcher.LastSummary()
	}
	if s.dispatchErr != nil {
		response.ConfigErr = s.dispatchErr.Error()
	}
	return c.JSON(http.StatusOK, response)
}

// startCoding handles POST /api/v1/coding/start. The run continues after the
// response is sent.
func (s *Server) startCoding(c echo.Context) error {
	var req StartRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
	}
	if req.Limit < 0 && req.Limit != -1 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be -1 or a positive number")
	}

	if s.dispatchErr != nil {
		s.hub.Notify(notify.Error, notify.MsgConfigInvalid, s.dispatchErr.Error())
		return echo.NewHTTPError(http.StatusBadRequest, s.dispatchErr.Error())
	}

	limit := s.cfg.RunLimit(req.Test)
	if !req.Test && req.Limit != 0 {
		limit = req.Limit
	}

	summary, err := s.dispatcher.Start(s.runCtx, limit)
	switch {
	case errors.Is(err, batch.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, "A coding run is already in progress")
	case errors.Is(err, batch.ErrNoPendingRows):
		return c.JSON(http.StatusOK, map[string]interface{}{
			"started": false,
			"message": "No rows waiting for coding",
		})
	case err != nil:
		log.Error().Err(err).Msg("Failed to start coding run")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to start coding run")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"started": true,
		"run":     summary,
	})
}

// stopCoding handles POST /api/v1/coding/stop
func (s *Server) stopCoding(c echo.Context) error {
	stopping := s.dispatcher != nil && s.dispatcher.Stop()
	return c.JSON(http.StatusOK, map[string]bool{"stopping": stopping})
}

// getNotifications handles GET /api/v1/notifications?after=<seq>
func (s *Server) getNotifications(c echo.Context) error {
	var after uint64
	if afterStr := c.QueryParam("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid after parameter")
		}
		after = parsed
	}

	lines := s.hub.Lines(after)
	next := after
	if len(lines) > 0 {
		next = lines[len(lines)-1].Seq
	}

	text := make([]string, 0, len(lines))
	for _, line := range lines {
		text = append(text, line.String())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lines":    lines,
		"text":     text,
		"next":     next,
		"running":  s.hub.Running(),
		"progress": s.hub.Progress(),
	})
}

// exportResults handles POST /api/v1/export. The file always goes to the
// configured export directory.
func (s *Server) exportResults(c echo.Context) error {
	if s.hub.Running() {
		return echo.NewHTTPError(http.StatusConflict, "Wait for the coding run to finish before exporting")
	}

	result, err := s.exporter.Export(c.Request().Context(), "")
	if err != nil {
		log.Error().Err(err).Msg("Export failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
