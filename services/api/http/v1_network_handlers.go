package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/db"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/state"
)

const defaultHistoryLimit = 200

func viewMeta(v state.View, count int) gin.H {
	meta := gin.H{
		"loading":    v.Loading,
		"error":      v.Error,
		"version":    v.Version,
		"from_cache": v.FromCache,
		"count":      count,
	}
	if !v.UpdatedAt.IsZero() {
		meta["updated_at"] = v.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

// notReady answers 503 while no tree, cached or fetched, exists yet.
func notReady(c *gin.Context, v state.View) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "network not loaded yet",
		"meta":  viewMeta(v, 0),
	})
}

// handleV1ListModules returns the current module tree with its load state
// GET /api/v1/network/modules
func (s *Server) handleV1ListModules(c *gin.Context) {
	view := s.state.Snapshot()
	modules := view.Modules
	if modules == nil {
		modules = []network.Module{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": modules,
		"meta": viewMeta(view, len(modules)),
	})
}

// GET /api/v1/network/modules/:id
func (s *Server) handleV1GetModule(c *gin.Context) {
	view := s.state.Snapshot()
	if !view.Ready() {
		notReady(c, view)
		return
	}

	module, ok := network.FindModule(view.Modules, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": module,
		"meta": viewMeta(view, len(module.Points)),
	})
}

// GET /api/v1/network/points/:id
func (s *Server) handleV1GetPoint(c *gin.Context) {
	view := s.state.Snapshot()
	if !view.Ready() {
		notReady(c, view)
		return
	}

	module, point, ok := network.FindPoint(view.Modules, c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery point not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": point,
		"meta": gin.H{
			"module_id":   module.ID,
			"module_code": module.Code,
			"version":     view.Version,
		},
	})
}

// handleV1PointMeasurements reads a point's stored history from the database
// GET /api/v1/network/points/:id/measurements?last_n=&start=&end=
func (s *Server) handleV1PointMeasurements(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "measurement history not available"})
		return
	}
	pointID := c.Param("id")

	limit := defaultHistoryLimit
	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_n"})
			return
		}
		limit = parsed
	}

	var since, until *time.Time
	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		tt := t.UTC()
		since = &tt
	}
	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		tt := t.UTC()
		until = &tt
	}
	if since != nil && until != nil && until.Before(*since) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end is before start"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	measurements, err := s.history.ListMeasurements(ctx, db.MeasurementQuery{
		PointID: pointID,
		Limit:   limit,
		Since:   since,
		Until:   until,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": measurements,
		"meta": gin.H{
			"point_id": pointID,
			"count":    len(measurements),
		},
	})
}

// handleV1Refresh forces a bulk rebuild. With ?async=true it returns
// immediately and the rebuild runs in the background.
// POST /api/v1/network/refresh
func (s *Server) handleV1Refresh(c *gin.Context) {
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		s.state.RefreshAsync("http request")
		c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
		return
	}

	if err := s.state.Refresh(c.Request.Context()); err != nil {
		view := s.state.Snapshot()
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"meta":  viewMeta(view, len(view.Modules)),
		})
		return
	}

	view := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "refreshed",
		"meta":   viewMeta(view, len(view.Modules)),
	})
}
