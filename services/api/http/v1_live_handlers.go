package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// viewedDate returns the date query parameter, defaulting to today.
func (s *Server) viewedDate(c *gin.Context) (string, bool) {
	date := c.Query("date")
	if date == "" {
		return s.calendar.Today(), true
	}
	if _, err := s.calendar.StartOfDay(date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return "", false
	}
	return date, true
}

// handleV1LiveModules returns the tree with volumes extrapolated to now
// GET /api/v1/live/modules?date=YYYY-MM-DD
func (s *Server) handleV1LiveModules(c *gin.Context) {
	date, ok := s.viewedDate(c)
	if !ok {
		return
	}

	view := s.state.Snapshot()
	if !view.Ready() {
		notReady(c, view)
		return
	}

	now := s.calendar.Now()
	overlay := s.live.Overlay(view.Modules, now, date)

	c.JSON(http.StatusOK, gin.H{
		"data": overlay,
		"meta": gin.H{
			"date":              date,
			"is_today":          s.calendar.IsTodayDate(date),
			"computed_at":       now.UTC().Format(time.RFC3339),
			"drift_cap_seconds": s.live.DriftCap().Seconds(),
			"version":           view.Version,
			"count":             len(overlay),
		},
	})
}

// GET /api/v1/calendar/today
func (s *Server) handleV1CalendarToday(c *gin.Context) {
	now := s.calendar.Now()
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"date":     s.calendar.DateString(now),
			"timezone": s.calendar.Location().String(),
			"now":      now.In(s.calendar.Location()).Format(time.RFC3339),
		},
	})
}
