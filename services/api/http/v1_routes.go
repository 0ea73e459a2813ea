package http

// registerV1Routes sets up the v1 API.
// Groups: /api/v1/network, /api/v1/live, /api/v1/calendar
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())
	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	// Network endpoints - the aggregated module tree
	network := v1.Group("/network")
	{
		network.GET("/modules", s.handleV1ListModules)
		network.GET("/modules/:id", s.handleV1GetModule)
		network.GET("/points/:id", s.handleV1GetPoint)
		network.GET("/points/:id/measurements", s.handleV1PointMeasurements)
		network.POST("/refresh", s.handleV1Refresh)
	}

	// Live endpoints - interpolated volumes between samples
	live := v1.Group("/live")
	{
		live.GET("/modules", s.handleV1LiveModules)
		live.GET("/stream", s.handleV1LiveStream)
	}

	v1.GET("/calendar/today", s.handleV1CalendarToday)
}
