// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glycoscope/glycoscope/services/insights/handlers"
)

// SetupRoutes mounts the insights API onto router.
func SetupRoutes(router *gin.Engine, d handlers.Deps) {
	handlers.RegisterValidators()

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/analysis/trigger", handlers.TriggerAnalysis(d))
		v1.GET("/jobs/:jobId", handlers.GetJobStatus(d))

		users := v1.Group("/users/:userId")
		{
			users.GET("/summary", handlers.GetDashboardSummary(d))
			users.GET("/causal-links", handlers.GetCausalLinks(d))
			users.GET("/patterns", handlers.GetPatterns(d))
			users.GET("/rules", handlers.GetAssociationRules(d))
			users.POST("/invalidate", handlers.InvalidateUser(d))
		}
	}
}
