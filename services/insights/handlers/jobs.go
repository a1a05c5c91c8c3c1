// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

// RegisterValidators installs the custom binding validators. Call once
// before mounting routes.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// Already-registered validators return an error only for empty
		// names; safe to ignore here.
		_ = v.RegisterValidation("analysiskind", func(fl validator.FieldLevel) bool {
			return datatypes.AnalysisKind(fl.Field().String()).Valid()
		})
	}
}

// TriggerAnalysis accepts an on-demand run request:
// POST /v1/analysis/trigger
//
// Responds 202 with the job id. A duplicate trigger while a job for the
// same (user, kind) is in flight returns that job's id with
// deduplicated=true; malformed requests are rejected synchronously and
// never create a job.
func TriggerAnalysis(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trigger request: " + err.Error()})
			return
		}

		jobID, created, err := d.Orch.Trigger(c.Request.Context(), req.UserID, req.Kind)
		if err != nil {
			if errors.Is(err, datatypes.ErrInvalidParameter) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("trigger failed", "user_id", req.UserID, "kind", req.Kind, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, datatypes.TriggerResponse{
			JobID:        jobID,
			Deduplicated: !created,
		})
	}
}

// GetJobStatus serves one job's lifecycle record:
// GET /v1/jobs/:jobId
func GetJobStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobId")
		job, err := d.Store.GetJob(jobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found", "job_id": jobID})
				return
			}
			slog.Error("job lookup failed", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// InvalidateUser drops every cached artifact for a user:
// POST /v1/users/:userId/invalidate
//
// Called when new raw data materially changes the inputs, e.g. after a
// bulk historical upload. Durable results are untouched; the next query
// repopulates the cache from the store, and the next run replaces the
// results themselves.
func InvalidateUser(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathUserID(c)
		if !ok {
			return
		}
		dropped := d.Cache.Invalidate(userID)
		slog.Info("cache invalidated", "user_id", userID, "entries_dropped", dropped)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "entries_dropped": dropped})
	}
}

// HealthCheck reports liveness: GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "insights"})
}
