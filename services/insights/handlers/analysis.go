// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the insights service.
//
// Query handlers read through the result cache: a hit serves the
// mirrored payload, a miss falls back to the durable store and
// refreshes the cache. A user who has never completed a run gets an
// explicit "not yet analyzed" response, never a fabricated empty
// success; after a failed run the last successful results are served
// with last_run_failed set.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glycoscope/glycoscope/pkg/validation"
	"github.com/glycoscope/glycoscope/services/insights/cache"
	"github.com/glycoscope/glycoscope/services/insights/datatypes"
	"github.com/glycoscope/glycoscope/services/insights/observability"
	"github.com/glycoscope/glycoscope/services/insights/pipeline"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

const defaultSummaryDays = 30

// Deps bundles what the query handlers read from.
type Deps struct {
	Store   *store.Store
	Cache   *cache.Cache
	Orch    *pipeline.Orchestrator
	Metrics *observability.PipelineMetrics
}

func pathUserID(c *gin.Context) (string, bool) {
	userID := c.Param("userId")
	if err := validation.ValidateUserID(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return userID, true
}

// lastRunState resolves the freshness flags for one (user, kind).
func lastRunState(d Deps, userID string, kind datatypes.AnalysisKind) (run datatypes.LastRun, known bool) {
	run, ok, err := d.Store.GetLastRun(userID, kind)
	if err != nil {
		slog.Error("last run lookup failed", "user_id", userID, "kind", kind, "error", err)
		return datatypes.LastRun{}, false
	}
	return run, ok
}

// readThrough fetches the cached payload for (user, kind) into dst, or
// falls back to load() and refreshes the cache. dst must be a pointer
// to the mirrored slice type.
func readThrough[T any](d Deps, userID string, kind datatypes.AnalysisKind, load func() (T, error)) (T, error) {
	var result T
	key := d.Orch.CacheKey(userID, kind)
	if payload, ok := d.Cache.Get(key); ok {
		if err := json.Unmarshal(payload, &result); err == nil {
			if d.Metrics != nil {
				d.Metrics.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
			}
			return result, nil
		}
		// A corrupt entry falls through to the store.
	}
	if d.Metrics != nil {
		d.Metrics.CacheMissesTotal.WithLabelValues(string(kind)).Inc()
	}
	result, err := load()
	if err != nil {
		return result, err
	}
	if payload, err := json.Marshal(result); err == nil {
		d.Cache.Put(key, payload, d.Orch.CacheTTL())
	}
	return result, nil
}

func notYetAnalyzed(c *gin.Context, userID string, kind datatypes.AnalysisKind) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not yet analyzed",
		"user_id": userID,
		"kind":    kind,
	})
}

// GetDashboardSummary serves the period roll-up over stored daily
// aggregates: GET /v1/users/:userId/summary?days=N
func GetDashboardSummary(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathUserID(c)
		if !ok {
			return
		}
		days := defaultSummaryDays
		if raw := c.Query("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
				return
			}
			days = parsed
		}

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)
		aggs, err := d.Store.ListAggregates(userID,
			from.Format(datatypes.DateLayout), to.Format(datatypes.DateLayout))
		if err != nil {
			slog.Error("summary read failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read aggregates"})
			return
		}

		run, known := lastRunState(d, userID, datatypes.KindAggregate)
		if len(aggs) == 0 && !known {
			notYetAnalyzed(c, userID, datatypes.KindAggregate)
			return
		}

		summary := datatypes.DashboardSummary{
			UserID:        userID,
			PeriodDays:    days,
			DaysWithData:  len(aggs),
			LastRunFailed: run.LastRunFailed,
		}
		summary.GlucoseMean = featureMean(aggs, datatypes.FeatureGlucoseMean)
		summary.TimeInRangePct = featureMean(aggs, datatypes.FeatureTimeInRange)
		summary.SleepMinutesMean = featureMean(aggs, datatypes.FeatureSleepMinutes)
		summary.ExerciseMinutesMean = featureMean(aggs, datatypes.FeatureExerciseMinutes)
		summary.CarbGramsMean = featureMean(aggs, datatypes.FeatureCarbGrams)
		c.JSON(http.StatusOK, summary)
	}
}

func featureMean(aggs []datatypes.DailyAggregate, name datatypes.FeatureName) *float64 {
	var sum float64
	n := 0
	for _, a := range aggs {
		if v, ok := a.Feature(name); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}

// GetCausalLinks serves the user's discovered links:
// GET /v1/users/:userId/causal-links
func GetCausalLinks(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathUserID(c)
		if !ok {
			return
		}
		run, known := lastRunState(d, userID, datatypes.KindCausal)
		if !known {
			notYetAnalyzed(c, userID, datatypes.KindCausal)
			return
		}

		links, err := readThrough(d, userID, datatypes.KindCausal, func() ([]datatypes.CausalLink, error) {
			return d.Store.ListCausalLinks(userID)
		})
		if err != nil {
			slog.Error("causal links read failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read causal links"})
			return
		}
		if links == nil {
			links = []datatypes.CausalLink{}
		}
		c.JSON(http.StatusOK, datatypes.CausalLinksResponse{
			UserID:        userID,
			Links:         links,
			ComputedAt:    computedAt(run, linkTime(links)),
			LastRunFailed: run.LastRunFailed,
		})
	}
}

// GetPatterns serves one pattern kind:
// GET /v1/users/:userId/patterns?kind=motif|anomaly
func GetPatterns(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathUserID(c)
		if !ok {
			return
		}
		kind := datatypes.PatternKind(c.DefaultQuery("kind", string(datatypes.PatternMotif)))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be motif or anomaly"})
			return
		}
		run, known := lastRunState(d, userID, datatypes.KindPattern)
		if !known {
			notYetAnalyzed(c, userID, datatypes.KindPattern)
			return
		}

		// Patterns are mirrored as the full set; filter per kind here.
		all, err := readThrough(d, userID, datatypes.KindPattern, func() ([]datatypes.Pattern, error) {
			motifs, err := d.Store.ListPatterns(userID, datatypes.PatternMotif)
			if err != nil {
				return nil, err
			}
			anomalies, err := d.Store.ListPatterns(userID, datatypes.PatternAnomaly)
			if err != nil {
				return nil, err
			}
			return append(motifs, anomalies...), nil
		})
		if err != nil {
			slog.Error("patterns read failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read patterns"})
			return
		}
		patterns := []datatypes.Pattern{}
		for _, p := range all {
			if p.Kind == kind {
				patterns = append(patterns, p)
			}
		}
		c.JSON(http.StatusOK, datatypes.PatternsResponse{
			UserID:        userID,
			Kind:          kind,
			Patterns:      patterns,
			ComputedAt:    computedAt(run, patternTime(all)),
			LastRunFailed: run.LastRunFailed,
		})
	}
}

// GetAssociationRules serves rules above a confidence floor:
// GET /v1/users/:userId/rules?min_confidence=0.7
func GetAssociationRules(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := pathUserID(c)
		if !ok {
			return
		}
		minConfidence := 0.0
		if raw := c.Query("min_confidence"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed < 0 || parsed > 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "min_confidence must be in [0,1]"})
				return
			}
			minConfidence = parsed
		}
		run, known := lastRunState(d, userID, datatypes.KindRules)
		if !known {
			notYetAnalyzed(c, userID, datatypes.KindRules)
			return
		}

		all, err := readThrough(d, userID, datatypes.KindRules, func() ([]datatypes.AssociationRule, error) {
			return d.Store.ListRules(userID, 0)
		})
		if err != nil {
			slog.Error("rules read failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read rules"})
			return
		}
		rules := []datatypes.AssociationRule{}
		for _, r := range all {
			if r.Confidence >= minConfidence {
				rules = append(rules, r)
			}
		}
		c.JSON(http.StatusOK, datatypes.RulesResponse{
			UserID:        userID,
			MinConfidence: minConfidence,
			Rules:         rules,
			ComputedAt:    computedAt(run, ruleTime(all)),
			LastRunFailed: run.LastRunFailed,
		})
	}
}

// computedAt prefers the LastRun success time and falls back to the
// newest artifact timestamp.
func computedAt(run datatypes.LastRun, artifact time.Time) time.Time {
	if run.SucceededAt != nil {
		return *run.SucceededAt
	}
	return artifact
}

func linkTime(links []datatypes.CausalLink) time.Time {
	var t time.Time
	for _, l := range links {
		if l.ComputedAt.After(t) {
			t = l.ComputedAt
		}
	}
	return t
}

func patternTime(patterns []datatypes.Pattern) time.Time {
	var t time.Time
	for _, p := range patterns {
		if p.ComputedAt.After(t) {
			t = p.ComputedAt
		}
	}
	return t
}

func ruleTime(rules []datatypes.AssociationRule) time.Time {
	var t time.Time
	for _, r := range rules {
		if r.ComputedAt.After(t) {
			t = r.ComputedAt
		}
	}
	return t
}
