// Copyright (C) 2026 Glycoscope Labs (eng@glycoscope.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package insights assembles the analytics service: readings adapter,
// durable store, result cache, analysis components, orchestrator,
// cadence scheduler, and the HTTP API.
package insights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/glycoscope/glycoscope/pkg/logging"
	"github.com/glycoscope/glycoscope/services/insights/aggregate"
	"github.com/glycoscope/glycoscope/services/insights/cache"
	"github.com/glycoscope/glycoscope/services/insights/causal"
	"github.com/glycoscope/glycoscope/services/insights/handlers"
	"github.com/glycoscope/glycoscope/services/insights/motif"
	"github.com/glycoscope/glycoscope/services/insights/observability"
	"github.com/glycoscope/glycoscope/services/insights/pipeline"
	"github.com/glycoscope/glycoscope/services/insights/readings"
	"github.com/glycoscope/glycoscope/services/insights/routes"
	"github.com/glycoscope/glycoscope/services/insights/rules"
	"github.com/glycoscope/glycoscope/services/insights/store"
)

// ServiceName labels traces and log lines.
const ServiceName = "insights-service"

// Config holds the service-level settings. Component-level parameters
// (lags, thresholds, windows) use their package defaults.
type Config struct {
	Port string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// DataDir is the badger database directory. Empty means in-memory,
	// for tests and local development.
	DataDir string

	// Cadence is the interval between scheduled full sweeps.
	Cadence time.Duration

	Pipeline pipeline.Config
}

// ConfigFromEnv reads the service configuration from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Port:         os.Getenv("INSIGHTS_PORT"),
		InfluxURL:    os.Getenv("INFLUXDB_URL"),
		InfluxToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUXDB_ORG"),
		InfluxBucket: os.Getenv("INFLUXDB_BUCKET"),
		DataDir:      os.Getenv("INSIGHTS_DATA_DIR"),
		Pipeline:     pipeline.DefaultConfig(),
	}
	if cfg.Port == "" {
		cfg.Port = "12310"
	}
	if cfg.InfluxBucket == "" {
		cfg.InfluxBucket = "health-readings"
	}
	if raw := os.Getenv("INSIGHTS_CADENCE"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Cadence = d
		}
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = pipeline.DefaultCadence
	}
	return cfg
}

// Service is the assembled insights process.
type Service struct {
	cfg    Config
	log    *logging.Logger
	influx influxdb2.Client
	store  *store.Store
	cache  *cache.Cache
	orch   *pipeline.Orchestrator
	sched  *pipeline.Scheduler
	router *gin.Engine
}

// New wires the service together. The returned service owns its store
// and influx client; Run releases them on shutdown.
func New(cfg Config, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.Default()
	}
	if cfg.InfluxURL == "" {
		return nil, fmt.Errorf("INFLUXDB_URL is required")
	}

	influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	reader := readings.NewInfluxReader(influx.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket)

	var st *store.Store
	var err error
	if cfg.DataDir == "" {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(store.DefaultConfig(cfg.DataDir))
	}
	if err != nil {
		influx.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	resultCache := cache.New(nil)
	metrics := observability.InitMetrics()

	comp := pipeline.Components{
		Reader:     reader,
		Aggregator: aggregate.New(reader, aggregate.Config{}),
		Causal:     causal.New(causal.DefaultConfig()),
		Detector:   motif.New(motif.DefaultConfig()),
		Miner:      rules.New(rules.DefaultConfig()),
	}
	orch := pipeline.New(st, resultCache, comp, metrics, log, cfg.Pipeline)
	sched := pipeline.NewScheduler(orch, st, cfg.Cadence, log)

	router := gin.Default()
	router.Use(otelgin.Middleware(ServiceName))
	routes.SetupRoutes(router, handlers.Deps{
		Store:   st,
		Cache:   resultCache,
		Orch:    orch,
		Metrics: metrics,
	})

	return &Service{
		cfg:    cfg,
		log:    log,
		influx: influx,
		store:  st,
		cache:  resultCache,
		orch:   orch,
		sched:  sched,
		router: router,
	}, nil
}

// Router exposes the HTTP engine, mainly for tests.
func (s *Service) Router() *gin.Engine { return s.router }

// Run starts everything and blocks until ctx is cancelled, then shuts
// down gracefully: the HTTP server drains, the scheduler and workers
// stop, and storage is closed. Jobs interrupted mid-run are re-marked
// pending and resume on the next start.
func (s *Service) Run(ctx context.Context) error {
	if err := s.orch.Start(); err != nil {
		return err
	}
	if err := s.orch.Recover(); err != nil {
		s.log.Error("startup recovery failed", "error", err)
	}
	if err := s.sched.Start(); err != nil {
		return err
	}
	s.cache.StartSweeper(time.Minute)

	server := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("insights server listening", "port", s.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.log.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http shutdown incomplete", "error", err)
	}
	s.sched.Stop()
	s.orch.Stop()
	s.cache.StopSweeper()
	if err := s.store.Close(); err != nil {
		s.log.Error("store close failed", "error", err)
	}
	s.influx.Close()
	s.log.Info("insights service stopped")
	return runErr
}
