package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/handlers"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"
	"horizon-research-engine/internal/services"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Horizon Research Engine",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port,
		"llm_provider", cfg.LLM.Provider)

	llm, err := services.NewLanguageModel(cfg.LLM, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize language model")
		os.Exit(1)
	}

	search, err := services.NewSerperService(cfg.Serper, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize search provider")
		os.Exit(1)
	}

	var telemetry services.TelemetrySink = services.NoopTelemetry{}
	var redisTelemetry *services.RedisTelemetry
	if cfg.Telemetry.Enabled {
		redisTelemetry, err = services.NewRedisTelemetry(cfg.Telemetry, log)
		if err != nil {
			log.WithError(err).Error("Failed to initialize telemetry")
			os.Exit(1)
		}
		telemetry = redisTelemetry
	}

	var enricher *services.EnrichmentService
	if cfg.Enrich.Enabled {
		enricher = services.NewEnrichmentService(cfg.Enrich, log)
	}

	agent := services.NewAgentService(llm, models.DefaultDepthProfiles(), log)
	orchestrator := services.NewOrchestrator(search, agent, llm, telemetry, enricher, *cfg, log)

	handler := handlers.NewResearchHandler(orchestrator, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/research", handler.ExecuteResearch)
	router.GET("/health", handler.HealthCheck)
	router.GET("/stats", handler.GetStats)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	if err := orchestrator.Close(); err != nil {
		log.WithError(err).Error("Orchestrator shutdown failed")
	}

	if redisTelemetry != nil {
		if err := redisTelemetry.Close(); err != nil {
			log.WithError(err).Error("Telemetry shutdown failed")
		}
	}

	log.Info("Horizon Research Engine stopped")
}
