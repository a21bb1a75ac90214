package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	EventOperationStarted       = "operation_started"
	EventDecompositionCompleted = "decomposition_completed"
	EventSearchExecuted         = "search_executed"
	EventSourcesProcessed       = "sources_processed"
	EventSynthesisCompleted     = "synthesis_completed"
	EventOperationCompleted     = "operation_completed"
	EventExecutionIssue         = "execution_issue"
)

type TelemetryEvent struct {
	ResearchID string                 `json:"research_id"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// TelemetrySink receives best-effort lifecycle notifications. The engine
// logs publish failures and moves on; no research outcome depends on a sink.
type TelemetrySink interface {
	Publish(ctx context.Context, event *TelemetryEvent) error
	HealthCheck(ctx context.Context) error
}

// RedisTelemetry publishes lifecycle events onto a capped Redis stream for
// downstream analytics consumers.
type RedisTelemetry struct {
	client *redis.Client
	config config.TelemetryConfig
	logger *logger.Logger
}

func NewRedisTelemetry(cfg config.TelemetryConfig, log *logger.Logger) (*RedisTelemetry, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid telemetry Redis URL : %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connection to telemetry Redis failed: %w", err)
	}

	log.Info("Telemetry Service Initialized Successfully",
		"stream", cfg.Stream,
		"max_len", cfg.MaxLen)

	return &RedisTelemetry{
		client: client,
		config: cfg,
		logger: log,
	}, nil
}

func (service *RedisTelemetry) Publish(ctx context.Context, event *TelemetryEvent) error {
	values := map[string]interface{}{
		"research_id": event.ResearchID,
		"type":        event.Type,
		"message":     event.Message,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}

	if event.Data != nil {
		dataJSON, err := json.Marshal(event.Data)
		if err == nil {
			values["data"] = string(dataJSON)
		} else {
			service.logger.WithError(err).Warn("Failed to marshal telemetry event data")
		}
	}

	messageID, err := service.client.XAdd(ctx, &redis.XAddArgs{
		Stream: service.config.Stream,
		Values: values,
		MaxLen: service.config.MaxLen,
		Approx: true,
	}).Result()

	if err != nil {
		service.logger.LogService("telemetry", "publish_event", 0, map[string]interface{}{
			"stream":      service.config.Stream,
			"event_type":  event.Type,
			"research_id": event.ResearchID,
		}, err)
		return models.NewExternalError("TELEMETRY_PUBLISH_FAILED", "failed to publish telemetry event").WithCause(err)
	}

	service.logger.WithFields(logger.Fields{
		"stream":      service.config.Stream,
		"message_id":  messageID,
		"event_type":  event.Type,
		"research_id": event.ResearchID,
	}).Debug("Published Telemetry Event Successfully")

	return nil
}

func (service *RedisTelemetry) HealthCheck(ctx context.Context) error {
	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("telemetry connection unhealthy: %w", err)
	}
	return nil
}

func (service *RedisTelemetry) Close() error {
	return service.client.Close()
}

// NoopTelemetry keeps the engine wiring uniform when analytics are disabled.
type NoopTelemetry struct{}

func (NoopTelemetry) Publish(ctx context.Context, event *TelemetryEvent) error {
	return nil
}

func (NoopTelemetry) HealthCheck(ctx context.Context) error {
	return nil
}
