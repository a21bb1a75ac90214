package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// SearchHints are optional per-call overrides for the search backend.
type SearchHints struct {
	Country     string
	Language    string
	Autocorrect *bool
	NumResults  int
}

// SearchProvider executes one keyword query against the search backend.
// Implementations distinguish rate-limit rejections from generic upstream
// failures through the engine error taxonomy.
type SearchProvider interface {
	Search(ctx context.Context, query string, hints *SearchHints) (*models.SearchPayload, error)
	HealthCheck(ctx context.Context) error
}

// SerperService calls the Serper.dev search API. One limiter instance guards
// the process-wide request budget shared by all concurrent research runs.
type SerperService struct {
	httpClient *http.Client
	config     config.SerperConfig
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger
}

type serperRequest struct {
	Query       string `json:"q"`
	Country     string `json:"gl,omitempty"`
	Language    string `json:"hl,omitempty"`
	Autocorrect *bool  `json:"autocorrect,omitempty"`
	Num         int    `json:"num,omitempty"`
}

type serperRelatedSearch struct {
	Query string `json:"query"`
}

type serperResponse struct {
	Organic         []models.OrganicResult   `json:"organic"`
	KnowledgeGraph  *models.KnowledgeGraph   `json:"knowledgeGraph"`
	PeopleAlsoAsk   []models.RelatedQuestion `json:"peopleAlsoAsk"`
	RelatedSearches []serperRelatedSearch    `json:"relatedSearches"`
}

func NewSerperService(cfg config.SerperConfig, log *logger.Logger) (*SerperService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Serper API key required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "serper",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	service := &SerperService{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		breaker:    breaker,
		logger:     log,
	}

	log.Info("Search Service Initialized Successfully - Serper API",
		"endpoint", cfg.Endpoint,
		"requests_per_minute", cfg.RequestsPerMinute,
		"max_retries", cfg.MaxRetries)

	return service, nil
}

func (service *SerperService) Search(ctx context.Context, query string, hints *SearchHints) (*models.SearchPayload, error) {
	startTime := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, models.NewValidationError("EMPTY_SEARCH_QUERY", "search query must not be empty")
	}

	// The budget rejects rather than waits: a blocked step would stall the
	// whole research loop.
	if !service.limiter.Allow() {
		service.logger.Warn("Search request budget exhausted", "query", query)
		return nil, models.NewRateLimitError("SERPER_RATE_LIMITED", "search request budget exhausted")
	}

	operation := func() (*models.SearchPayload, error) {
		result, err := service.breaker.Execute(func() (interface{}, error) {
			return service.doSearch(ctx, query, hints)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			var engineErr *models.EngineError
			if errors.As(err, &engineErr) && engineErr.Kind == models.ErrorKindRateLimited {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result.(*models.SearchPayload), nil
	}

	payload, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(service.config.MaxRetries+1)))

	duration := time.Since(startTime)

	if err != nil {
		service.logger.LogService("serper", "search", duration, map[string]interface{}{
			"query": query,
		}, err)
		var engineErr *models.EngineError
		if errors.As(err, &engineErr) {
			return nil, engineErr
		}
		return nil, models.WrapExternalError("SERPER", err)
	}

	service.logger.LogService("serper", "search", duration, map[string]interface{}{
		"query":         query,
		"organic_count": len(payload.Organic),
	}, nil)

	return payload, nil
}

func (service *SerperService) doSearch(ctx context.Context, query string, hints *SearchHints) (*models.SearchPayload, error) {
	request := serperRequest{
		Query:    query,
		Country:  service.config.Country,
		Language: service.config.Language,
	}
	if hints != nil {
		if hints.Country != "" {
			request.Country = hints.Country
		}
		if hints.Language != "" {
			request.Language = hints.Language
		}
		request.Autocorrect = hints.Autocorrect
		if hints.NumResults > 0 {
			request.Num = hints.NumResults
		}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, service.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", service.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := service.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, models.NewRateLimitError("SERPER_UPSTREAM_RATE_LIMITED", "search backend rejected request: rate limited")
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search backend returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	related := make([]string, 0, len(parsed.RelatedSearches))
	for _, item := range parsed.RelatedSearches {
		if item.Query != "" {
			related = append(related, item.Query)
		}
	}

	return &models.SearchPayload{
		Organic:         parsed.Organic,
		KnowledgeGraph:  parsed.KnowledgeGraph,
		PeopleAlsoAsk:   parsed.PeopleAlsoAsk,
		RelatedSearches: related,
	}, nil
}

func (service *SerperService) HealthCheck(ctx context.Context) error {
	if service.config.APIKey == "" {
		return fmt.Errorf("serper API key not configured")
	}
	if service.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("serper circuit breaker is open")
	}
	return nil
}
