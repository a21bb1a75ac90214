package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"
)

// OllamaService talks to a local Ollama instance over its HTTP API. It backs
// the same LanguageModel port as the Gemini service for offline deployments.
type OllamaService struct {
	baseURL    string
	httpClient *http.Client
	config     config.LLMConfig
	logger     *logger.Logger
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int32   `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message ChatMessage `json:"message"`
}

func NewOllamaService(cfg config.LLMConfig, log *logger.Logger) (*OllamaService, error) {
	if cfg.OllamaURL == "" {
		return nil, fmt.Errorf("Ollama URL required")
	}

	service := &OllamaService{
		baseURL:    strings.TrimRight(cfg.OllamaURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     log,
	}

	log.Info("Language Model Initialized Successfully - Ollama",
		"url", cfg.OllamaURL,
		"model", cfg.OllamaModel)

	return service, nil
}

func (service *OllamaService) Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	body := ollamaGenerateRequest{
		Model:  service.config.OllamaModel,
		Prompt: prompt,
		System: opts.SystemRole,
		Stream: false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxOutputTokens,
		},
	}

	var parsed ollamaGenerateResponse
	if err := service.postWithRetry(ctx, "/api/generate", body, &parsed, len(prompt)); err != nil {
		return "", err
	}

	return parsed.Response, nil
}

func (service *OllamaService) Chat(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error) {
	all := messages
	if opts.SystemRole != "" {
		all = append([]ChatMessage{{Role: "system", Content: opts.SystemRole}}, messages...)
	}

	promptLength := 0
	for _, message := range all {
		promptLength += len(message.Content)
	}

	body := ollamaChatRequest{
		Model:    service.config.OllamaModel,
		Messages: all,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxOutputTokens,
		},
	}

	var parsed ollamaChatResponse
	if err := service.postWithRetry(ctx, "/api/chat", body, &parsed, promptLength); err != nil {
		return "", err
	}

	return parsed.Message.Content, nil
}

func (service *OllamaService) postWithRetry(ctx context.Context, path string, body interface{}, target interface{}, promptLength int) error {
	startTime := time.Now()

	var err error
	for attempt := 1; attempt <= service.config.MaxRetries; attempt++ {
		err = service.post(ctx, path, body, target)
		if err == nil {
			break
		}

		if attempt < service.config.MaxRetries {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": service.config.MaxRetries,
				"error":       err,
			}).Warn("Ollama Generation Failed")

			select {
			case <-time.After(service.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return models.NewTimeoutError("OLLAMA_TIMEOUT", "content generation timed out").WithCause(ctx.Err())
			}
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		service.logger.LogService("ollama", "generate_content", duration, map[string]interface{}{
			"path":          path,
			"prompt_length": promptLength,
			"attempts":      service.config.MaxRetries,
		}, err)
		return models.WrapExternalError("OLLAMA", err)
	}

	service.logger.LogService("ollama", "generate_content", duration, map[string]interface{}{
		"path":          path,
		"prompt_length": promptLength,
	}, nil)

	return nil
}

func (service *OllamaService) post(ctx context.Context, path string, body interface{}, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, service.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := service.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}

	return nil
}

func (service *OllamaService) HealthCheck(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(testCtx, http.MethodGet, service.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}

	resp, err := service.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned HTTP %d", resp.StatusCode)
	}

	return nil
}
