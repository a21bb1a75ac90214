package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"

	"google.golang.org/genai"
)

// GenerationOptions carries the sampling parameters for one model call.
type GenerationOptions struct {
	Temperature     float32
	MaxOutputTokens int32
	SystemRole      string
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LanguageModel is the capability the engine needs from a text-generation
// backend. Provider identity and credentials are resolved before the engine
// sees the port.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
	Chat(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error)
	HealthCheck(ctx context.Context) error
}

// NewLanguageModel selects the backend at construction time.
func NewLanguageModel(cfg config.LLMConfig, log *logger.Logger) (LanguageModel, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiService(cfg, log)
	case "ollama":
		return NewOllamaService(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

type GeminiService struct {
	client *genai.Client
	config config.LLMConfig
	logger *logger.Logger
}

func NewGeminiService(cfg config.LLMConfig, log *logger.Logger) (*GeminiService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("Gemini API key required")
	}

	ctx := context.Background()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		client: client,
		config: cfg,
		logger: log,
	}

	log.Info("Language Model Initialized Successfully - Gemini API",
		"model", cfg.GeminiModel,
		"max_retries", cfg.MaxRetries,
		"timeout", cfg.Timeout)

	return service, nil
}

func (service *GeminiService) Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	return service.generateWithRetry(ctx, genai.Text(prompt), opts, len(prompt))
}

func (service *GeminiService) Chat(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	promptLength := 0
	for _, message := range messages {
		var role genai.Role = genai.RoleUser
		if message.Role == "assistant" || message.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(message.Content, role))
		promptLength += len(message.Content)
	}

	return service.generateWithRetry(ctx, contents, opts, promptLength)
}

func (service *GeminiService) generateWithRetry(ctx context.Context, contents []*genai.Content, opts GenerationOptions, promptLength int) (string, error) {
	startTime := time.Now()

	var text string
	var err error

	for attempt := 1; attempt <= service.config.MaxRetries; attempt++ {
		text, err = service.makeGenerationRequest(ctx, contents, opts)
		if err == nil {
			break
		}

		if attempt < service.config.MaxRetries {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": service.config.MaxRetries,
				"error":       err,
			}).Warn("Gemini Generation Failed")

			select {
			case <-time.After(service.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return "", models.NewTimeoutError("GEMINI_TIMEOUT", "content generation timed out").WithCause(ctx.Err())
			}
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		service.logger.LogService("gemini", "generate_content", duration, map[string]interface{}{
			"prompt_length": promptLength,
			"attempts":      service.config.MaxRetries,
		}, err)
		return "", models.WrapExternalError("GEMINI", err)
	}

	service.logger.LogService("gemini", "generate_content", duration, map[string]interface{}{
		"prompt_length":   promptLength,
		"response_length": len(text),
	}, nil)

	return text, nil
}

func (service *GeminiService) makeGenerationRequest(ctx context.Context, contents []*genai.Content, opts GenerationOptions) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	temperature := opts.Temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}

	if opts.MaxOutputTokens != 0 {
		genConfig.MaxOutputTokens = opts.MaxOutputTokens
	}

	if opts.SystemRole != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(opts.SystemRole, genai.RoleUser)
	}

	result, err := service.client.Models.GenerateContent(genCtx, service.config.GeminiModel, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}

	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no response candidates generated")
	}

	candidate := result.Candidates[0]

	text := ""
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}

	return text, nil
}

func (service *GeminiService) HealthCheck(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	text, err := service.makeGenerationRequest(testCtx,
		genai.Text("Respond with 'OK' if you can process this request"),
		GenerationOptions{Temperature: 0, MaxOutputTokens: 10})
	if err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}

	if text == "" {
		return fmt.Errorf("gemini health check returned empty response")
	}

	return nil
}
