package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"operation", "status"}, // Labels: operation, success/error
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// jsonObjectRe вырезает первый JSON-объект из ответа модели: модели любят
// оборачивать JSON в пояснения и markdown-блоки.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*?\}`)

// Config содержит настройки OpenAI-совместимого клиента.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
}

// Compile-time check to ensure openAIGenerator implements Generator
var _ Generator = (*openAIGenerator)(nil)

// openAIGenerator реализует Generator с использованием go-openai
type openAIGenerator struct {
	client     *openaigo.Client
	model      string
	imageModel string
	logger     *zap.Logger
}

// NewOpenAIGenerator создает Generator поверх OpenAI-совместимого API.
func NewOpenAIGenerator(cfg Config, logger *zap.Logger) Generator {
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIGenerator{
		client:     openaigo.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		logger:     logger.Named("OpenAIGenerator"),
	}
}

// GenerateStory генерирует текст истории по нормализованным ингредиентам.
func (g *openAIGenerator) GenerateStory(ctx context.Context, input models.BookInput) (string, error) {
	story, err := g.chat(ctx, "generate_story",
		"You are a children's story writer. You write gentle, imaginative, safe stories for small children.",
		buildStoryPrompt(input))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoryGenerationFailed, err)
	}
	if strings.TrimSpace(story) == "" {
		return "", fmt.Errorf("%w: model returned empty story", ErrStoryGenerationFailed)
	}
	return story, nil
}

// ExtractElements извлекает главного героя и место действия из истории.
// При неразборчивом ответе возвращает нейтральные значения, как и оригинал:
// элементы влияют только на заголовок и контекст иллюстраций.
func (g *openAIGenerator) ExtractElements(ctx context.Context, story string) (models.StoryElements, error) {
	raw, err := g.chat(ctx, "extract_elements", "", buildElementsPrompt(story))
	if err != nil {
		return models.StoryElements{}, err
	}

	elements := models.StoryElements{Character: "the main character", Setting: "the main setting"}
	if match := jsonObjectRe.FindString(raw); match != "" {
		var parsed models.StoryElements
		if jsonErr := json.Unmarshal([]byte(match), &parsed); jsonErr == nil {
			if parsed.Character != "" {
				elements.Character = parsed.Character
			}
			if parsed.Setting != "" {
				elements.Setting = parsed.Setting
			}
		} else {
			g.logger.Warn("Failed to parse elements JSON, using fallbacks", zap.Error(jsonErr), zap.String("raw", match))
		}
	} else {
		g.logger.Warn("No JSON object in elements response, using fallbacks")
	}
	return elements, nil
}

// IllustrationPrompt строит описание иллюстрации для одной сцены.
func (g *openAIGenerator) IllustrationPrompt(ctx context.Context, scene string, animal, setting string) (string, error) {
	desc, err := g.chat(ctx, "illustration_prompt", "", buildIllustrationPrompt(scene, animal, setting))
	if err != nil {
		return "", err
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		// Пустое описание не фатально: запасной промпт сохраняет стиль книги
		desc = "A simple doodle showing the main character doing the main action in the setting."
	}
	return coloringStyleInfo + desc, nil
}

// GenerateIllustration генерирует изображение по готовому промпту.
func (g *openAIGenerator) GenerateIllustration(ctx context.Context, prompt string) ([]byte, error) {
	timer := prometheus.NewTimer(aiRequestDuration.WithLabelValues("generate_illustration"))
	defer timer.ObserveDuration()

	resp, err := g.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          g.imageModel,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		aiRequestsTotal.WithLabelValues("generate_illustration", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		aiRequestsTotal.WithLabelValues("generate_illustration", "error").Inc()
		return nil, fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}

	imageData, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		aiRequestsTotal.WithLabelValues("generate_illustration", "error").Inc()
		return nil, fmt.Errorf("%w: failed to decode image payload: %v", ErrImageGenerationFailed, err)
	}

	aiRequestsTotal.WithLabelValues("generate_illustration", "success").Inc()
	g.logger.Debug("Illustration generated", zap.Int("size_bytes", len(imageData)))
	return imageData, nil
}

// chat выполняет один chat-completion запрос и возвращает текст первого выбора.
func (g *openAIGenerator) chat(ctx context.Context, operation, systemPrompt, userPrompt string) (string, error) {
	timer := prometheus.NewTimer(aiRequestDuration.WithLabelValues(operation))
	defer timer.ObserveDuration()

	messages := make([]openaigo.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleUser,
		Content: userPrompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		aiRequestsTotal.WithLabelValues(operation, "error").Inc()
		g.logger.Error("AI chat request failed", zap.String("operation", operation), zap.Error(err))
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		aiRequestsTotal.WithLabelValues(operation, "error").Inc()
		return "", errors.New("chat completion returned no choices")
	}

	aiRequestsTotal.WithLabelValues(operation, "success").Inc()
	return resp.Choices[0].Message.Content, nil
}

// IsTransient сообщает, стоит ли повторять вызов после этой ошибки:
// таймауты, сетевые сбои, 429 и 5xx - временные; остальное - нет.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
