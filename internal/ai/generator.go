package ai

import (
	"context"
	"errors"

	"storybook-server/internal/models"
)

// ErrStoryGenerationFailed - ошибка при генерации текста AI
var ErrStoryGenerationFailed = errors.New("story generation failed")

// ErrImageGenerationFailed - ошибка при генерации изображения
var ErrImageGenerationFailed = errors.New("image generation failed")

// Generator - граница с внешними генеративными моделями. Каждый метод - один
// этап: узкий типизированный вход, типизированный результат или ошибка.
// Пайплайн считает коллаборатора ненадежным по времени (может быть медленным),
// но доверяет ему семантику результата.
type Generator interface {
	// GenerateStory генерирует текст истории по нормализованным ингредиентам.
	GenerateStory(ctx context.Context, input models.BookInput) (string, error)
	// ExtractElements извлекает главного героя и место действия из истории.
	ExtractElements(ctx context.Context, story string) (models.StoryElements, error)
	// IllustrationPrompt строит описание иллюстрации для одной сцены.
	IllustrationPrompt(ctx context.Context, scene string, animal, setting string) (string, error)
	// GenerateIllustration генерирует изображение по готовому промпту.
	// Возвращает PNG-байты.
	GenerateIllustration(ctx context.Context, prompt string) ([]byte, error)
}
