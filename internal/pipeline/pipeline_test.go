package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/artifact"
	"storybook-server/internal/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/store"
)

const testStory = "Scene one.\n\nScene two.\n\nScene three."

// tinyPNG возвращает валидный PNG, который примет сборщик PDF.
func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, gen *mocks.MockGenerator) (*pipeline.Pipeline, store.SessionStore, *artifact.FSStore) {
	t.Helper()
	sessions := store.NewMemorySessionStore()
	artifacts, err := artifact.NewFSStore(t.TempDir(), "http://localhost:8080/files", zap.NewNop())
	require.NoError(t, err)

	p := pipeline.New(sessions, artifacts, gen, pipeline.Config{
		IllustrationWorkers: 2,
		MaxAttempts:         3,
		BaseRetryDelay:      time.Millisecond,
		StageTimeout:        5 * time.Second,
	}, zap.NewNop())
	return p, sessions, artifacts
}

func createSession(t *testing.T, sessions store.SessionStore, input models.BookInput) *models.Session {
	t.Helper()
	session, err := sessions.Create(context.Background(), input)
	require.NoError(t, err)
	return session
}

func TestPipeline_Run_FullSuccess(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, artifacts := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	gen.On("GenerateStory", mock.Anything, mock.AnythingOfType("models.BookInput")).
		Return(testStory, nil).Once()
	gen.On("ExtractElements", mock.Anything, testStory).
		Return(models.StoryElements{Character: "Mira the fox", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.AnythingOfType("string"), "fox", "the jungle").
		Return(func(ctx context.Context, scene, animal, setting string) string {
			return "doodle of " + scene
		}, nil).Times(3)
	gen.On("GenerateIllustration", mock.Anything, mock.AnythingOfType("string")).
		Return(tinyPNG(t), nil).Times(3)

	err := p.Run(context.Background(), session.ID.String())
	require.NoError(t, err)

	final, err := sessions.Get(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, final.Status)
	assert.Equal(t, testStory, final.Story)
	assert.Empty(t, final.Error)
	require.Len(t, final.Scenes, 3)
	for i, scene := range final.Scenes {
		assert.Equal(t, i, scene.Index)
		assert.NotEmpty(t, scene.ImageURL, "scene %d must have an image URL", i)
	}
	assert.Contains(t, final.BookURL, "/book.pdf")

	// Книга действительно лежит в хранилище артефактов
	pdfBytes, err := artifacts.Get(context.Background(), session.ID.String()+"/book.pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdfBytes, []byte("%PDF")))

	gen.AssertExpectations(t)
}

func TestPipeline_RunInline_StopsBeforeIllustrations(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	gen.On("GenerateStory", mock.Anything, mock.Anything).Return(testStory, nil).Once()
	gen.On("ExtractElements", mock.Anything, testStory).
		Return(models.StoryElements{Character: "Mira", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("a doodle", nil).Times(3)

	result, err := p.RunInline(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, result.Status)
	assert.Equal(t, testStory, result.Story)
	require.Len(t, result.Scenes, 3)
	for _, scene := range result.Scenes {
		assert.Empty(t, scene.ImageURL)
	}

	// GenerateIllustration не ожидался ни разу
	gen.AssertExpectations(t)
	gen.AssertNotCalled(t, "GenerateIllustration", mock.Anything, mock.Anything)
}

func TestPipeline_Run_ResumesFromCheckpoint(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	// Быстрые этапы выполняются ровно один раз, даже если после них
	// пайплайн запускается повторно
	gen.On("GenerateStory", mock.Anything, mock.Anything).Return(testStory, nil).Once()
	gen.On("ExtractElements", mock.Anything, testStory).
		Return(models.StoryElements{Character: "Mira", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("a doodle", nil).Times(3)
	gen.On("GenerateIllustration", mock.Anything, "a doodle").Return(tinyPNG(t), nil).Times(3)

	_, err := p.RunInline(context.Background(), session.ID.String())
	require.NoError(t, err)

	// Повторный запуск возобновляет работу с чекпоинта generating
	require.NoError(t, p.Run(context.Background(), session.ID.String()))

	final, err := sessions.Get(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, final.Status)
	gen.AssertExpectations(t)
}

func TestPipeline_Run_IllustrationResumeSkipsCompletedScenes(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	// Имитируем прерванный запуск: сцены уже зафиксированы, у нулевой
	// иллюстрация готова
	_, err := sessions.Update(context.Background(), session.ID.String(), func(s *models.Session) {
		s.Story = testStory
		s.Elements = &models.StoryElements{Character: "Mira", Setting: "the jungle"}
		s.Scenes = []models.Scene{
			{Index: 0, TextExcerpt: "Scene one.", IllustrationPrompt: "prompt 0", ImageURL: "http://localhost:8080/files/x/illustration_0.png"},
			{Index: 1, TextExcerpt: "Scene two.", IllustrationPrompt: "prompt 1"},
			{Index: 2, TextExcerpt: "Scene three.", IllustrationPrompt: "prompt 2"},
		}
		s.Status = models.StatusGenerating
	})
	require.NoError(t, err)

	// Для уже готовой сцены генерация не вызывается
	gen.On("GenerateIllustration", mock.Anything, "prompt 1").Return(tinyPNG(t), nil).Once()
	gen.On("GenerateIllustration", mock.Anything, "prompt 2").Return(tinyPNG(t), nil).Once()

	// Сборка упадет на чтении артефакта нулевой сцены, которого нет на диске;
	// здесь важен только этап иллюстраций
	runErr := p.Run(context.Background(), session.ID.String())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "illustration for scene 0")

	gen.AssertExpectations(t)
	gen.AssertNotCalled(t, "GenerateIllustration", mock.Anything, "prompt 0")
}

func TestPipeline_Run_SceneFailureKeepsNeighborArtifacts(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, artifacts := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})
	id := session.ID.String()

	fourScenes := "Scene one.\n\nScene two.\n\nScene three.\n\nScene four."
	gen.On("GenerateStory", mock.Anything, mock.Anything).Return(fourScenes, nil).Once()
	gen.On("ExtractElements", mock.Anything, fourScenes).
		Return(models.StoryElements{Character: "Mira", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, scene, animal, setting string) string {
			return "doodle of " + scene
		}, nil).Times(4)

	// Сцена с индексом 2 падает без права на повтор, остальные успешны
	gen.On("GenerateIllustration", mock.Anything, "doodle of Scene three.").
		Return(nil, errors.New("content policy violation")).Once()
	gen.On("GenerateIllustration", mock.Anything, mock.AnythingOfType("string")).
		Return(tinyPNG(t), nil).Times(3)

	runErr := p.Run(context.Background(), id)
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "illustration for scene 2 failed")

	final, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "illustration for scene 2 failed")

	// Готовые иллюстрации соседних сцен остаются в хранилище
	for _, idx := range []int{0, 1, 3} {
		_, err := artifacts.Get(context.Background(), keyFor(id, idx))
		assert.NoError(t, err, "illustration %d must be retained", idx)
	}
	_, err = artifacts.Get(context.Background(), keyFor(id, 2))
	assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)

	gen.AssertExpectations(t)
}

func keyFor(sessionID string, index int) string {
	return fmt.Sprintf("%s/illustration_%d.png", sessionID, index)
}

// Порядок сцен в готовой книге определяется индексами, а не порядком
// завершения генерации: сцена 0 здесь нарочно финиширует последней.
func TestPipeline_Run_SceneOrderSurvivesOutOfOrderCompletion(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, artifacts := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})
	id := session.ID.String()

	gen.On("GenerateStory", mock.Anything, mock.Anything).Return(testStory, nil).Once()
	gen.On("ExtractElements", mock.Anything, testStory).
		Return(models.StoryElements{Character: "Mira", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, scene, animal, setting string) string {
			return "doodle of " + scene
		}, nil).Times(3)

	gen.On("GenerateIllustration", mock.Anything, "doodle of Scene one.").
		After(100*time.Millisecond).Return(tinyPNG(t), nil).Once()
	gen.On("GenerateIllustration", mock.Anything, mock.AnythingOfType("string")).
		Return(tinyPNG(t), nil).Times(2)

	require.NoError(t, p.Run(context.Background(), id))

	final, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.StatusDone, final.Status)
	require.Len(t, final.Scenes, 3)
	for i, scene := range final.Scenes {
		assert.Equal(t, i, scene.Index)
		assert.Contains(t, scene.ImageURL, fmt.Sprintf("illustration_%d.png", i),
			"scene %d must point at its own illustration", i)
	}

	// Артефакт каждой сцены лежит под ее собственным ключом
	for i := range final.Scenes {
		_, err := artifacts.Get(context.Background(), keyFor(id, i))
		assert.NoError(t, err)
	}
	gen.AssertExpectations(t)
}

func TestPipeline_Run_TransientErrorIsRetried(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	// Первая попытка - таймаут, вторая успешна
	gen.On("GenerateStory", mock.Anything, mock.Anything).
		Return("", context.DeadlineExceeded).Once()
	gen.On("GenerateStory", mock.Anything, mock.Anything).Return(testStory, nil).Once()
	gen.On("ExtractElements", mock.Anything, testStory).
		Return(models.StoryElements{Character: "Mira", Setting: "the jungle"}, nil).Once()
	gen.On("IllustrationPrompt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("a doodle", nil).Times(3)

	result, err := p.RunInline(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, result.Status)
	assert.Equal(t, testStory, result.Story)
	gen.AssertExpectations(t)
}

func TestPipeline_Run_RetryBudgetExhausted(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	sessions := store.NewMemorySessionStore()
	artifacts, err := artifact.NewFSStore(t.TempDir(), "http://localhost:8080/files", zap.NewNop())
	require.NoError(t, err)

	p := pipeline.New(sessions, artifacts, gen, pipeline.Config{
		IllustrationWorkers: 1,
		MaxAttempts:         2,
		BaseRetryDelay:      time.Millisecond,
		StageTimeout:        time.Second,
	}, zap.NewNop())
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	gen.On("GenerateStory", mock.Anything, mock.Anything).
		Return("", context.DeadlineExceeded).Times(2)

	runErr := p.Run(context.Background(), session.ID.String())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "retry budget exhausted after 2 attempts")

	final, err := sessions.Get(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "generate_story")
	gen.AssertExpectations(t)
}

func TestPipeline_Run_NonTransientErrorFailsImmediately(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{
		CharacterName: "Mira", Animal: "fox", Gender: "female", Setting: "the jungle",
	})

	// Неповторяемая ошибка расходует ровно одну попытку
	gen.On("GenerateStory", mock.Anything, mock.Anything).
		Return("", errors.New("invalid API key")).Once()

	runErr := p.Run(context.Background(), session.ID.String())
	require.Error(t, runErr)

	final, err := sessions.Get(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, final.Status)
	gen.AssertExpectations(t)
}

func TestPipeline_Run_TerminalSessionIsNoOp(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	p, sessions, _ := newTestPipeline(t, gen)
	session := createSession(t, sessions, models.BookInput{CharacterName: "Mira"})

	_, err := sessions.Update(context.Background(), session.ID.String(), func(s *models.Session) {
		s.Status = models.StatusError
		s.Error = "stage generate_story: boom"
	})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), session.ID.String()))

	final, err := sessions.Get(context.Background(), session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Equal(t, "stage generate_story: boom", final.Error)
	gen.AssertExpectations(t)
}
