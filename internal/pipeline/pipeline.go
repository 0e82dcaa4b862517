package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/artifact"
	"storybook-server/internal/models"
	"storybook-server/internal/store"
)

// Названия этапов (для логов, метрик и сообщений об ошибках).
const (
	stageValidate     = "validate_input"
	stageStory        = "generate_story"
	stageElements     = "extract_elements"
	stageSplit        = "split_scenes"
	stageIllustration = "generate_illustration"
	stageAssemble     = "assemble_book"
)

// Config содержит настройки пайплайна.
type Config struct {
	IllustrationWorkers int           // Размер пула воркеров иллюстраций
	MaxAttempts         int           // Бюджет повторов на один вызов этапа
	BaseRetryDelay      time.Duration // Базовая задержка экспоненциального бэкоффа
	StageTimeout        time.Duration // Таймаут одного вызова внешнего этапа
}

// Pipeline - конечный автомат генерации книги. Последовательно проводит сессию
// по этапам, после каждого успешного этапа сохраняя результат и новый статус в
// хранилище (checkpoint). Благодаря этому рестарт процесса возобновляет работу
// с первого невыполненного этапа, никогда не повторяя уже выполненные.
type Pipeline struct {
	store     store.SessionStore
	artifacts artifact.Store
	generator ai.Generator
	cfg       Config
	logger    *zap.Logger
}

// New создает новый экземпляр Pipeline.
func New(sessions store.SessionStore, artifacts artifact.Store, generator ai.Generator, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.IllustrationWorkers <= 0 {
		cfg.IllustrationWorkers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	return &Pipeline{
		store:     sessions,
		artifacts: artifacts,
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("Pipeline"),
	}
}

// Run проводит сессию от текущего статуса до терминального (done или error).
// Возвращает ошибку этапа, если она была; сессия при этом уже переведена в
// error - ни одна ошибка не оставляет сессию в нетерминальном статусе.
func (p *Pipeline) Run(ctx context.Context, id string) error {
	return p.runUntil(ctx, id, func(models.SessionStatus) bool { return false })
}

// RunInline выполняет быстрые этапы (валидация, история, элементы, разбиение
// на сцены) синхронно в запросе создания сессии и останавливается перед
// фан-аутом иллюстраций. Возвращает сессию после последнего чекпоинта.
func (p *Pipeline) RunInline(ctx context.Context, id string) (*models.Session, error) {
	err := p.runUntil(ctx, id, func(s models.SessionStatus) bool { return s == models.StatusGenerating })
	session, getErr := p.store.Get(ctx, id)
	if err != nil {
		return session, err
	}
	return session, getErr
}

// runUntil крутит автомат, пока не достигнут терминальный статус или статус,
// на котором stop возвращает true.
func (p *Pipeline) runUntil(ctx context.Context, id string, stop func(models.SessionStatus) bool) error {
	for {
		session, err := p.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() || stop(session.Status) {
			return nil
		}

		stage, err := p.advance(ctx, session)
		if err != nil {
			p.failSession(ctx, id, stage, err)
			return err
		}
	}
}

// advance выполняет ровно один этап для текущего статуса сессии и сохраняет
// его чекпоинт. Возвращает имя этапа для диагностики.
func (p *Pipeline) advance(ctx context.Context, session *models.Session) (string, error) {
	id := session.ID.String()
	log := p.logger.With(zap.String("session_id", id), zap.String("status", string(session.Status)))

	var stage string
	var err error
	started := time.Now()

	switch session.Status {
	case models.StatusPending:
		stage, err = stageValidate, p.runValidate(ctx, session)
	case models.StatusValidated:
		stage, err = stageStory, p.runStory(ctx, session)
	case models.StatusStoryReady:
		stage, err = stageElements, p.runElements(ctx, session)
	case models.StatusElementsReady:
		stage, err = stageSplit, p.runSplit(ctx, session)
	case models.StatusGenerating:
		stage, err = stageIllustration, p.runIllustrations(ctx, session)
	case models.StatusAssembling:
		stage, err = stageAssemble, p.runAssemble(ctx, session)
	default:
		return "", fmt.Errorf("unexpected session status %q", session.Status)
	}

	stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	if err != nil {
		stagesCompleted.With(prometheus.Labels{"stage": stage, "status": "error"}).Inc()
		log.Error("Pipeline stage failed", zap.String("stage", stage), zap.Error(err))
		return stage, err
	}
	stagesCompleted.With(prometheus.Labels{"stage": stage, "status": "success"}).Inc()
	log.Info("Pipeline stage completed", zap.String("stage", stage), zap.Duration("duration", time.Since(started)))
	return stage, nil
}

// runValidate нормализует ингредиенты и фиксирует их в записи сессии.
func (p *Pipeline) runValidate(ctx context.Context, session *models.Session) error {
	normalized := normalizeInput(session.Input)
	_, err := p.store.Update(ctx, session.ID.String(), func(s *models.Session) {
		s.Input = normalized
		s.Status = models.StatusValidated
	})
	return err
}

// runStory генерирует текст истории.
func (p *Pipeline) runStory(ctx context.Context, session *models.Session) error {
	var story string
	err := p.withRetry(ctx, stageStory, func(callCtx context.Context) error {
		var genErr error
		story, genErr = p.generator.GenerateStory(callCtx, session.Input)
		return genErr
	})
	if err != nil {
		return err
	}
	_, err = p.store.Update(ctx, session.ID.String(), func(s *models.Session) {
		s.Story = story
		s.Status = models.StatusStoryReady
	})
	return err
}

// runElements извлекает героя и место действия из готовой истории.
func (p *Pipeline) runElements(ctx context.Context, session *models.Session) error {
	var elements models.StoryElements
	err := p.withRetry(ctx, stageElements, func(callCtx context.Context) error {
		var genErr error
		elements, genErr = p.generator.ExtractElements(callCtx, session.Story)
		return genErr
	})
	if err != nil {
		return err
	}
	_, err = p.store.Update(ctx, session.ID.String(), func(s *models.Session) {
		s.Elements = &elements
		s.Status = models.StatusElementsReady
	})
	return err
}

// runSplit разбивает историю на сцены и готовит промпт иллюстрации для каждой.
// После этого чекпоинта число и порядок сцен фиксируются навсегда.
func (p *Pipeline) runSplit(ctx context.Context, session *models.Session) error {
	setting := session.Input.Setting
	if session.Elements != nil && session.Elements.Setting != "" {
		setting = session.Elements.Setting
	}

	texts := splitScenes(session.Story)
	scenes := make([]models.Scene, len(texts))
	for i, text := range texts {
		var prompt string
		err := p.withRetry(ctx, stageSplit, func(callCtx context.Context) error {
			var genErr error
			prompt, genErr = p.generator.IllustrationPrompt(callCtx, text, session.Input.Animal, setting)
			return genErr
		})
		if err != nil {
			return fmt.Errorf("scene %d: %w", i, err)
		}
		scenes[i] = models.Scene{Index: i, TextExcerpt: text, IllustrationPrompt: prompt}
	}

	_, err := p.store.Update(ctx, session.ID.String(), func(s *models.Session) {
		s.Scenes = scenes
		s.Status = models.StatusGenerating
	})
	return err
}

// runIllustrations - единственный фан-аут пайплайна: по одному вызову генерации
// на сцену, под ограничением пула воркеров. Каждая сцена ретраится независимо;
// URL картинки пишется в scenes[index] сразу по готовности (индекс пишет ровно
// одна горутина). Переход к сборке происходит только после исхода всех сцен;
// единственный провал после исчерпания бюджета ретраев валит всю сессию с
// указанием индекса сцены - готовые картинки соседей при этом остаются в
// хранилище артефактов.
func (p *Pipeline) runIllustrations(ctx context.Context, session *models.Session) error {
	id := session.ID.String()
	sem := make(chan struct{}, p.cfg.IllustrationWorkers)
	errs := make([]error, len(session.Scenes))

	var wg sync.WaitGroup
	for i := range session.Scenes {
		scene := session.Scenes[i]
		if scene.ImageURL != "" {
			continue // уже сгенерирована в прерванном запуске
		}
		wg.Add(1)
		go func(idx int, prompt string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var data []byte
			err := p.withRetry(ctx, stageIllustration, func(callCtx context.Context) error {
				var genErr error
				data, genErr = p.generator.GenerateIllustration(callCtx, prompt)
				return genErr
			})
			if err != nil {
				errs[idx] = err
				return
			}

			url, err := p.artifacts.Put(ctx, illustrationKey(id, idx), data)
			if err != nil {
				errs[idx] = err
				return
			}

			if _, err := p.store.Update(ctx, id, func(s *models.Session) {
				s.Scenes[idx].ImageURL = url
			}); err != nil {
				errs[idx] = err
			}
		}(i, scene.IllustrationPrompt)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			return fmt.Errorf("illustration for scene %d failed: %w", idx, err)
		}
	}

	_, err := p.store.Update(ctx, id, func(s *models.Session) {
		s.Status = models.StatusAssembling
	})
	return err
}

// failSession переводит сессию в терминальный статус error с описанием сбоя.
// Уже терминальная сессия не трогается.
func (p *Pipeline) failSession(ctx context.Context, id, stage string, cause error) {
	runsFailed.WithLabelValues(stage).Inc()
	_, err := p.store.Update(ctx, id, func(s *models.Session) {
		if s.Status.IsTerminal() {
			return
		}
		s.Status = models.StatusError
		s.Error = fmt.Sprintf("stage %s: %v", stage, cause)
	})
	if err != nil {
		// Хранилище недоступно: больше некуда записать исход, остается лог
		p.logger.Error("Failed to mark session as failed",
			zap.String("session_id", id),
			zap.String("stage", stage),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	p.logger.Warn("Session moved to error state",
		zap.String("session_id", id),
		zap.String("stage", stage),
		zap.Error(cause),
	)
}

// withRetry выполняет вызов этапа с бюджетом повторов и экспоненциальным
// бэкоффом с джиттером. Каждая попытка ограничена таймаутом этапа; повторяются
// только временные ошибки (таймаут, 429, 5xx, сетевые сбои).
func (p *Pipeline) withRetry(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	baseDelay := p.cfg.BaseRetryDelay
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}

		stageErr := classifyStageError(stage, err)
		if !models.IsTransient(stageErr) {
			return stageErr
		}
		lastErr = stageErr

		if attempt == p.cfg.MaxAttempts {
			break
		}

		stageRetries.WithLabelValues(stage).Inc()
		delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		waitDuration := time.Duration(delay)
		if waitDuration < baseDelay {
			waitDuration = baseDelay
		}
		p.logger.Debug("Stage call failed, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Duration("wait", waitDuration),
			zap.Error(err),
		)

		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			return models.NewTerminalStageError(stage, ctx.Err())
		}
	}

	return models.NewTerminalStageError(stage,
		fmt.Errorf("retry budget exhausted after %d attempts: %w", p.cfg.MaxAttempts, lastErr))
}

// classifyStageError типизирует сырую ошибку вызова этапа по ее транзиентности:
// таймауты, сетевые сбои, 429 и 5xx можно повторять, остальное - нет.
func classifyStageError(stage string, err error) *models.StageError {
	if ai.IsTransient(err) {
		return models.NewTransientStageError(stage, err)
	}
	return models.NewTerminalStageError(stage, err)
}

func illustrationKey(sessionID string, index int) string {
	return fmt.Sprintf("%s/illustration_%d.png", sessionID, index)
}

func bookKey(sessionID string) string {
	return fmt.Sprintf("%s/book.pdf", sessionID)
}
