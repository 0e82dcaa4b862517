package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/store"
)

// ErrShuttingDown возвращается при попытке запустить задачу во время остановки.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Runner выполняет пайплайн для одной сессии до терминального статуса.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Dispatcher планирует фоновые запуски пайплайна, гарантируя не более одного
// активного запуска на сессию. Владение сессией отслеживается in-process
// реестром: проверки только по статусу недостаточно, потому что после падения
// процесса сессия может остаться в generating, и повторный Start обязан ее
// возобновить, а не проигнорировать. Терминальные сессии не перезапускаются.
type Dispatcher struct {
	sessions store.SessionStore
	runner   Runner
	logger   *zap.Logger

	mu      sync.Mutex
	active  map[string]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New создает новый экземпляр Dispatcher.
func New(sessions store.SessionStore, runner Runner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		runner:   runner,
		logger:   logger.Named("Dispatcher"),
		active:   make(map[string]struct{}),
	}
}

// Start планирует запуск пайплайна для сессии и сразу возвращает ее текущий
// статус, не дожидаясь выполнения. Повторный вызов для сессии с активным
// запуском или в терминальном статусе - идемпотентный no-op.
func (d *Dispatcher) Start(ctx context.Context, id string) (models.SessionStatus, error) {
	session, err := d.sessions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if session.Status.IsTerminal() {
		return session.Status, nil
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return session.Status, ErrShuttingDown
	}
	if _, running := d.active[id]; running {
		d.mu.Unlock()
		d.logger.Debug("Run already active for session, ignoring re-trigger", zap.String("session_id", id))
		return session.Status, nil
	}
	d.active[id] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(id)

	d.logger.Info("Pipeline run scheduled", zap.String("session_id", id), zap.String("status", string(session.Status)))
	return session.Status, nil
}

// IsRunning сообщает, есть ли у сессии активный запуск в этом процессе.
func (d *Dispatcher) IsRunning(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, running := d.active[id]
	return running
}

// run выполняет пайплайн в отдельной горутине с независимым контекстом:
// запуск должен пережить завершение HTTP-запроса, который его создал.
func (d *Dispatcher) run(id string) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.active, id)
		d.mu.Unlock()
	}()

	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			// Паника не должна оставить сессию в нетерминальном статусе
			d.logger.Error("Pipeline run panicked", zap.String("session_id", id), zap.Any("panic", r))
			if _, err := d.sessions.Update(ctx, id, func(s *models.Session) {
				if s.Status.IsTerminal() {
					return
				}
				s.Status = models.StatusError
				s.Error = fmt.Sprintf("internal error: %v", r)
			}); err != nil {
				d.logger.Error("Failed to record panic in session", zap.String("session_id", id), zap.Error(err))
			}
		}
	}()

	if err := d.runner.Run(ctx, id); err != nil {
		// Пайплайн уже перевел сессию в error; здесь только лог
		d.logger.Warn("Pipeline run finished with error", zap.String("session_id", id), zap.Error(err))
		return
	}
	d.logger.Info("Pipeline run finished", zap.String("session_id", id))
}

// Shutdown прекращает прием новых запусков и ждет завершения активных
// с таймаутом из контекста.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for active runs to finish")
	}
}
