package dispatcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/dispatcher"
	"storybook-server/internal/models"
	"storybook-server/internal/store"
)

// stubRunner считает вызовы Run и может блокироваться до release.
type stubRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	release chan struct{}
	panicOn string
}

func newStubRunner() *stubRunner {
	return &stubRunner{calls: make(map[string]int)}
}

func (r *stubRunner) Run(ctx context.Context, id string) error {
	r.mu.Lock()
	r.calls[id]++
	r.mu.Unlock()
	if id == r.panicOn {
		panic("boom")
	}
	if r.release != nil {
		<-r.release
	}
	return nil
}

func (r *stubRunner) callCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func TestDispatcher_Start_SingleActiveRunPerSession(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	runner := newStubRunner()
	runner.release = make(chan struct{})
	d := dispatcher.New(sessions, runner, zap.NewNop())

	session, err := sessions.Create(context.Background(), models.BookInput{CharacterName: "Mira"})
	require.NoError(t, err)
	id := session.ID.String()

	status, err := d.Start(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status)

	// Ждем, пока горутина запуска зарегистрируется и заблокируется в Run
	require.Eventually(t, func() bool { return d.IsRunning(id) }, time.Second, 5*time.Millisecond)

	// Повторные вызовы при активном запуске - no-op
	for i := 0; i < 3; i++ {
		_, err := d.Start(context.Background(), id)
		require.NoError(t, err)
	}

	close(runner.release)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	assert.Equal(t, 1, runner.callCount(id))
	assert.False(t, d.IsRunning(id))
}

func TestDispatcher_Start_TerminalSessionIsNoOp(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	runner := newStubRunner()
	d := dispatcher.New(sessions, runner, zap.NewNop())

	session, err := sessions.Create(context.Background(), models.BookInput{})
	require.NoError(t, err)
	id := session.ID.String()
	_, err = sessions.Update(context.Background(), id, func(s *models.Session) {
		s.Status = models.StatusDone
		s.BookURL = "http://localhost:8080/files/x/book.pdf"
	})
	require.NoError(t, err)

	status, err := d.Start(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, status)
	assert.Equal(t, 0, runner.callCount(id))
}

func TestDispatcher_Start_UnknownSession(t *testing.T) {
	d := dispatcher.New(store.NewMemorySessionStore(), newStubRunner(), zap.NewNop())

	_, err := d.Start(context.Background(), "2f2a4f6e-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestDispatcher_Start_AfterShutdown(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	d := dispatcher.New(sessions, newStubRunner(), zap.NewNop())

	session, err := sessions.Create(context.Background(), models.BookInput{})
	require.NoError(t, err)

	require.NoError(t, d.Shutdown(context.Background()))

	_, err = d.Start(context.Background(), session.ID.String())
	assert.ErrorIs(t, err, dispatcher.ErrShuttingDown)
}

func TestDispatcher_Run_PanicMarksSessionFailed(t *testing.T) {
	sessions := store.NewMemorySessionStore()
	runner := newStubRunner()
	d := dispatcher.New(sessions, runner, zap.NewNop())

	session, err := sessions.Create(context.Background(), models.BookInput{})
	require.NoError(t, err)
	id := session.ID.String()
	runner.panicOn = id

	_, err = d.Start(context.Background(), id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := sessions.Get(context.Background(), id)
		return err == nil && s.Status == models.StatusError
	}, time.Second, 5*time.Millisecond)

	final, err := sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, final.Error, "internal error")
}
