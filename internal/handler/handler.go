package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/dispatcher"
	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/store"
)

// Максимальные длины пользовательских полей.
const (
	maxNameLen           = 100
	maxSettingLen        = 200
	maxCustomElementsLen = 1000
)

// BookHandler обрабатывает HTTP запросы генерации книг.
type BookHandler struct {
	sessions   store.SessionStore
	pipeline   *pipeline.Pipeline
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
}

// NewBookHandler создает новый BookHandler.
func NewBookHandler(sessions store.SessionStore, p *pipeline.Pipeline, d *dispatcher.Dispatcher, logger *zap.Logger) *BookHandler {
	return &BookHandler{
		sessions:   sessions,
		pipeline:   p,
		dispatcher: d,
		logger:     logger.Named("BookHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *BookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/create-session", h.CreateSession)
	rg.POST("/start-book", h.StartBook)
	rg.GET("/book-status", h.BookStatus)
}

// CreateSession создает сессию и синхронно выполняет быстрые этапы:
// валидацию, генерацию истории, извлечение элементов и разбиение на сцены.
// Возвращает историю сразу, не дожидаясь иллюстраций.
func (h *BookHandler) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid request body"})
		return
	}

	if err := validateCreateRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{Message: err.Error()})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), models.BookInput{
		CharacterName:  strings.TrimSpace(req.CharacterName),
		Animal:         strings.TrimSpace(req.Animal),
		Gender:         strings.ToLower(strings.TrimSpace(req.Gender)),
		Setting:        strings.TrimSpace(req.Setting),
		CustomElements: strings.TrimSpace(req.CustomElements),
		RandomizeAll:   req.RandomizeAll,
	})
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIError{Message: models.ErrInternalServer.Error()})
		return
	}

	sessionID := session.ID.String()
	session, runErr := h.pipeline.RunInline(c.Request.Context(), sessionID)
	if runErr != nil {
		// Сессия уже переведена в error; историю вернуть нечем
		h.logger.Warn("Inline stages failed", zap.String("session_id", sessionID), zap.Error(runErr))
		msg := "story generation failed"
		if session != nil && session.Error != "" {
			msg = fmt.Sprintf("story generation failed: %s", session.Error)
		}
		c.JSON(http.StatusInternalServerError, models.APIError{Message: msg})
		return
	}

	c.JSON(http.StatusOK, models.CreateSessionResponse{
		SessionID: sessionID,
		Story:     session.Story,
		Status:    session.Status,
	})
}

// StartBook запускает фоновую генерацию иллюстраций и сборку книги.
// Повторный вызов для той же сессии - безопасный no-op.
func (h *BookHandler) StartBook(c *gin.Context) {
	var req models.StartBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{Message: "session_id is required"})
		return
	}

	status, err := h.dispatcher.Start(c.Request.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, models.APIError{Message: models.ErrSessionNotFound.Error()})
		case errors.Is(err, dispatcher.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, models.APIError{Message: err.Error()})
		default:
			h.logger.Error("Failed to start book generation", zap.String("session_id", req.SessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, models.APIError{Message: models.ErrInternalServer.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, models.StartBookResponse{
		SessionID: req.SessionID,
		Status:    status,
	})
}

// BookStatus возвращает проекцию текущей записи сессии для опроса клиентом.
// Чистое чтение: безопасно вызывать сколь угодно часто параллельно с пайплайном.
func (h *BookHandler) BookStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, models.APIError{Message: "session_id query parameter is required"})
		return
	}

	session, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, models.APIError{Message: models.ErrSessionNotFound.Error()})
			return
		}
		h.logger.Error("Failed to get session", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIError{Message: models.ErrInternalServer.Error()})
		return
	}

	resp := models.BookStatusResponse{
		Status:  session.Status,
		Story:   session.Story,
		BookURL: session.BookURL,
		Error:   session.Error,
	}
	// Иллюстрации отдаются строго в порядке индексов сцен
	for _, scene := range session.Scenes {
		if scene.ImageURL != "" {
			resp.Illustrations = append(resp.Illustrations, scene.ImageURL)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// validateCreateRequest проверяет сырые ингредиенты до создания сессии.
func validateCreateRequest(req *models.CreateSessionRequest) error {
	if gender := strings.ToLower(strings.TrimSpace(req.Gender)); gender != "" && gender != "male" && gender != "female" {
		return fmt.Errorf("%w: gender must be male or female", models.ErrInvalidInput)
	}
	if len(req.CharacterName) > maxNameLen {
		return fmt.Errorf("%w: character_name is too long", models.ErrInvalidInput)
	}
	if len(req.Animal) > maxNameLen {
		return fmt.Errorf("%w: animal is too long", models.ErrInvalidInput)
	}
	if len(req.Setting) > maxSettingLen {
		return fmt.Errorf("%w: setting is too long", models.ErrInvalidInput)
	}
	if len(req.CustomElements) > maxCustomElementsLen {
		return fmt.Errorf("%w: custom_elements is too long", models.ErrInvalidInput)
	}
	return nil
}
