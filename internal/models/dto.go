package models

// CreateSessionRequest - тело запроса POST /api/create-session.
type CreateSessionRequest struct {
	CharacterName  string `json:"character_name"`
	Animal         string `json:"animal"`
	Gender         string `json:"gender"`
	Setting        string `json:"setting"`
	CustomElements string `json:"custom_elements"`
	RandomizeAll   bool   `json:"randomize_all"`
}

// CreateSessionResponse - ответ на создание сессии (после быстрых этапов).
type CreateSessionResponse struct {
	SessionID string        `json:"session_id"`
	Story     string        `json:"story"`
	Status    SessionStatus `json:"status"`
}

// StartBookRequest - тело запроса POST /api/start-book.
type StartBookRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// StartBookResponse - ответ на запуск фоновой генерации книги.
type StartBookResponse struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

// BookStatusResponse - проекция сессии для опроса клиентом.
// Никогда не показывает регресс статуса: это чистое чтение записи стора.
type BookStatusResponse struct {
	Status        SessionStatus `json:"status"`
	Story         string        `json:"story,omitempty"`
	BookURL       string        `json:"book_url,omitempty"`
	Illustrations []string      `json:"illustrations,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}
