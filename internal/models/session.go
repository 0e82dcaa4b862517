package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus представляет состояние сессии генерации книги
type SessionStatus string

// Возможные статусы сессии. Переходы строго монотонны:
// pending -> validated -> story_ready -> elements_ready -> generating -> assembling -> done.
// error достижим из любого нетерминального статуса и, как и done, терминален.
const (
	StatusPending       SessionStatus = "pending"
	StatusValidated     SessionStatus = "validated"
	StatusStoryReady    SessionStatus = "story_ready"
	StatusElementsReady SessionStatus = "elements_ready"
	StatusGenerating    SessionStatus = "generating"
	StatusAssembling    SessionStatus = "assembling"
	StatusDone          SessionStatus = "done"
	StatusError         SessionStatus = "error"
)

// statusRank задает порядок статусов в пайплайне (для проверки монотонности).
var statusRank = map[SessionStatus]int{
	StatusPending:       0,
	StatusValidated:     1,
	StatusStoryReady:    2,
	StatusElementsReady: 3,
	StatusGenerating:    4,
	StatusAssembling:    5,
	StatusDone:          6,
	StatusError:         7,
}

// Rank возвращает позицию статуса в порядке пайплайна.
func (s SessionStatus) Rank() int {
	return statusRank[s]
}

// IsTerminal сообщает, является ли статус терминальным.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// BookInput содержит нормализованные ингредиенты истории.
// Поля Pronoun*, Age и Length заполняются на этапе валидации.
type BookInput struct {
	CharacterName  string `json:"character_name"`
	Animal         string `json:"animal"`
	Gender         string `json:"gender"`
	Setting        string `json:"setting"`
	CustomElements string `json:"custom_elements,omitempty"`
	RandomizeAll   bool   `json:"randomize_all"`

	PronounSubject    string `json:"pronoun_subject,omitempty"`
	PronounObject     string `json:"pronoun_object,omitempty"`
	PronounPossessive string `json:"pronoun_possessive,omitempty"`
	Age               string `json:"age,omitempty"`
	Length            string `json:"length,omitempty"`
}

// StoryElements - главный герой и место действия, извлеченные из готовой истории.
// Используются для заголовка книги и контекста иллюстраций.
type StoryElements struct {
	Character string `json:"character"`
	Setting   string `json:"setting"`
}

// Scene - одна сцена книги. Index задает канонический порядок и фиксируется
// при разбиении истории; после этого меняется только ImageURL (ровно один раз).
type Scene struct {
	Index              int    `json:"index"`
	TextExcerpt        string `json:"text_excerpt"`
	IllustrationPrompt string `json:"illustration_prompt"`
	ImageURL           string `json:"image_url,omitempty"`
}

// Session - единица работы: одна заявка пользователя на книгу от создания до
// готового артефакта.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	Input     BookInput      `json:"input"`
	Status    SessionStatus  `json:"status"`
	Story     string         `json:"story,omitempty"`
	Elements  *StoryElements `json:"elements,omitempty"`
	Scenes    []Scene        `json:"scenes,omitempty"`
	BookURL   string         `json:"book_url,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone возвращает глубокую копию сессии, чтобы читатели никогда не видели
// частично записанных данных.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Elements != nil {
		el := *s.Elements
		cp.Elements = &el
	}
	if s.Scenes != nil {
		cp.Scenes = make([]Scene, len(s.Scenes))
		copy(cp.Scenes, s.Scenes)
	}
	return &cp
}
