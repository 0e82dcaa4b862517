package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid input data")

	ErrInternalServer = errors.New("internal server error")
)

// StageError - типизированная ошибка этапа генерации.
// Transient=true означает, что вызов можно повторить (таймаут, 429 и т.п.);
// нетранзиентные ошибки сразу переводят сессию в error.
type StageError struct {
	Stage     string
	Transient bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewTransientStageError оборачивает временную ошибку этапа.
func NewTransientStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Transient: true, Err: err}
}

// NewTerminalStageError оборачивает фатальную ошибку этапа.
func NewTerminalStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Transient: false, Err: err}
}

// IsTransient сообщает, можно ли повторить вызов этапа после этой ошибки.
func IsTransient(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
