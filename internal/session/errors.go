package session

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch on these with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrBankNotFound     = fmt.Errorf("bank %w", ErrNotFound)

	ErrNotOwner = fmt.Errorf("session belongs to another user: %w", ErrForbidden)

	ErrSessionCompleted = fmt.Errorf("session already completed: %w", ErrInvalidState)
	ErrSessionDiscarded = fmt.Errorf("session was discarded: %w", ErrInvalidState)
	ErrEmptyQuestionSet = fmt.Errorf("no questions to answer: %w", ErrInvalidState)
)
