package chat

import (
	"context"
	"errors"

	"chatgpt-coordinator/internal/domain"
)

// ErrEmptyReply is recorded when a completion call succeeds without choices.
var ErrEmptyReply = errors.New("completion returned no choices")

// TransportError wraps a failed completion call.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "completion request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type CompletionRequest struct {
	Model     string
	Turns     []domain.Turn
	MaxTokens int
}

type Completion struct {
	Choices []Choice
}

type Choice struct {
	Content string
}
