package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable is reported when the agent has no model capability.
var ErrModelUnavailable = errors.New("language model unavailable")

// errEmptyCompletion marks a model reply with no usable text.
var errEmptyCompletion = errors.New("empty completion")

// CompletionRequest is one call to the language model.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
}

// Model is the external language-model capability. Implementations own their
// own timeouts; any returned error is treated as "capability unavailable".
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// completion is the outcome of one model call: text on success, reason on failure.
type completion struct {
	text   string
	reason error
}

func (c completion) ok() bool { return c.reason == nil }

// complete invokes the model and folds every failure mode, panics included,
// into the failure variant.
func complete(ctx context.Context, model Model, req CompletionRequest) (result completion) {
	if model == nil {
		return completion{reason: ErrModelUnavailable}
	}
	defer func() {
		if r := recover(); r != nil {
			result = completion{reason: fmt.Errorf("model panicked: %v", r)}
		}
	}()

	text, err := model.Complete(ctx, req)
	if err != nil {
		return completion{reason: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return completion{reason: errEmptyCompletion}
	}
	return completion{text: text}
}
