package fynq

import (
	"context"
	"errors"
)

var (
	ErrEmptyPrompt    = errors.New("fynq: prompt is empty")
	ErrProviderFailed = errors.New("fynq: provider error")
)

// Tutor is the language-model backend the UI talks to. The sync core never
// calls it; it only persists the text the UI hands over.
type Tutor interface {
	Reply(ctx context.Context, prompt Prompt) (*Reply, error)
}
