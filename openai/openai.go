// Package openai implements fynq.Tutor on an OpenAI-compatible chat
// completions API.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/meikuraledutech/fynq"
)

// DefaultHistoryTokens bounds the prompt size when no limit is configured.
const DefaultHistoryTokens = 3500

// Provider implements fynq.Tutor using go-openai.
type Provider struct {
	client        *openai.Client
	model         string
	systemPrompt  string
	maxTokens     int
	historyTokens int
	count         TokenCounter
	log           *slog.Logger
}

type options struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider, *options)

// WithBaseURL targets another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(_ *Provider, o *options) { o.baseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(_ *Provider, o *options) { o.httpClient = c }
}

func WithSystemPrompt(s string) Option {
	return func(p *Provider, _ *options) { p.systemPrompt = s }
}

// WithMaxTokens caps the completion length; zero leaves the API default.
func WithMaxTokens(n int) Option {
	return func(p *Provider, _ *options) { p.maxTokens = n }
}

// WithHistoryTokens sets the prompt budget history is trimmed to.
func WithHistoryTokens(n int) Option {
	return func(p *Provider, _ *options) {
		if n > 0 {
			p.historyTokens = n
		}
	}
}

// WithTokenCounter replaces the tiktoken based counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(p *Provider, _ *options) { p.count = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider, _ *options) { p.log = l }
}

// New creates a Provider for model.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		model:         model,
		historyTokens: DefaultHistoryTokens,
		count:         CountTokens,
		log:           slog.Default(),
	}
	var o options
	for _, opt := range opts {
		opt(p, &o)
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

// Reply sends the prompt after trimming the oldest history to the token
// budget.
func (p *Provider) Reply(ctx context.Context, prompt fynq.Prompt) (*fynq.Reply, error) {
	if strings.TrimSpace(prompt.Text) == "" && prompt.Image == nil {
		return nil, fynq.ErrEmptyPrompt
	}

	messages, trimmed := p.buildMessages(prompt)
	if trimmed > 0 {
		p.log.Info("history trimmed to token budget", "model", p.model, "dropped", trimmed)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: status %d: %s", fynq.ErrProviderFailed, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %v", fynq.ErrProviderFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty response from OpenAI", fynq.ErrProviderFailed)
	}

	return &fynq.Reply{
		Content: resp.Choices[0].Message.Content,
		Usage: fynq.Usage{
			PromptTokens:   resp.Usage.PromptTokens,
			ResponseTokens: resp.Usage.CompletionTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
	}, nil
}

// buildMessages returns the request messages and how many history entries
// were dropped to fit the budget. The system prompt and the new user
// message are never dropped.
func (p *Provider) buildMessages(prompt fynq.Prompt) ([]openai.ChatCompletionMessage, int) {
	var head []openai.ChatCompletionMessage
	if p.systemPrompt != "" {
		head = append(head, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.systemPrompt})
	}

	history := make([]openai.ChatCompletionMessage, 0, len(prompt.History))
	for _, m := range prompt.History {
		history = append(history, openai.ChatCompletionMessage{Role: role(m.Sender), Content: m.Content})
	}

	last := userMessage(prompt)

	build := func() []openai.ChatCompletionMessage {
		out := make([]openai.ChatCompletionMessage, 0, len(head)+len(history)+1)
		out = append(out, head...)
		out = append(out, history...)
		return append(out, last)
	}

	dropped := 0
	for len(history) > 0 {
		n, err := p.count(p.model, build())
		if err != nil {
			p.log.Warn("token count failed", "model", p.model, "err", err)
		} else if n < p.historyTokens {
			break
		}
		history = history[1:]
		dropped++
	}
	return build(), dropped
}

func userMessage(prompt fynq.Prompt) openai.ChatCompletionMessage {
	if prompt.Image == nil {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.Text}
	}

	var parts []openai.ChatMessagePart
	if prompt.Text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt.Text})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    dataURL(prompt.Image),
			Detail: openai.ImageURLDetailAuto,
		},
	})
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func dataURL(img *fynq.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func role(s fynq.Sender) string {
	if s == fynq.SenderBot {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

// Ensure Provider implements fynq.Tutor at compile time.
var _ fynq.Tutor = (*Provider)(nil)
