// Package gemini implements fynq.Tutor on the Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/meikuraledutech/fynq"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
const maxAttempts = 2

// Fail reasons reported in logs.
const (
	FailReasonTimeout      = "timeout"
	FailReasonNetworkError = "network_error"
	FailReasonHTTPStatus   = "http_status"
	FailReasonEmpty        = "empty_response"
	FailReasonUnknownError = "unknown_error"
)

// Provider implements fynq.Tutor using the Gemini REST API.
type Provider struct {
	apiKey       string
	modelID      string
	baseURL      string
	systemPrompt string
	maxTokens    int
	client       *http.Client
	log          *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

func WithSystemPrompt(p string) Option {
	return func(g *Provider) { g.systemPrompt = p }
}

// WithMaxTokens caps maxOutputTokens; zero leaves the model default.
func WithMaxTokens(n int) Option {
	return func(g *Provider) { g.maxTokens = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Provider) { g.client = c }
}

// WithBaseURL points the provider at another endpoint, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(g *Provider) { g.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Provider) { g.log = l }
}

// New creates a Provider.
func New(apiKey, modelID string, opts ...Option) *Provider {
	g := &Provider{
		apiKey:  apiKey,
		modelID: modelID,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reply sends the prompt with its history and returns the model's text.
// Network failures, 429 and 5xx responses, and empty answers are retried
// once.
func (g *Provider) Reply(ctx context.Context, prompt fynq.Prompt) (*fynq.Reply, error) {
	if strings.TrimSpace(prompt.Text) == "" && prompt.Image == nil {
		return nil, fynq.ErrEmptyPrompt
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := g.sendOnce(ctx, prompt)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		g.log.Warn("gemini request failed",
			"model", g.modelID, "attempt", attempt, "reason", classifyError(err), "err", err)
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// statusError is a non-200 response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return fynq.ErrProviderFailed }

var errEmptyResponse = fmt.Errorf("%w: empty response from Gemini", fynq.ErrProviderFailed)

// sendOnce makes a single API request without retry.
func (g *Provider) sendOnce(ctx context.Context, prompt fynq.Prompt) (*fynq.Reply, error) {
	jsonBody, err := json.Marshal(g.buildRequest(prompt))
	if err != nil {
		return nil, fmt.Errorf("fynq: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.modelID, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("fynq: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fynq: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fynq: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	return parseResponse(body)
}

func (g *Provider) buildRequest(prompt fynq.Prompt) geminiRequest {
	contents := make([]geminiContent, 0, len(prompt.History)+1)
	for _, msg := range prompt.History {
		role := "user"
		if msg.Sender == fynq.SenderBot {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}

	var parts []geminiPart
	if prompt.Text != "" {
		parts = append(parts, geminiPart{Text: prompt.Text})
	}
	if img := prompt.Image; img != nil {
		parts = append(parts, geminiPart{InlineData: &geminiBlob{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: parts})

	req := geminiRequest{Contents: contents}
	if g.maxTokens > 0 {
		req.GenerationConfig = &generationConfig{MaxOutputTokens: g.maxTokens}
	}
	if g.systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: g.systemPrompt}}}
	}
	return req
}

func parseResponse(body []byte) (*fynq.Reply, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("fynq: parse response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errEmptyResponse
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, errEmptyResponse
	}

	return &fynq.Reply{
		Content: text.String(),
		Usage: fynq.Usage{
			PromptTokens:   resp.UsageMetadata.PromptTokenCount,
			ResponseTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:    resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, errEmptyResponse) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyError categorizes an error for logging.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailReasonTimeout
		}
		return FailReasonNetworkError
	}
	if errors.Is(err, context.Canceled) {
		return FailReasonNetworkError
	}
	var se *statusError
	if errors.As(err, &se) {
		return FailReasonHTTPStatus
	}
	if errors.Is(err, errEmptyResponse) {
		return FailReasonEmpty
	}
	return FailReasonUnknownError
}

// Gemini API request and response types.
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Ensure Provider implements fynq.Tutor at compile time.
var _ fynq.Tutor = (*Provider)(nil)
