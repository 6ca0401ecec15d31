package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fynq"
)

// wordCounter counts whitespace separated words so tests need no encoder
// download.
func wordCounter(_ string, msgs []openai.ChatCompletionMessage) (int, error) {
	n := 0
	for _, m := range msgs {
		n += len(strings.Fields(m.Content))
		for _, p := range m.MultiContent {
			n += len(strings.Fields(p.Text))
		}
	}
	return n, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func history(contents ...string) []fynq.Message {
	out := make([]fynq.Message, 0, len(contents))
	for i, c := range contents {
		sender := fynq.SenderUser
		if i%2 == 1 {
			sender = fynq.SenderBot
		}
		out = append(out, fynq.Message{Content: c, Sender: sender})
	}
	return out
}

func TestBuildMessagesTrimsOldestHistory(t *testing.T) {
	p := New("k", "gpt-test",
		WithSystemPrompt("be kind"),
		WithHistoryTokens(10),
		WithTokenCounter(wordCounter),
		WithLogger(quiet()),
	)

	msgs, dropped := p.buildMessages(fynq.Prompt{
		Text:    "final question here",
		History: history("one two three", "four five six", "seven eight"),
	})

	// be kind (2) + final question here (3) + seven eight (2) = 7 < 10
	assert.Equal(t, 2, dropped)
	require.Len(t, msgs, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "seven eight", msgs[1].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, "final question here", msgs[2].Content)
}

func TestBuildMessagesDropsHistoryWhenCounterFails(t *testing.T) {
	p := New("k", "m",
		WithTokenCounter(func(string, []openai.ChatCompletionMessage) (int, error) {
			return 0, errors.New("no encoder")
		}),
		WithLogger(quiet()),
	)

	msgs, dropped := p.buildMessages(fynq.Prompt{Text: "q", History: history("a", "b")})
	assert.Equal(t, 2, dropped)
	require.Len(t, msgs, 1)
	assert.Equal(t, "q", msgs[0].Content)
}

func TestUserMessageWithImage(t *testing.T) {
	m := userMessage(fynq.Prompt{Text: "what shape?", Image: &fynq.Image{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}})
	assert.Empty(t, m.Content)
	require.Len(t, m.MultiContent, 2)
	assert.Equal(t, "what shape?", m.MultiContent[0].Text)
	require.NotNil(t, m.MultiContent[1].ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,AQID", m.MultiContent[1].ImageURL.URL)
}

func TestReply(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "c1", "object": "chat.completion", "model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Because 7 has no divisors but 1 and 7."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 11, "total_tokens": 31}
		}`)
	}))
	defer srv.Close()

	p := New("k", "gpt-test",
		WithBaseURL(srv.URL+"/v1"),
		WithMaxTokens(128),
		WithTokenCounter(wordCounter),
		WithLogger(quiet()),
	)
	reply, err := p.Reply(context.Background(), fynq.Prompt{Text: "why is 7 prime?", History: history("hi", "hello")})
	require.NoError(t, err)
	assert.Equal(t, "Because 7 has no divisors but 1 and 7.", reply.Content)
	assert.Equal(t, 31, reply.Usage.TotalTokens)
	assert.Equal(t, 11, reply.Usage.ResponseTokens)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 128, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[1].Role)
}

func TestReplyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := New("k", "m", WithBaseURL(srv.URL+"/v1"), WithTokenCounter(wordCounter), WithLogger(quiet()))
	_, err := p.Reply(context.Background(), fynq.Prompt{Text: "q"})
	assert.ErrorIs(t, err, fynq.ErrProviderFailed)
	assert.Contains(t, err.Error(), "401")

	_, err = p.Reply(context.Background(), fynq.Prompt{})
	assert.ErrorIs(t, err, fynq.ErrEmptyPrompt)
}
