package fynq

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTitle is the title given to sessions created without one.
const DefaultTitle = "New Chat"

// TempIDPrefix marks identifiers synthesized locally for optimistic records.
const TempIDPrefix = "temp-"

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the two known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// ParseSender maps the textual encoding to a Sender.
func ParseSender(v string) (Sender, error) {
	switch Sender(strings.ToLower(strings.TrimSpace(v))) {
	case SenderUser:
		return SenderUser, nil
	case SenderBot:
		return SenderBot, nil
	}
	return "", fmt.Errorf("fynq: unknown sender %q", v)
}

// Session groups messages into a conversation owned by one user.
type Session struct {
	ID         string         `json:"id" yaml:"id"`
	OwnerID    string         `json:"user_id" yaml:"user_id"`
	Title      string         `json:"title" yaml:"title"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
	IsArchived bool           `json:"is_archived" yaml:"is_archived"`
	Rating     *int           `json:"rating,omitempty" yaml:"rating,omitempty"`
	Feedback   *string        `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Message is a single turn in a session.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	Seq       int64     `json:"seq" yaml:"seq"`
	Content   string    `json:"content" yaml:"content"`
	Sender    Sender    `json:"sender" yaml:"sender"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Timestamp is the creation time of the message.
func (m Message) Timestamp() time.Time {
	return m.CreatedAt
}

// IsTempID reports whether id was synthesized locally and never confirmed by
// the remote store.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Image is an optional picture attached to a tutor prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// Prompt is what the UI hands to a Tutor.
type Prompt struct {
	Text    string
	Image   *Image
	History []Message
}

// Reply is the tutor's answer.
type Reply struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage holds token counts from the provider response.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}
