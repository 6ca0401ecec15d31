package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// TokenCounter estimates the prompt tokens of a chat request.
type TokenCounter func(model string, messages []openai.ChatCompletionMessage) (int, error)

const fallbackEncoding = "cl100k_base"

// CountTokens counts with the model's tiktoken encoding, or cl100k_base for
// models tiktoken does not know. Image parts are not counted.
func CountTokens(model string, messages []openai.ChatCompletionMessage) (int, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if tkm, err = tiktoken.GetEncoding(fallbackEncoding); err != nil {
			return 0, fmt.Errorf("fynq: load encoding: %w", err)
		}
	}

	// every message carries <|start|>{role}\n{content}<|end|>\n
	const tokensPerMessage = 3
	n := 0
	for _, m := range messages {
		n += tokensPerMessage
		n += len(tkm.Encode(m.Role, nil, nil))
		n += len(tkm.Encode(m.Content, nil, nil))
		for _, part := range m.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				n += len(tkm.Encode(part.Text, nil, nil))
			}
		}
		if m.Name != "" {
			n += len(tkm.Encode(m.Name, nil, nil)) + 1
		}
	}
	// reply is primed with <|start|>assistant<|message|>
	return n + 3, nil
}
