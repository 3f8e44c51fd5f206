package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// LangChain adapts any langchaingo model to Completer.
type LangChain struct {
	model llms.Model
}

// NewLangChain wraps model.
func NewLangChain(model llms.Model) (*LangChain, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	return &LangChain{model: model}, nil
}

// Complete sends the system and user prompts as one exchange.
func (l *LangChain) Complete(ctx context.Context, spec PromptSpec) (*Output, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if spec.System != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, spec.System))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, spec.Render()))

	opts := []llms.CallOption{llms.WithTemperature(spec.Temperature)}
	if spec.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(spec.MaxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, errors.New("empty response from model")
	}
	return NewOutput(resp.Choices[0].Content), nil
}
