package eino

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

// Completer adapts an eino chat model to the Completer port.
type Completer struct {
	chat model.BaseChatModel
}

func New(chat model.BaseChatModel) *Completer {
	return &Completer{chat: chat}
}

// NewOpenAI builds a completer on the eino OpenAI chat model. JSON output is
// requested by the prompts and fences are stripped by the parser.
func NewOpenAI(ctx context.Context, apiKey, baseURL, modelName string, timeout time.Duration) (*Completer, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}
	return New(cm), nil
}

func (c *Completer) Complete(ctx context.Context, p analysis.Prompt) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(p.System),
		schema.UserMessage(p.User),
	}
	resp, err := c.chat.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chat model generate: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("chat model returned no message")
	}
	return resp.Content, nil
}
