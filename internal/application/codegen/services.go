package codegen

import (
	"context"
	"errors"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/infra/ai/prompt"
)

// Client turns a JSON Completer into a code Generator.
type Client struct {
	completer analysis.Completer
}

func NewClient(c analysis.Completer) *Client {
	return &Client{completer: c}
}

// Generate returns a *analysis.GenerationError when the completion call
// fails, and a plain error when the reply is malformed.
func (c *Client) Generate(ctx context.Context, p analysis.Prompt) (analysis.Generation, error) {
	text, err := c.completer.Complete(ctx, p)
	if err != nil {
		var ge *analysis.GenerationError
		if errors.As(err, &ge) {
			return analysis.Generation{}, err
		}
		return analysis.Generation{}, &analysis.GenerationError{Err: err}
	}
	return prompt.ParseGeneration(text)
}
