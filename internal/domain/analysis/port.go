package analysis

import (
	"context"

	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

// Prompt is a system/user message pair sent to the LLM.
type Prompt struct {
	System string
	User   string
}

// Generation is the code generation answer.
type Generation struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Generator port (code generation capability)
type Generator interface {
	Generate(ctx context.Context, p Prompt) (Generation, error)
}

// Completer port (raw JSON completion capability)
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Entrypoint names the function the sandbox calls after loading the code.
// Arg is "dfs" (all datasets keyed by name) or "df" (first dataset only).
type Entrypoint struct {
	Function string `json:"function"`
	Arg      string `json:"arg"`
}

var (
	AnalyzeEntrypoint = Entrypoint{Function: "analyze_data", Arg: "dfs"}
	ChartsEntrypoint  = Entrypoint{Function: "create_charts", Arg: "df"}
)

// Execution is one sandbox invocation. Datasets are bound by name; the
// first one is the "df" binding.
type Execution struct {
	Code       string
	Entrypoint Entrypoint
	Datasets   []*dataset.Dataset
}

// Bindings returns the name -> dataset mapping exposed to the code.
func (e Execution) Bindings() map[string]*dataset.Dataset {
	b := make(map[string]*dataset.Dataset, len(e.Datasets))
	for _, d := range e.Datasets {
		if d != nil {
			b[d.Name()] = d
		}
	}
	return b
}

// Output is what the generated code produced.
type Output struct {
	Dataset *dataset.Dataset
	Figures []string
	Stdout  string
	Stderr  string
}

// Sandbox port (isolated execution capability). A failure raised by the
// generated code is returned as *ExecutionError.
type Sandbox interface {
	Execute(ctx context.Context, ex Execution) (Output, error)
}

// Trace ties a request to its session for logging and the audit log.
type Trace struct {
	SessionID string
	RequestID string
}

// ArtifactStore port (publishes result payloads, returns their URL)
type ArtifactStore interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}
