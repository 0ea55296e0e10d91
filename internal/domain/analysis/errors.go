package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExceeded indicates the LLM provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("llm quota exceeded")

// ValidationError reports malformed user or system input. It is fatal to the
// current request and never retried.
type ValidationError struct {
	Field    string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, strings.Join(e.Problems, "; "))
}

// Invalid is shorthand for a single-problem ValidationError.
func Invalid(field, problem string) *ValidationError {
	return &ValidationError{Field: field, Problems: []string{problem}}
}

// GenerationError wraps a transport failure of the code generation capability.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "code generation failed: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// ExecutionError is raised by generated code inside the sandbox.
type ExecutionError struct {
	Message   string `json:"exception_message"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

func (e *ExecutionError) Error() string { return e.Message }

// CodeExecutionError is the snapshot of one failed attempt.
type CodeExecutionError struct {
	Code             string `json:"code,omitempty"`
	ExceptionMessage string `json:"exception_message"`
	Stdout           string `json:"stdout,omitempty"`
	Stderr           string `json:"stderr,omitempty"`
	Traceback        string `json:"traceback,omitempty"`
}

// Snapshot captures err as the failure of an attempt that ran code.
func Snapshot(code string, err error) CodeExecutionError {
	snap := CodeExecutionError{Code: code, ExceptionMessage: err.Error()}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		snap.ExceptionMessage = ee.Message
		snap.Stdout = ee.Stdout
		snap.Stderr = ee.Stderr
		snap.Traceback = ee.Traceback
	}
	return snap
}

// ReflectionExhaustedError is the terminal failure of the reflection loop,
// carried as data inside result metadata. History is oldest first.
type ReflectionExhaustedError struct {
	History []CodeExecutionError `json:"exception_history"`
}

// NewReflectionExhaustedError drops nil entries from history.
func NewReflectionExhaustedError(history []*CodeExecutionError) *ReflectionExhaustedError {
	out := make([]CodeExecutionError, 0, len(history))
	for _, h := range history {
		if h != nil {
			out = append(out, *h)
		}
	}
	return &ReflectionExhaustedError{History: out}
}

func (e *ReflectionExhaustedError) Error() string {
	last := e.Latest()
	if last == nil {
		return fmt.Sprintf("reflection exhausted after %d attempts", len(e.History))
	}
	return fmt.Sprintf("reflection exhausted after %d attempts: %s", len(e.History), last.ExceptionMessage)
}

// Latest returns the most recent failure or nil.
func (e *ReflectionExhaustedError) Latest() *CodeExecutionError {
	if e == nil || len(e.History) == 0 {
		return nil
	}
	return &e.History[len(e.History)-1]
}
