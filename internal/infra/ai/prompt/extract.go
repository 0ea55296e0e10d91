package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ExtractJSON returns the first JSON object in an LLM reply, tolerating code
// fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if m := fenceRe.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(m[1])
		}
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object in reply")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", fmt.Errorf("invalid JSON in reply: %w", err)
	}
	return string(raw), nil
}

// StripCodeFence removes a surrounding markdown fence from generated code.
func StripCodeFence(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "```") {
		if m := fenceRe.FindStringSubmatch(code); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return code
}

// ParseGeneration decodes a {code, description} reply.
func ParseGeneration(text string) (analysis.Generation, error) {
	js, err := ExtractJSON(text)
	if err != nil {
		return analysis.Generation{}, err
	}
	var g analysis.Generation
	if err := json.Unmarshal([]byte(js), &g); err != nil {
		return analysis.Generation{}, fmt.Errorf("malformed generation: %w", err)
	}
	g.Code = StripCodeFence(g.Code)
	if g.Code == "" {
		return analysis.Generation{}, fmt.Errorf("malformed generation: code is empty")
	}
	return g, nil
}

// Decode extracts the JSON object from text into v.
func Decode(text string, v any) error {
	js, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(js), v)
}
