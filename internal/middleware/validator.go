package middleware

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxQuestionLength bounds a chat message in runes.
const MaxQuestionLength = 4000

var datasetNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_. -]{0,127}$`)

// ValidateSessionID accepts canonical UUIDs only.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateDatasetName allows letters, digits, underscore, dot, dash and
// space, up to 128 chars.
func ValidateDatasetName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name cannot be empty")
	}
	if !datasetNameRe.MatchString(name) {
		return fmt.Errorf("invalid dataset name %q (letters, digits, _ . - and space only, max 128 chars)", name)
	}
	return nil
}

// ValidateQuestion sanitizes a chat message and checks its length.
func ValidateQuestion(q string) (string, error) {
	q = SanitizeString(q)
	if q == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", fmt.Errorf("message is longer than %d characters", MaxQuestionLength)
	}
	return q, nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
