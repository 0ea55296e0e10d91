package mysql

import (
	"encoding/json"
	"strings"
)

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// normalizeDetails makes sure details is a JSON document; anything else is
// wrapped as {"raw": ...}.
func normalizeDetails(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	var js any
	if json.Unmarshal([]byte(details), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
