package validators

import (
	"net/http"
	"strings"
)

// maxSearchLen bounds free-text search input.
const maxSearchLen = 100

func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}

// SearchQuery returns the trimmed and bounded value of query parameter key.
func SearchQuery(r *http.Request, key string) string {
	return SanitizeString(r.URL.Query().Get(key), maxSearchLen)
}
