package annotator

import (
	"fmt"
	"strings"

	"trendscan/internal/faults"
)

// ExtractObject returns the first balanced JSON object found in raw. The
// model frequently wraps its output in prose or markdown fences, so the
// extractor first strips a ```json fence when present and then scans for a
// brace-balanced object, honoring string literals and escapes. Returns
// faults.ErrMalformedResponse when no complete object exists.
func ExtractObject(raw string) (string, error) {
	raw = stripFence(strings.TrimSpace(raw))

	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response: %w", faults.ErrMalformedResponse)
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		c := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unterminated JSON object in response: %w", faults.ErrMalformedResponse)
}

func stripFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}

	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSpace(raw)
	if idx := strings.LastIndex(raw, "```"); idx != -1 {
		raw = raw[:idx]
	}

	return strings.TrimSpace(raw)
}
