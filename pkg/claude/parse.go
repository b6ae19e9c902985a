package claude

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// CleanJSON strips markdown code fences and surrounding prose from a model
// response, returning the first top-level JSON object or array found. Models
// frequently wrap JSON in ```json fences or preface it with commentary even
// when told not to.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Locate the first balanced object or array.
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text[start:]
}

// ParseJSON cleans a model response and unmarshals it into out.
func ParseJSON(text string, out any) error {
	cleaned := CleanJSON(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return eris.Wrap(err, "claude: parse json response")
	}
	return nil
}
