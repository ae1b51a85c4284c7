package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON object or array can be recovered.
var ErrNoJSON = errors.New("no JSON found in response")

var (
	fencePrefix = regexp.MustCompile("(?i)^```(?:json)?")
	arraySpan   = regexp.MustCompile(`(?s)\[.*\]`)
	objectSpan  = regexp.MustCompile(`\{(?:[^{}]|\{[^}]*\})*\}`)
)

// ExtractJSON recovers a list of objects from model output. It strips code
// fences, then tries a direct decode, the outermost [...] span and finally
// every {...} object found in the text. A lone object becomes a one-element
// list.
func ExtractJSON(text string) ([]map[string]any, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fencePrefix.ReplaceAllString(text, "")
		text = strings.TrimSpace(strings.TrimRight(text, "`"))
	}

	if items, ok := decodeObjects(text); ok {
		return items, nil
	}
	if span := arraySpan.FindString(text); span != "" {
		if items, ok := decodeObjects(span); ok {
			return items, nil
		}
	}
	if objs := objectSpan.FindAllString(text, -1); len(objs) > 0 {
		if items, ok := decodeObjects("[" + strings.Join(objs, ",") + "]"); ok {
			return items, nil
		}
	}
	return nil, ErrNoJSON
}

func decodeObjects(s string) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}, true
	case []any:
		items := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items, true
	default:
		return nil, false
	}
}
