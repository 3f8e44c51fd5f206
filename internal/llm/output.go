package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Output is a model completion. Structured is set when the text held a
// JSON object.
type Output struct {
	Text       string
	Structured map[string]any
}

// NewOutput wraps raw model text, decoding a JSON object when one is present.
func NewOutput(text string) *Output {
	out := &Output{Text: text}
	if obj, err := ExtractJSON(text); err == nil {
		out.Structured = obj
	}
	return out
}

// ExtractJSON finds and decodes the first JSON object in text. It accepts
// bare JSON, fenced code blocks and objects surrounded by prose.
func ExtractJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}

	candidates := []string{text}
	if fenced, ok := fencedBlock(text); ok {
		candidates = append(candidates, fenced)
	}
	if obj, ok := firstObject(text); ok {
		candidates = append(candidates, obj)
	}

	for _, c := range candidates {
		var out map[string]any
		if err := json.Unmarshal([]byte(c), &out); err == nil && out != nil {
			return out, nil
		}
	}
	return nil, ErrNoJSON
}

// fencedBlock returns the body of the first ``` fence.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstObject returns the first brace-balanced span, honoring strings.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// String returns a string field, or "" when absent or not a string.
func (o *Output) String(key string) string {
	if o == nil || o.Structured == nil {
		return ""
	}
	s, _ := o.Structured[key].(string)
	return strings.TrimSpace(s)
}

// Float returns a numeric field. Numeric strings are accepted.
func (o *Output) Float(key string) (float64, bool) {
	if o == nil || o.Structured == nil {
		return 0, false
	}
	var f float64
	switch v := o.Structured[key].(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Map returns an object field.
func (o *Output) Map(key string) (map[string]any, bool) {
	if o == nil || o.Structured == nil {
		return nil, false
	}
	m, ok := o.Structured[key].(map[string]any)
	return m, ok
}
