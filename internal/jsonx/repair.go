package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// The completion model emits near-JSON more often than JSON: fenced blocks,
// prose before the opening brace, raw newlines inside strings, trailing
// commas, unbalanced brackets when the output was truncated. Repair applies
// best-effort fixups so a strict parse can follow. It never invents
// structure beyond closing what was left open.

// Decode parses raw into a generic value tree, repairing it first when a
// strict parse fails. Valid JSON decodes exactly as json.Unmarshal would.
func Decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	repaired := Repair(raw)
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("unparseable model output: %w", err)
	}
	return v, nil
}

// DecodeObject is Decode restricted to a top-level JSON object.
func DecodeObject(raw string) (map[string]any, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("model output is not a JSON object")
	}
	return obj, nil
}

// Repair returns its best attempt at syntactically valid JSON. The result
// is not guaranteed to parse; callers must still check.
func Repair(raw string) string {
	s := stripFences(raw)
	s = trimToFirstBracket(s)
	if s == "" {
		return s
	}

	var (
		out      strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteByte(ch)
			case ch == '\\':
				escaped = true
				out.WriteByte(ch)
			case ch == '"':
				inString = false
				out.WriteByte(ch)
			case ch == '\n':
				out.WriteString(`\n`)
			case ch == '\r':
				out.WriteString(`\r`)
			case ch == '\t':
				out.WriteString(`\t`)
			default:
				out.WriteByte(ch)
			}
			i++
			continue
		}

		switch ch {
		case '"':
			inString = true
			out.WriteByte(ch)
		case '{', '[':
			stack = append(stack, closerFor(ch))
			out.WriteByte(ch)
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
				out.WriteByte(ch)
				if len(stack) == 0 {
					// Top-level value closed; anything after is stray.
					return out.String()
				}
			}
			// Mismatched closer: drop it.
		case ',':
			if next := nextNonSpace(s, i+1); next == -1 || s[next] == '}' || s[next] == ']' {
				// Trailing comma.
			} else {
				out.WriteByte(ch)
			}
		default:
			out.WriteByte(ch)
		}
		i++
	}

	if inString {
		out.WriteByte('"')
	}
	for j := len(stack) - 1; j >= 0; j-- {
		out.WriteByte(stack[j])
	}
	return strings.TrimRight(strings.TrimSuffix(out.String(), ","), " \t\r\n")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line (```json).
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func trimToFirstBracket(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			return s[i:]
		}
	}
	return ""
}

func closerFor(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

func nextNonSpace(s string, from int) int {
	for i := from; i < len(s); i++ {
		if !unicode.IsSpace(rune(s[i])) {
			return i
		}
	}
	return -1
}
