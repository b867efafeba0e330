package genai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is the ParseError cause when the text holds no balanced object.
var ErrNoJSONObject = errors.New("no balanced JSON object found")

// ErrMissingField is the ParseError cause when a required key is absent or null.
var ErrMissingField = errors.New("required field missing")

// ParseError reports generation output that could not be decoded into the
// call site's schema.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable generation output (%d bytes): %v", len(e.Raw), e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseJSON decodes generation output into T. It tries a strict parse first,
// then retries once on the first balanced {...} substring.
func ParseJSON[T any](raw string) (T, error) {
	out, _, err := parseJSON[T](raw)
	return out, err
}

// ParseJSONFields decodes like ParseJSON and also requires every key in
// required to be present and non-null in the decoded object. Output such as
// {} or null is a ParseError rather than a zero-valued T.
func ParseJSONFields[T any](raw string, required ...string) (T, error) {
	out, obj, err := parseJSON[T](raw)
	if err != nil {
		return out, err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(obj, &keys); err != nil {
		return *new(T), &ParseError{Raw: raw, Cause: err}
	}
	var missing []string
	for _, k := range required {
		if v, ok := keys[k]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return *new(T), &ParseError{Raw: raw, Cause: fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))}
	}
	return out, nil
}

// parseJSON returns the decoded value along with the exact text it came from.
func parseJSON[T any](raw string) (T, []byte, error) {
	var out T
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, []byte(trimmed), nil
	}

	obj, ok := ExtractFirstObject(trimmed)
	if !ok {
		return out, nil, &ParseError{Raw: raw, Cause: ErrNoJSONObject}
	}
	out = *new(T)
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, nil, &ParseError{Raw: raw, Cause: err}
	}
	return out, []byte(obj), nil
}

// ExtractFirstObject returns the first balanced {...} substring of s. Braces
// inside JSON strings are ignored.
func ExtractFirstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace finds the index of the brace closing the one at s[start].
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
