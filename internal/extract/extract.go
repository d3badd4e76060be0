package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

const fence = "```"

var (
	// ErrEmptyInput is returned for empty or whitespace-only text.
	ErrEmptyInput = errors.New("extract: empty input")

	// ErrNotFound is returned when no candidate object could be recovered.
	ErrNotFound = errors.New("extract: no movement object found")
)

var (
	anchorPattern   = regexp.MustCompile(`"(?:start|loop)"\s*:\s*\[`)
	fallbackPattern = regexp.MustCompile(`(?s)\{.*?\}`)
)

// Result is the outcome of an extraction attempt.
type Result struct {
	Success bool
	// Object is the comment-free JSON object text when Success is true.
	Object string
	// Method names the strategy that produced Object.
	Method string
	Err    error
}

// Extraction methods reported in Result.Method.
const (
	MethodFence       = "fence"
	MethodFenceAnchor = "fence_anchor"
	MethodOpenFence   = "open_fence"
	MethodAnchor      = "anchor"
	MethodFallback    = "fallback"
)

// Extract locates a JSON object with a start or loop field in text.
func Extract(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Err: ErrEmptyInput}
	}

	if content, closed, ok := fencedContent(text); ok {
		cleaned := strings.TrimSpace(StripComments(content))
		if closed {
			if isMovementObject(cleaned) {
				return found(cleaned, MethodFence)
			}
			if obj, ok := anchored(cleaned); ok {
				return found(obj, MethodFenceAnchor)
			}
		} else if obj, ok := anchored(cleaned); ok {
			return found(obj, MethodOpenFence)
		}
	}

	stripped := StripComments(text)
	if obj, ok := anchored(stripped); ok {
		return found(obj, MethodAnchor)
	}

	for _, span := range fallbackPattern.FindAllString(stripped, -1) {
		if isMovementObject(span) {
			return found(span, MethodFallback)
		}
	}

	return Result{Err: ErrNotFound}
}

// Object is Extract reduced to a value and an error.
func Object(text string) (string, error) {
	res := Extract(text)
	if !res.Success {
		return "", res.Err
	}
	return res.Object, nil
}

func found(obj, method string) Result {
	return Result{Success: true, Object: obj, Method: method}
}

// fencedContent returns the text inside the first code fence. closed is false
// when the fence has no closing marker, in which case everything after the
// opener is returned. An optional json language tag is skipped.
func fencedContent(text string) (content string, closed, ok bool) {
	open := strings.Index(text, fence)
	if open < 0 {
		return "", false, false
	}
	rest := text[open+len(fence):]
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}

	end := strings.Index(rest, fence)
	if end < 0 {
		return rest, false, true
	}
	return rest[:end], true, true
}

// anchored finds a "start":[ or "loop":[ key, walks back to the enclosing
// brace and forward to its match. The backward walk cannot see string
// literals, so when the nearest unmatched brace turns out to sit inside one,
// earlier braces are tried until a span covering the anchor parses.
func anchored(text string) (string, bool) {
	for _, loc := range anchorPattern.FindAllStringIndex(text, -1) {
		for open := enclosingBrace(text, loc[0]); open >= 0; open = strings.LastIndexByte(text[:open], '{') {
			obj, ok := balancedObject(text, open)
			if ok && open+len(obj) > loc[1] && isMovementObject(obj) {
				return obj, true
			}
		}
	}
	return "", false
}

// enclosingBrace scans backwards from pos for the nearest unmatched '{'.
func enclosingBrace(text string, pos int) int {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// balancedObject returns the span from the '{' at open to its matching '}',
// ignoring braces inside string literals.
func balancedObject(text string, open int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
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
				return text[open : i+1], true
			}
		}
	}
	return "", false
}

// isMovementObject reports whether s strictly parses as a JSON object with a
// start or loop field.
func isMovementObject(s string) bool {
	if !gjson.Valid(s) {
		return false
	}
	res := gjson.Parse(s)
	if !res.IsObject() {
		return false
	}
	return res.Get("start").Exists() || res.Get("loop").Exists()
}
