package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024
	maxReasonLen  = 500
	maxErrSnippet = 200
)

var (
	// ErrNoJSON means the content held no balanced JSON object.
	ErrNoJSON = errors.New("no JSON object found")
	// ErrUnknownIntent means the object named an intent outside the known set.
	ErrUnknownIntent = errors.New("unknown intent")
)

// TriageResult is the validated classifier output.
type TriageResult struct {
	Intent     model.Intent
	Confidence float64
	Reason     string
}

type rawTriage struct {
	Intent     string   `json:"intent"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// ExtractJSONObject returns the first balanced {...} substring of s. Braces
// inside JSON strings are ignored, so prose or markdown fences around the
// object do not matter.
func ExtractJSONObject(s string) (string, bool) {
	bestStart, bestEnd := -1, -1
	from := strings.IndexByte(s, '{')
	for from >= 0 && (bestStart < 0 || from < bestStart) {
		start, end, retry := scanObjects(s, from)
		if end >= 0 && (bestStart < 0 || start < bestStart) {
			bestStart, bestEnd = start, end
		}
		from = retry
	}
	if bestStart < 0 {
		return "", false
	}
	return s[bestStart : bestEnd+1], true
}

// scanObjects pairs every brace opened outside a string from the '{' at from
// and returns the earliest-starting closed pair (end is -1 when none closed).
// retry is the first '{' the scan saw inside a string, the only kind of
// candidate it cannot judge; -1 when there is none.
func scanObjects(s string, from int) (start, end, retry int) {
	start, end, retry = -1, -1, -1
	var open []int
	inString := false
	escaped := false
	for i := from; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '{' && retry < 0:
				retry = i
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			o := open[len(open)-1]
			open = open[:len(open)-1]
			if start < 0 || o < start {
				start, end = o, i
			}
		}
	}
	return start, end, retry
}

// ParseTriage extracts and validates {"intent","confidence","reason"} from a
// model reply. Confidence is clamped to [0,1]; a missing confidence is 0.
func ParseTriage(content string) (res *TriageResult, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "triage_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("triage parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			res = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "triage_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = truncate(content, maxContentLen)
	}

	obj, ok := ExtractJSONObject(content)
	if !ok {
		return nil, fmt.Errorf("%w in %q", ErrNoJSON, safeSnippet(content))
	}

	var raw rawTriage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("decode triage json: %w", err)
	}

	intent, ok := model.ParseIntent(strings.ToLower(strings.TrimSpace(raw.Intent)))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, safeSnippet(raw.Intent))
	}

	conf := 0.0
	if raw.Confidence != nil {
		conf = Clamp01(*raw.Confidence)
	}

	reason := strings.TrimSpace(raw.Reason)
	reason = truncate(reason, maxReasonLen)

	return &TriageResult{Intent: intent, Confidence: conf, Reason: reason}, nil
}

// Clamp01 limits v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// --- helpers ---

func safeSnippet(s string) string {
	return truncate(strings.TrimSpace(s), maxErrSnippet)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
