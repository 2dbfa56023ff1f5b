package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xxxsen/ragdesk/internal/model"
)

const ApologyText = "I'm sorry, I couldn't find relevant information to answer that at the moment. Could you please rephrase or ask something else?"

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeAnswer repairs raw model output into an Answer. It never fails:
// output that cannot be recovered yields ApologyText as the solution.
func NormalizeAnswer(raw string) model.Answer {
	obj, err := decodeAnswerObject(stripControl(raw))
	if err != nil {
		return model.Answer{Solution: ApologyText}
	}
	return model.Answer{
		Solution:       normalizeSolution(stringField(obj, "solution")),
		Disposition:    strings.TrimSpace(stringField(obj, "Disposition")),
		SubDisposition: strings.TrimSpace(stringField(obj, "Sub Disposition")),
		Priority:       strings.TrimSpace(stringField(obj, "Priority")),
	}
}

// stripControl drops ASCII control characters. Newlines and tabs survive so
// they can be repaired inside string literals instead of silently joining words.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func decodeAnswerObject(text string) (map[string]interface{}, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no json object in model output")
	}
	clean = escapeRawInStrings(clean[start : end+1])
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	return obj, nil
}

// escapeRawInStrings rewrites literal newlines and tabs that appear inside
// JSON string literals into their escape sequences.
func escapeRawInStrings(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if !inString {
			if r == '"' {
				inString = true
			}
			sb.WriteRune(r)
			continue
		}
		switch {
		case escaped:
			escaped = false
			sb.WriteRune(r)
		case r == '\\':
			escaped = true
			sb.WriteRune(r)
		case r == '"':
			inString = false
			sb.WriteRune(r)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func stringField(obj map[string]interface{}, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func normalizeSolution(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
