package service

import (
	"fmt"
	"regexp"
	"strings"
)

// ContextExtractor narrows retrieved text down to the part worth sending to
// the model.
type ContextExtractor interface {
	Extract(raw string) string
}

const mainIssueLabel = "Main Issue:"

var extractors = map[string]ContextExtractor{
	"marker":      MarkerExtractor{},
	"passthrough": PassthroughExtractor{},
}

// NewContextExtractor picks an extractor by name. An empty name selects the
// marker heuristic.
func NewContextExtractor(name string) (ContextExtractor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "marker"
	}
	e, ok := extractors[name]
	if !ok {
		return nil, fmt.Errorf("unknown context extractor: %s", name)
	}
	return e, nil
}

var (
	// two lines holding nothing but "---"
	markerLines  = regexp.MustCompile(`(?m)^[ \t]*---[ \t]*\n((?s:.*?))\n[ \t]*---[ \t]*$`)
	markerInline = regexp.MustCompile(`(?s)---\s*(.*?)\s*---`)
)

// MarkerExtractor keeps the first non-empty span between "---" markers,
// preferring markers that sit on their own line. Without markers it keeps
// "Main Issue:" up to the next marker, and otherwise returns the input
// untouched.
type MarkerExtractor struct{}

func (MarkerExtractor) Extract(raw string) string {
	if kept := firstSpan(markerLines, raw); kept != "" {
		return kept
	}
	if kept := firstSpan(markerInline, raw); kept != "" {
		return kept
	}
	if idx := strings.Index(raw, mainIssueLabel); idx >= 0 {
		rest := raw[idx:]
		if end := strings.Index(rest[len(mainIssueLabel):], "---"); end >= 0 {
			rest = rest[:len(mainIssueLabel)+end]
		}
		return strings.TrimSpace(rest)
	}
	return raw
}

func firstSpan(re *regexp.Regexp, raw string) string {
	for _, m := range re.FindAllStringSubmatch(raw, -1) {
		if kept := strings.TrimSpace(m[1]); kept != "" {
			return kept
		}
	}
	return ""
}

// PassthroughExtractor sends retrieved text as is.
type PassthroughExtractor struct{}

func (PassthroughExtractor) Extract(raw string) string {
	return raw
}
