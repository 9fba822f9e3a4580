package llm

import (
	"regexp"
	"strings"
)

var (
	reFence         = regexp.MustCompile("```(?:json|JSON)?")
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// CleanJSON strips markdown fences and any prose around the first JSON
// object in text, and removes trailing commas before closing brackets.
func CleanJSON(text string) string {
	s := reFence.ReplaceAllString(text, "")
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	return reTrailingComma.ReplaceAllString(s, "$1")
}

// StripFences removes markdown fences from free text output such as CSV.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
