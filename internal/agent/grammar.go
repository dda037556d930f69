package agent

import (
	"regexp"
	"strings"
)

// actionPatterns mirrors the command vocabulary accepted by the ALFWorld
// text environment. Order matters only for speed; the first match wins.
var actionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^go to .+$`),
	regexp.MustCompile(`^take .+ from .+$`),
	regexp.MustCompile(`^put .+ in/on .+$`),
	regexp.MustCompile(`^put .+ in .+$`),
	regexp.MustCompile(`^put .+ on .+$`),
	regexp.MustCompile(`^open .+$`),
	regexp.MustCompile(`^close .+$`),
	regexp.MustCompile(`^toggle .+$`),
	regexp.MustCompile(`^heat .+ with .+$`),
	regexp.MustCompile(`^cool .+ with .+$`),
	regexp.MustCompile(`^clean .+ with .+$`),
	regexp.MustCompile(`^use .+$`),
	regexp.MustCompile(`^examine .+$`),
	regexp.MustCompile(`^look$`),
	regexp.MustCompile(`^inventory$`),
	regexp.MustCompile(`^turn on .+$`),
	regexp.MustCompile(`^turn off .+$`),
}

// IsValidAction reports whether candidate is a command the environment accepts.
// Matching is case-insensitive on the trimmed candidate.
func IsValidAction(candidate string) bool {
	normalized := strings.ToLower(strings.TrimSpace(candidate))
	for _, pattern := range actionPatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}
