package agent

import (
	"regexp"
	"strings"
)

// DefaultAction is returned whenever nothing better can be derived.
const DefaultAction = "look"

var (
	thinkMarkers = []string{"> think:", ">think:"}
	actionLabel  = regexp.MustCompile(`(?i)^action:\s*`)
)

// ExtractAction pulls a single command out of a raw model response.
//
// Thinking lines and blank lines are dropped. The last remaining line is the
// primary candidate; if it is not a valid command, earlier lines are tried from
// the bottom up. When no line validates, the cleaned primary candidate is
// returned as a best guess. ExtractAction never fails.
func ExtractAction(raw string) string {
	if raw == "" {
		return DefaultAction
	}

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isThinkLine(line) {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return DefaultAction
	}

	candidate := cleanActionLine(lines[len(lines)-1])
	if IsValidAction(candidate) {
		return candidate
	}

	for i := len(lines) - 1; i >= 0; i-- {
		cleaned := cleanActionLine(lines[i])
		if IsValidAction(cleaned) {
			return cleaned
		}
	}

	if candidate == "" {
		return DefaultAction
	}
	return candidate
}

func isThinkLine(line string) bool {
	for _, marker := range thinkMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

func cleanActionLine(line string) string {
	line = strings.Trim(line, "\"'`")
	return actionLabel.ReplaceAllString(line, "")
}

// FallbackAction is the keyword policy used when the model is absent or fails.
func FallbackAction(observation string) string {
	obs := strings.ToLower(observation)
	switch {
	case strings.Contains(obs, "lamp") && strings.Contains(obs, "off"):
		return "turn on lamp"
	case strings.Contains(obs, "fridge") && strings.Contains(obs, "apple"):
		return "put apple in fridge"
	case strings.Contains(obs, "inventory"):
		return "inventory"
	default:
		return DefaultAction
	}
}
