package agent

import "strings"

// CycleWindow is the number of actions inspected for an A,B,A,B loop.
const CycleWindow = 4

// DetectRepetition reports whether candidate repeats lastAction, ignoring case
// and surrounding whitespace. An empty lastAction never matches.
func DetectRepetition(candidate, lastAction string) bool {
	if lastAction == "" {
		return false
	}
	return normalizeAction(candidate) == normalizeAction(lastAction)
}

// DetectCycle reports whether appending candidate to sequence closes an
// A,B,A,B pattern over the last window actions. It needs at least window-1
// prior actions.
func DetectCycle(sequence []string, candidate string, window int) bool {
	if window < 1 || len(sequence) < window-1 {
		return false
	}
	recent := make([]string, 0, window)
	recent = append(recent, sequence[len(sequence)-(window-1):]...)
	recent = append(recent, candidate)
	if len(recent) < CycleWindow {
		return false
	}
	return isAlternating(recent[len(recent)-CycleWindow:])
}

// HasNavigationLoop reports whether any four consecutive actions form A,B,A,B.
func HasNavigationLoop(actions []string) bool {
	for i := 0; i+CycleWindow <= len(actions); i++ {
		if isAlternating(actions[i : i+CycleWindow]) {
			return true
		}
	}
	return false
}

// isAlternating expects exactly four actions.
func isAlternating(tail []string) bool {
	return tail[3] == tail[1] && tail[2] == tail[0]
}

func normalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
