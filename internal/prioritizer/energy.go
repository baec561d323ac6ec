package prioritizer

import (
	"strings"

	"genie/internal/domain/task"
)

// WorkDepth classifies a subtask heading by the kind of attention it needs.
type WorkDepth string

const (
	DepthDeep    WorkDepth = "deep"
	DepthShallow WorkDepth = "shallow"
	DepthNeutral WorkDepth = "neutral"
)

// deepVerbs indicate work that wants peak cognitive hours.
var deepVerbs = []string{"design", "analyze", "implement", "study", "write"}

// shallowVerbs indicate administrative work that fits off-peak hours.
var shallowVerbs = []string{"set up", "setup", "review", "list", "email"}

// ClassifyDepth inspects the heading for depth-indicating verbs. Deep wins
// when both appear, since the deep portion dominates the session.
func ClassifyDepth(heading string) WorkDepth {
	lowered := strings.ToLower(heading)
	for _, verb := range deepVerbs {
		if strings.Contains(lowered, verb) {
			return DepthDeep
		}
	}
	for _, verb := range shallowVerbs {
		if strings.Contains(lowered, verb) {
			return DepthShallow
		}
	}
	return DepthNeutral
}

// Fit grades how well a subtask suits the user's current energy.
type Fit string

const (
	// FitPeak - deep work inside the peak energy window.
	FitPeak Fit = "peak"
	// FitAligned - shallow work outside the peak window.
	FitAligned Fit = "aligned"
	// FitAcceptable - work with no strong depth signal.
	FitAcceptable Fit = "acceptable"
	// FitMismatch - deep work off-peak, or shallow work burning peak hours.
	FitMismatch Fit = "mismatch"
)

// energyRank orders candidates for the energy-match rule: lower is better.
func energyRank(depth WorkDepth, inPeak bool) int {
	switch depth {
	case DepthDeep:
		if inPeak {
			return 0
		}
		return 2
	case DepthShallow:
		if inPeak {
			return 2
		}
		return 0
	default:
		return 1
	}
}

// fitFor grades a depth/peak combination for the recommendation.
func fitFor(depth WorkDepth, inPeak bool) Fit {
	switch depth {
	case DepthDeep:
		if inPeak {
			return FitPeak
		}
		return FitMismatch
	case DepthShallow:
		if inPeak {
			return FitMismatch
		}
		return FitAligned
	default:
		return FitAcceptable
	}
}

// inPeakWindow reports whether the hour falls in the user's peak window.
func inPeakWindow(prefs task.Preferences, hour int) bool {
	return prefs.PeakEnergy.Contains(hour)
}
