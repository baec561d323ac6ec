package intent

import (
	"fmt"
	"strings"

	"genie/internal/domain/task"
)

// Resolve maps an action's target to a task in the snapshot, in order:
// exact id, case-insensitive heading equality, unique case-insensitive
// heading substring, then the last_task literal. A miss or an ambiguous
// substring returns nil with a warning; the caller drops the action.
func Resolve(snap *task.UserSnapshot, target string) (*task.Task, string) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, "empty target"
	}

	if t, ok := snap.Tasks[target]; ok {
		return t, ""
	}

	if strings.EqualFold(target, TargetLastTask) {
		if t := snap.LastCreated(); t != nil {
			return t, ""
		}
		return nil, "no tasks exist yet"
	}

	if t := snap.FindByHeading(target); t != nil {
		return t, ""
	}

	t, count := snap.FindBySubstring(target)
	switch {
	case count == 0:
		return nil, fmt.Sprintf("no task matches %q", target)
	case count > 1:
		return nil, fmt.Sprintf("%q matches %d tasks, be more specific", target, count)
	}
	return t, ""
}
