// Package diffview renders compact field-change summaries for edit
// results. Short fields show old and new values side by side; long prose
// fields show an inline word diff instead of repeating both versions.
package diffview

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// longFieldThreshold is where a field switches from old/new display to an
// inline diff.
const longFieldThreshold = 48

// FieldChange is one edited field with its before and after values.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Describe renders the changes as one semicolon-joined summary line.
// Unchanged entries are dropped; an empty result means the edit was a no-op.
func Describe(changes []FieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.Old == c.New {
			continue
		}
		parts = append(parts, describeOne(c))
	}
	return strings.Join(parts, "; ")
}

func describeOne(c FieldChange) string {
	switch {
	case c.Old == "":
		return fmt.Sprintf("%s set to %q", c.Field, c.New)
	case c.New == "":
		return fmt.Sprintf("%s cleared (was %q)", c.Field, c.Old)
	case len(c.Old) > longFieldThreshold || len(c.New) > longFieldThreshold:
		return fmt.Sprintf("%s: %s", c.Field, Inline(c.Old, c.New))
	default:
		return fmt.Sprintf("%s: %q to %q", c.Field, c.Old, c.New)
	}
}

// Inline renders a word-level diff of two texts as one line, with
// insertions wrapped in [+...] and deletions in [-...].
func Inline(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldText, newText, false))

	var b strings.Builder
	for _, d := range diffs {
		text := strings.ReplaceAll(d.Text, "\n", " ")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&b, "[+%s]", text)
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&b, "[-%s]", text)
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}
