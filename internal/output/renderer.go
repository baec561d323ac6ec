// Package output renders pipeline results for the terminal. Markdown goes
// through glamour when stdout is a terminal; statuses and headings are
// styled with lipgloss.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"genie/internal/domain/task"
	"genie/internal/pipeline"
	"genie/internal/prioritizer"
	"genie/internal/scheduler"
)

const wordWrap = 100

// MarkdownRenderer lets tests supply a lightweight renderer.
type MarkdownRenderer interface {
	Render(string) (string, error)
}

// Renderer formats assistant output for one terminal session.
type Renderer struct {
	md MarkdownRenderer

	okStyle    lipgloss.Style
	warnStyle  lipgloss.Style
	errStyle   lipgloss.Style
	faintStyle lipgloss.Style
	headStyle  lipgloss.Style
}

// New builds a renderer with the default glamour backend.
func New() *Renderer {
	return NewWithMarkdown(nil)
}

// NewWithMarkdown builds a renderer around the given markdown backend. A
// nil backend selects glamour, styled for the detected terminal.
func NewWithMarkdown(md MarkdownRenderer) *Renderer {
	r := &Renderer{
		md:         md,
		okStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00AF87")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF00")),
		errStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F")),
		faintStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		headStyle:  lipgloss.NewStyle().Bold(true),
	}
	if r.md == nil {
		r.md = defaultMarkdownRenderer()
	}
	return r
}

func defaultMarkdownRenderer() MarkdownRenderer {
	options := []glamour.TermRendererOption{
		glamour.WithWordWrap(wordWrap),
		glamour.WithPreservedNewLines(),
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		options = append(options, glamour.WithAutoStyle())
	} else {
		options = append(options, glamour.WithStandardStyle("notty"))
	}
	md, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil
	}
	return md
}

// Markdown renders markdown text, falling back to the raw text when the
// backend is unavailable.
func (r *Renderer) Markdown(text string) string {
	if r.md == nil {
		return text
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

// Outcome formats one utterance's results: applied actions, warnings, and
// the follow-up recommendation.
func (r *Renderer) Outcome(outcome *pipeline.Outcome, sched *scheduler.Result) string {
	if outcome == nil {
		return ""
	}
	var b strings.Builder

	for _, action := range outcome.Applied {
		switch {
		case action.TimedOut:
			fmt.Fprintf(&b, "%s %s\n", r.warnStyle.Render("~"), action.Message)
		case action.OK:
			fmt.Fprintf(&b, "%s %s\n", r.okStyle.Render("+"), action.Message)
		default:
			fmt.Fprintf(&b, "%s %s\n", r.errStyle.Render("x"), action.Message)
		}
		for _, w := range action.Warnings {
			fmt.Fprintf(&b, "  %s\n", r.warnStyle.Render(w))
		}
	}
	for _, w := range outcome.Warnings {
		fmt.Fprintf(&b, "%s\n", r.warnStyle.Render(w))
	}
	if outcome.TimedOut {
		fmt.Fprintf(&b, "%s\n", r.warnStyle.Render("Ran out of time; remaining requests were not applied."))
	}

	if rec := r.Recommendation(outcome.Recommendation, sched); rec != "" {
		b.WriteString("\n")
		b.WriteString(rec)
	}
	return b.String()
}

// Recommendation formats the next-step suggestion with its reasoning and
// calendar placement.
func (r *Renderer) Recommendation(rec *prioritizer.Recommendation, sched *scheduler.Result) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	if rec.None() {
		fmt.Fprintf(&b, "%s %s\n", r.headStyle.Render("Next:"), rec.Reasoning)
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s\n", r.headStyle.Render("Next:"), rec.SubtaskHeading)
	if rec.TaskHeading != "" {
		fmt.Fprintf(&b, "  %s\n", r.faintStyle.Render("part of "+rec.TaskHeading))
	}
	if rec.Reasoning != "" {
		fmt.Fprintf(&b, "  %s\n", r.faintStyle.Render(rec.Reasoning))
	}

	switch {
	case sched != nil && sched.Scheduled:
		fmt.Fprintf(&b, "  %s\n", r.okStyle.Render("On your calendar "+formatWindow(sched.Window.Start, sched.Window.End)))
	case rec.Scheduled != nil:
		fmt.Fprintf(&b, "  %s\n", r.okStyle.Render("On your calendar "+formatWindow(rec.Scheduled.Start, rec.Scheduled.End)))
	case sched != nil && sched.Reason != "":
		fmt.Fprintf(&b, "  %s\n", r.faintStyle.Render("Not scheduled: "+sched.Reason))
	}
	return b.String()
}

// TaskList formats tasks with their steps and statuses.
func (r *Renderer) TaskList(tasks []*task.Task) string {
	if len(tasks) == 0 {
		return r.faintStyle.Render("No tasks yet.") + "\n"
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s\n", r.statusMark(t.Status), r.headStyle.Render(t.Heading))
		if t.Deadline != nil {
			fmt.Fprintf(&b, "  %s\n", r.faintStyle.Render("due "+t.Deadline.Format("2006-01-02 15:04")))
		}
		for _, st := range t.Subtasks {
			line := fmt.Sprintf("  %s %s (%dm)", r.statusMark(st.Status), st.Heading, st.EstimateMinutes)
			fmt.Fprintln(&b, line)
			if st.Event != nil {
				fmt.Fprintf(&b, "      %s\n", r.faintStyle.Render("booked "+formatWindow(st.Event.Start, st.Event.End)))
			}
		}
	}
	return b.String()
}

// Analytics formats the progress report.
func (r *Renderer) Analytics(a *task.Analytics) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.headStyle.Render("Progress"))
	fmt.Fprintf(&b, "  tasks: %d open, %d done\n",
		a.TasksByStatus[task.StatusPending]+a.TasksByStatus[task.StatusInProgress],
		a.TasksByStatus[task.StatusDone])
	fmt.Fprintf(&b, "  steps: %d pending, %d done\n",
		a.SubtasksByStatus[task.StatusPending], a.SubtasksByStatus[task.StatusDone])
	fmt.Fprintf(&b, "  completion: %.0f%%\n", a.CompletionRate*100)
	if a.EstimateAccuracy > 0 {
		fmt.Fprintf(&b, "  estimate accuracy: %.2f\n", a.EstimateAccuracy)
	}
	if a.FeedbackCount > 0 {
		fmt.Fprintf(&b, "  feedback recorded: %d\n", a.FeedbackCount)
	}
	return b.String()
}

func (r *Renderer) statusMark(s task.Status) string {
	switch s {
	case task.StatusDone:
		return r.okStyle.Render("[x]")
	case task.StatusInProgress:
		return r.warnStyle.Render("[~]")
	case task.StatusCancelled:
		return r.faintStyle.Render("[-]")
	default:
		return "[ ]"
	}
}

func formatWindow(start, end time.Time) string {
	if start.Truncate(24 * time.Hour).Equal(end.Truncate(24 * time.Hour)) {
		return fmt.Sprintf("%s to %s", start.Format("Mon 15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s to %s", start.Format("Mon 15:04"), end.Format("Mon 15:04"))
}
