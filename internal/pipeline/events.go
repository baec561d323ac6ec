package pipeline

import "time"

// Stage names one phase of utterance handling.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageApply      Stage = "apply"
	StageCommit     Stage = "commit"
	StagePrioritize Stage = "prioritize"
	StageSchedule   Stage = "schedule"
)

// Event is one progress notification. Stage events come in enter/exit
// pairs; per-action events carry the action result instead.
type Event struct {
	UserID      string        `json:"user_id"`
	UtteranceID string        `json:"utterance_id"`
	Stage       Stage         `json:"stage"`
	Done        bool          `json:"done,omitempty"`
	Action      *ActionResult `json:"action,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// Listener receives progress events. It is called synchronously on the
// utterance goroutine and must not block.
type Listener func(Event)

func (p *Pipeline) emit(ev Event) {
	if p.listener == nil {
		return
	}
	ev.At = p.clock().UTC()
	p.listener(ev)
}
