package proto

import (
	"fmt"
	"time"

	"patchmind/pkg/errkind"
)

// EventKind discriminates StreamEvent.
type EventKind string

const (
	EventToken        EventKind = "token"
	EventStageChanged EventKind = "stage_changed"
	EventProposedEdit EventKind = "proposed_edit"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventCancelled    EventKind = "cancelled"
)

// Stage names carried by stage_changed events.
const (
	StageDirect   = "direct"
	StagePlan     = "plan"
	StageCritique = "critique"
	StageExecute  = "execute"
)

// StreamEvent is one event of a task's stream. Only the fields of its Kind are set:
//
//	token          Text
//	stage_changed  Stage
//	proposed_edit  Edit
//	completed      Text (final prose)
//	failed         ErrorKind, Message
//	cancelled      -
//
// TaskID and Seq are stamped by the orchestrator on delivery.
type StreamEvent struct {
	Kind      EventKind     `json:"kind"`
	TaskID    string        `json:"task_id,omitempty"`
	Seq       uint64        `json:"seq"`
	Text      string        `json:"text,omitempty"`
	Stage     string        `json:"stage,omitempty"`
	Edit      *ProposedEdit `json:"edit,omitempty"`
	ErrorKind errkind.Kind  `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Time      time.Time     `json:"time"`
}

func newEvent(kind EventKind) StreamEvent {
	return StreamEvent{Kind: kind, Time: time.Now()}
}

func TokenEvent(text string) StreamEvent {
	ev := newEvent(EventToken)
	ev.Text = text
	return ev
}

func StageEvent(stage string) StreamEvent {
	ev := newEvent(EventStageChanged)
	ev.Stage = stage
	return ev
}

func EditEvent(edit ProposedEdit) StreamEvent {
	ev := newEvent(EventProposedEdit)
	ev.Edit = &edit
	return ev
}

func CompletedEvent(finalText string) StreamEvent {
	ev := newEvent(EventCompleted)
	ev.Text = finalText
	return ev
}

func FailedEvent(kind errkind.Kind, message string) StreamEvent {
	ev := newEvent(EventFailed)
	ev.ErrorKind = kind
	ev.Message = message
	return ev
}

// FailedFromError classifies err with errkind.Of.
func FailedFromError(err error) StreamEvent {
	return FailedEvent(errkind.Of(err), errkind.Message(err))
}

func CancelledEvent() StreamEvent {
	return newEvent(EventCancelled)
}

// IsTerminal reports whether the event ends a task's stream.
func (e *StreamEvent) IsTerminal() bool {
	switch e.Kind {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}

func (e *StreamEvent) String() string {
	switch e.Kind {
	case EventToken:
		return fmt.Sprintf("#%d token(%q)", e.Seq, e.Text)
	case EventStageChanged:
		return fmt.Sprintf("#%d stage_changed(%s)", e.Seq, e.Stage)
	case EventProposedEdit:
		return fmt.Sprintf("#%d proposed_edit(%s)", e.Seq, e.Edit.File)
	case EventCompleted:
		return fmt.Sprintf("#%d completed(%d chars)", e.Seq, len(e.Text))
	case EventFailed:
		return fmt.Sprintf("#%d failed(%s: %s)", e.Seq, e.ErrorKind, e.Message)
	default:
		return fmt.Sprintf("#%d %s", e.Seq, e.Kind)
	}
}
