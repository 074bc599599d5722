package download

import (
	"fmt"
	"time"
)

// EventKind classifies what the worker is reporting.
type EventKind int

const (
	EventInfo EventKind = iota
	EventProgress
	EventAttachment
	EventWarning
	EventError
	EventPaused
	EventResumed
	EventStopped
	EventCompleted
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventInfo:
		return "info"
	case EventProgress:
		return "progress"
	case EventAttachment:
		return "attachment"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry in a run's log stream, sent from the worker to
// whoever renders it.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Account string
	Message string

	// Index and Total are set on progress events (1-based position).
	Index int
	Total int

	// File is the saved path on attachment events.
	File string

	// Err is set on warning and error events.
	Err error

	// Fatal marks the error that ended the run; the UI should surface it
	// to the user rather than only appending it to the log.
	Fatal bool

	// Result is set on the EventFinished event only.
	Result *Result
}

// String renders the event the way the log pane shows it.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}
