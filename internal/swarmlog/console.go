package swarmlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger renders the event stream to a writer with [HH:MM:SS]
// timestamps, colorized by event category when the writer is a TTY.
type ConsoleLogger struct {
	writer io.Writer
	mu     sync.Mutex
	color  bool
}

// NewConsoleLogger builds a ConsoleLogger writing to w. Color is
// enabled automatically when w is os.Stdout or os.Stderr and that
// stream is a terminal.
func NewConsoleLogger(w io.Writer) *ConsoleLogger {
	return &ConsoleLogger{writer: w, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func categoryColor(t Type) *color.Color {
	switch t {
	case EventTaskFailed, EventSwarmError, EventCircuitOpen:
		return color.New(color.FgRed)
	case EventQualityRejected, EventModelFailover, EventTaskSkipped:
		return color.New(color.FgYellow)
	case EventTaskCompleted, EventWaveComplete, EventSwarmComplete, EventCircuitClosed:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgCyan)
	}
}

// Log writes one event as a timestamped, colorized line.
func (cl *ConsoleLogger) Log(e Event) {
	if cl.writer == nil {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ts := time.Now().Format("15:04:05")
	label := string(e.Type)
	if cl.color {
		label = categoryColor(e.Type).Sprint(label)
	}
	fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, label, e.Message)
}

// NullLogger discards every event; useful when the swarm runs headless
// with no consumer of the event stream (e.g. tests, or a caller that
// only wants the final result).
type NullLogger struct{}

func (NullLogger) Log(Event) {}
