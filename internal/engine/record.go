package engine

import (
	"fmt"
	"strings"
	"time"
)

// Record labels.
const (
	LabelDebug  = "debug"
	LabelInfo   = "info"
	LabelWarn   = "warn"
	LabelError  = "error"
	LabelFatal  = "fatal"
	LabelReport = "report"
)

// TimestampLayout is the local wall-clock layout used in every record prefix.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// LogRecord is a single timestamped, labeled entry.
// Body is multi-line for report records.
type LogRecord struct {
	Time  time.Time
	Label string
	Body  string
}

// String renders the record in its on-disk form.
// Format: [ts][label] body, or [ts][report]\nbody for reports.
func (r LogRecord) String() string {
	ts := r.Time.Local().Format(TimestampLayout)
	if r.Label == LabelReport {
		return fmt.Sprintf("[%s][%s]\n%s", ts, r.Label, r.Body)
	}
	return fmt.Sprintf("[%s][%s] %s", ts, r.Label, r.Body)
}

// reportBody joins the error description and its stack trace.
func reportBody(err error, stack []byte) string {
	desc := "<nil>"
	if err != nil {
		desc = err.Error()
	}
	trace := strings.TrimRight(string(stack), "\n")
	if trace == "" {
		return desc
	}
	return desc + "\n" + trace
}
