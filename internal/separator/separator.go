// Package separator drives the external stem-separation tool. A Runner
// starts one separation and streams raw output lines; Separate applies the
// progress and error parsing on top of that stream.
package separator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HardwareMode selects how the separation model runs.
type HardwareMode string

const (
	GPU HardwareMode = "gpu"
	CPU HardwareMode = "cpu"
)

// ParseHardwareMode accepts "gpu"/"cuda"/"1" and "cpu"/"2".
func ParseHardwareMode(s string) (HardwareMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1", "gpu", "cuda":
		return GPU, nil
	case "2", "cpu":
		return CPU, nil
	}
	return "", fmt.Errorf("unknown hardware mode %q", s)
}

// Request is one separation call: every file in InputDir is separated into
// StoreDir/<file base name>/<stem>.wav.
type Request struct {
	InputDir string
	StoreDir string
}

// EventKind tags a runner Event.
type EventKind int

const (
	EventLine EventKind = iota // one line of merged stdout/stderr
	EventExit                  // process finished; always the last event
)

// Event is one item of a runner's output stream.
type Event struct {
	Kind     EventKind
	Line     string
	ExitCode int
	Err      error // set on EventExit when the process could not be waited on
}

// Runner starts a separation and streams its output. The returned channel
// is closed after the EventExit event.
type Runner interface {
	Run(ctx context.Context, req Request) (<-chan Event, error)
}

// Failure is a separation that could not start or exited non-zero.
type Failure struct {
	ExitCode int
	Lines    []string // trailing error lines from the tool output
	Err      error
}

func (f *Failure) Error() string {
	if len(f.Lines) > 0 {
		return strings.Join(f.Lines, "\n")
	}
	if f.Err != nil {
		return fmt.Sprintf("separation failed to run: %v", f.Err)
	}
	return fmt.Sprintf("separation exited with code %d", f.ExitCode)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// maxErrorLines bounds how much tool output a Failure carries.
const maxErrorLines = 5

var progressRe = regexp.MustCompile(`(\d+)%\|`)

// ParseProgress extracts a tqdm-style "NN%|" percentage from line.
func ParseProgress(line string) (int, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

// IsErrorLine reports whether line looks like an error report.
func IsErrorLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "exception") || strings.Contains(lower, "traceback") {
		return true
	}
	return strings.HasPrefix(line, "Error") || strings.HasPrefix(line, "Exception")
}

// isStatusLine reports lines worth showing as a status message.
func isStatusLine(line string) bool {
	return strings.Contains(line, "Processing") || strings.Contains(strings.ToLower(line), "loading")
}

// Progress receives parsed updates while a separation runs.
type Progress interface {
	Percent(pct int)
	Status(line string)
}

// Separate runs req through r, reporting progress to p (which may be nil),
// and blocks until the tool exits. It returns a *Failure if the tool could
// not start or exited non-zero.
func Separate(ctx context.Context, r Runner, req Request, p Progress) error {
	events, err := r.Run(ctx, req)
	if err != nil {
		return &Failure{ExitCode: -1, Err: err}
	}

	var errLines []string
	exit := Event{Kind: EventExit, ExitCode: -1, Err: fmt.Errorf("output closed before exit")}
	for ev := range events {
		switch ev.Kind {
		case EventLine:
			line := strings.TrimSpace(ev.Line)
			if line == "" {
				continue
			}
			if IsErrorLine(line) {
				errLines = append(errLines, line)
				if len(errLines) > maxErrorLines {
					errLines = errLines[1:]
				}
			}
			if p == nil {
				continue
			}
			if pct, ok := ParseProgress(line); ok {
				p.Percent(pct)
			} else if isStatusLine(line) {
				p.Status(line)
			}
		case EventExit:
			exit = ev
		}
	}

	if exit.ExitCode != 0 || exit.Err != nil {
		return &Failure{ExitCode: exit.ExitCode, Lines: errLines, Err: exit.Err}
	}
	return nil
}
