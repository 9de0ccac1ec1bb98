package separator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
)

// Command runs the separation model as a child process.
type Command struct {
	Python     string // interpreter
	Script     string // inference entry point
	ModelType  string
	ConfigPath string
	Checkpoint string
	ForceCPU   bool
}

// Args builds the tool's argument list for req.
func (c *Command) Args(req Request) []string {
	args := []string{
		c.Script,
		"--model_type", c.ModelType,
		"--config_path", c.ConfigPath,
		"--start_check_point", c.Checkpoint,
		"--input_folder", req.InputDir,
		"--store_dir", req.StoreDir,
		"--extract_instrumental",
	}
	if c.ForceCPU {
		args = append(args, "--force_cpu")
	}
	return args
}

// Run starts the tool with stdout and stderr merged and streams its lines.
// There is no cancellation beyond ctx, which kills the process.
func (c *Command) Run(ctx context.Context, req Request) (<-chan Event, error) {
	cmd := exec.CommandContext(ctx, c.Python, c.Args(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Python, err)
	}
	log.Printf("Separator started (pid %d, cpu=%v): %s", cmd.Process.Pid, c.ForceCPU, req.InputDir)

	events := make(chan Event, 64)
	go func() {
		defer close(events)

		readLines(stdout, func(line string) {
			events <- Event{Kind: EventLine, Line: line}
		})

		exit := Event{Kind: EventExit}
		if err := cmd.Wait(); err != nil {
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				exit.ExitCode = ee.ExitCode()
			} else {
				exit.ExitCode = -1
				exit.Err = err
			}
		}
		events <- exit
	}()
	return events, nil
}

// maxLineSize bounds one output line; longer lines end line reporting.
const maxLineSize = 1024 * 1024

// readLines emits each output line of r. If a line is too long to scan,
// the rest of r is discarded so the child never blocks on a full pipe.
func readLines(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	sc.Split(scanLinesOrCR)
	for sc.Scan() {
		emit(sc.Text())
	}
	if err := sc.Err(); err != nil {
		log.Printf("Separator output read error: %v", err)
		if _, err := io.Copy(io.Discard, r); err != nil {
			log.Printf("Separator output drain: %v", err)
		}
	}
}

// scanLinesOrCR splits on \n, \r\n or a bare \r, so progress bars that
// redraw with carriage returns still yield one token per update.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Might be the first half of \r\n; wait for more.
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Strategy picks a Runner by hardware mode.
type Strategy map[HardwareMode]Runner

// NewStrategy derives the GPU and CPU runners from one command template.
func NewStrategy(base Command) Strategy {
	gpu, cpu := base, base
	gpu.ForceCPU = false
	cpu.ForceCPU = true
	return Strategy{GPU: &gpu, CPU: &cpu}
}

// For returns the runner registered for mode.
func (s Strategy) For(mode HardwareMode) (Runner, error) {
	r, ok := s[mode]
	if !ok {
		return nil, fmt.Errorf("no separator for hardware mode %q", mode)
	}
	return r, nil
}
