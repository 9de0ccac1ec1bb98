package separator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"
)

type scriptedRunner struct {
	lines []string
	code  int
	err   error
}

func (s *scriptedRunner) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan Event, len(s.lines)+1)
	for _, l := range s.lines {
		ch <- Event{Kind: EventLine, Line: l}
	}
	ch <- Event{Kind: EventExit, ExitCode: s.code}
	close(ch)
	return ch, nil
}

type recorder struct {
	percents []int
	statuses []string
}

func (r *recorder) Percent(p int)      { r.percents = append(r.percents, p) }
func (r *recorder) Status(line string) { r.statuses = append(r.statuses, line) }

func TestParseHardwareMode(t *testing.T) {
	tests := []struct {
		in   string
		want HardwareMode
	}{
		{"1", GPU}, {"gpu", GPU}, {"CUDA", GPU}, {"", GPU},
		{"2", CPU}, {"cpu", CPU},
	}
	for _, tt := range tests {
		got, err := ParseHardwareMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseHardwareMode(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseHardwareMode("tpu"); err == nil {
		t.Error("ParseHardwareMode(tpu) should fail")
	}
}

func TestParseProgress(t *testing.T) {
	if p, ok := ParseProgress(" 42%|████      | 21/50 [00:03<00:04]"); !ok || p != 42 {
		t.Errorf("ParseProgress = %d, %v, want 42", p, ok)
	}
	if _, ok := ParseProgress("loaded 42% of weights"); ok {
		t.Error("percent without bar should not parse")
	}
}

func TestIsErrorLine(t *testing.T) {
	for _, l := range []string{"Traceback (most recent call last):", "RuntimeError: CUDA out of memory", "an Exception occurred", "Error"} {
		if !IsErrorLine(l) {
			t.Errorf("IsErrorLine(%q) = false", l)
		}
	}
	if IsErrorLine("Processing track 1/1") {
		t.Error("status line classified as error")
	}
}

func TestSeparateSuccess(t *testing.T) {
	r := &scriptedRunner{lines: []string{"Loading model", "10%|#", "", "100%|##########|"}}
	rec := &recorder{}
	if err := Separate(context.Background(), r, Request{}, rec); err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if !slices.Equal(rec.percents, []int{10, 100}) {
		t.Errorf("percents = %v", rec.percents)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "Loading model" {
		t.Errorf("statuses = %v", rec.statuses)
	}
}

func TestSeparateFailureKeepsLastErrorLines(t *testing.T) {
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, "Error "+strings.Repeat("x", i))
	}
	r := &scriptedRunner{lines: lines, code: 1}
	err := Separate(context.Background(), r, Request{}, nil)

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", f.ExitCode)
	}
	if len(f.Lines) != maxErrorLines || f.Lines[maxErrorLines-1] != lines[7] {
		t.Errorf("Lines = %v, want last %d", f.Lines, maxErrorLines)
	}
}

func TestSeparateFailureWithoutOutput(t *testing.T) {
	err := Separate(context.Background(), &scriptedRunner{code: 3}, Request{}, nil)
	if err == nil || !strings.Contains(err.Error(), "code 3") {
		t.Errorf("err = %v, want exit code message", err)
	}
}

func TestSeparateStartFailure(t *testing.T) {
	startErr := errors.New("no such file")
	err := Separate(context.Background(), &scriptedRunner{err: startErr}, Request{}, nil)
	if !errors.Is(err, startErr) {
		t.Errorf("err = %v, want wrapped start error", err)
	}
}

func TestCommandArgs(t *testing.T) {
	s := NewStrategy(Command{Python: "python", Script: "inference.py", ModelType: "bs_roformer", ConfigPath: "c.yaml", Checkpoint: "m.pt"})
	req := Request{InputDir: "in", StoreDir: "out"}

	gpu, _ := s.For(GPU)
	cpu, _ := s.For(CPU)
	ga := gpu.(*Command).Args(req)
	ca := cpu.(*Command).Args(req)

	if slices.Contains(ga, "--force_cpu") {
		t.Error("gpu args contain --force_cpu")
	}
	if ca[len(ca)-1] != "--force_cpu" {
		t.Error("cpu args missing --force_cpu")
	}
	for _, want := range []string{"--input_folder", "in", "--store_dir", "out", "--extract_instrumental", "m.pt"} {
		if !slices.Contains(ga, want) {
			t.Errorf("args missing %q: %v", want, ga)
		}
	}
	if _, err := s.For("tpu"); err == nil {
		t.Error("Strategy.For(tpu) should fail")
	}
}

func TestScanLinesOrCR(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\r 5%|\r10%|\nb\r\nc"))
	sc.Split(scanLinesOrCR)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"a", " 5%|", "10%|", "b", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("tokens = %q, want %q", got, want)
	}
}

func TestReadLinesDrainsAfterOverlongLine(t *testing.T) {
	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, "first\n"+strings.Repeat("x", 2*maxLineSize)+"\nlast\n")
		pw.Close()
		written <- err
	}()

	var lines []string
	done := make(chan struct{})
	go func() {
		readLines(pr, func(l string) { lines = append(lines, l) })
		close(done)
	}()

	select {
	case err := <-written:
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked: output was not drained")
	}
	<-done
	if len(lines) == 0 || lines[0] != "first" {
		t.Errorf("lines = %q, want first line reported", lines)
	}
}
