// Package batch runs the separation pipeline over a directory of source
// tracks and fills a session with one job per successfully separated file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/separator"
	"github.com/satindergrewal/surroundmix/internal/session"
)

// ErrMissingDir rejects a request without input or output directory.
var ErrMissingDir = fmt.Errorf("%w: input and output directories are required", session.ErrConfiguration)

// Request is one batch run.
type Request struct {
	InputDir     string
	OutputDir    string
	Hardware     separator.HardwareMode
	ChannelCount int
}

// FatalError aborts a whole batch, e.g. when the input directory cannot be
// listed. Per-file problems never produce one.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "batch aborted: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Stage is what the processor is doing with a file.
type Stage string

const (
	StageStart    Stage = "start"
	StageSkipped  Stage = "skipped"  // output already exists
	StageReused   Stage = "reused"   // stems already on disk
	StageSeparate Stage = "separate" // separation running; Percent is set
	StageFailed   Stage = "failed"
	StageDone     Stage = "done"
)

// Update reports per-file progress to an optional observer.
type Update struct {
	File    string
	Index   int // 0-based
	Total   int
	Stage   Stage
	Percent int
}

// ProgressFunc observes processor updates. It is called from the worker.
type ProgressFunc func(Update)

// Processor is the single background worker that separates a batch.
type Processor struct {
	sess     *session.Session
	strategy separator.Strategy
	workDir  string

	mu         sync.Mutex
	progressFn ProgressFunc
}

// NewProcessor creates a processor that keeps temporary copies and
// separated stems under workDir.
func NewProcessor(sess *session.Session, strategy separator.Strategy, workDir string) *Processor {
	return &Processor{sess: sess, strategy: strategy, workDir: workDir}
}

// SetProgressFunc sets the progress observer. Pass nil to disable.
func (p *Processor) SetProgressFunc(fn ProgressFunc) {
	p.mu.Lock()
	p.progressFn = fn
	p.mu.Unlock()
}

// Start begins a batch and processes it in the background. It returns the
// batch ID, or session.ErrBusy if another batch is still processing.
func (p *Processor) Start(ctx context.Context, req Request) (string, error) {
	b, runner, err := p.begin(req)
	if err != nil {
		return "", err
	}
	go p.run(ctx, req, runner)
	return b.ID, nil
}

// Run is Start but blocks until the batch is ready or has failed.
func (p *Processor) Run(ctx context.Context, req Request) error {
	_, runner, err := p.begin(req)
	if err != nil {
		return err
	}
	return p.run(ctx, req, runner)
}

// Cleanup removes loose files from the work dir, or the whole work dir
// including separated stems when removeAll is set.
func (p *Processor) Cleanup(removeAll bool) error {
	if removeAll {
		return os.RemoveAll(p.workDir)
	}
	return clearFiles(p.workDir)
}

func (p *Processor) begin(req Request) (session.Batch, separator.Runner, error) {
	if req.InputDir == "" || req.OutputDir == "" {
		return session.Batch{}, nil, ErrMissingDir
	}
	runner, err := p.strategy.For(req.Hardware)
	if err != nil {
		return session.Batch{}, nil, fmt.Errorf("%w: %v", session.ErrConfiguration, err)
	}
	b := session.Batch{
		ID:           uuid.NewString(),
		InputDir:     req.InputDir,
		OutputDir:    req.OutputDir,
		Hardware:     string(req.Hardware),
		ChannelCount: req.ChannelCount,
	}
	if err := p.sess.Begin(b); err != nil {
		return session.Batch{}, nil, err
	}
	return b, runner, nil
}

func (p *Processor) run(ctx context.Context, req Request, runner separator.Runner) error {
	if err := p.process(ctx, req, runner); err != nil {
		p.sess.Fail(err)
		return err
	}
	p.sess.Finish()
	return nil
}

func (p *Processor) process(ctx context.Context, req Request, runner separator.Runner) error {
	files, err := listFiles(req.InputDir)
	if err != nil {
		return &FatalError{Err: err}
	}
	for _, dir := range []string{p.workDir, req.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &FatalError{Err: err}
		}
	}

	log.Printf("Processing %d files from %s", len(files), req.InputDir)
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return &FatalError{Err: err}
		}
		p.processFile(ctx, req, runner, name, i, len(files))
	}
	if err := clearFiles(p.workDir); err != nil {
		log.Printf("Clear work dir: %v", err)
	}
	return nil
}

func (p *Processor) processFile(ctx context.Context, req Request, runner separator.Runner, name string, i, n int) {
	u := Update{File: name, Index: i, Total: n}
	count := fmt.Sprintf("%d/%d", i+1, n)
	p.sess.SetProgress("Processing: "+name, count)
	p.notify(u, StageStart)

	if err := clearFiles(p.workDir); err != nil {
		log.Printf("Clear work dir: %v", err)
	}

	original := strings.TrimSuffix(name, filepath.Ext(name))
	tempName, base := Sanitize(name)
	output := session.OutputPath(req.OutputDir, original, req.ChannelCount)

	if fileExists(output) {
		log.Printf("Skipping %s: %s already exists", name, output)
		p.sess.SetProgress("Skipping existing: "+name, count)
		p.notify(u, StageSkipped)
		return
	}

	storeDir := filepath.Join(p.workDir, "separate")
	stemDir := filepath.Join(storeDir, base)
	if hasStems(stemDir) {
		log.Printf("Reusing separated stems for %s in %s", name, stemDir)
		p.notify(u, StageReused)
	} else {
		if err := copyFile(filepath.Join(req.InputDir, name), filepath.Join(p.workDir, tempName)); err != nil {
			p.fail(u, name, fmt.Sprintf("copy to work dir: %v", err))
			return
		}

		p.sess.SetProgress("Separating: "+name, "0%")
		p.notify(u, StageSeparate)
		err := separator.Separate(ctx, runner, separator.Request{InputDir: p.workDir, StoreDir: storeDir}, &fileProgress{p: p, u: u})
		if err == nil && !hasStems(stemDir) {
			err = errors.New("separation produced no stems")
		}
		if err != nil {
			p.fail(u, name, err.Error())
			return
		}
	}

	p.sess.AddJob(original, stemDir, output)
	p.notify(u, StageDone)
}

func (p *Processor) fail(u Update, name, detail string) {
	p.sess.AddFailure(name, detail)
	p.sess.SetProgress("Separation failed: "+name, fmt.Sprintf("%d/%d", u.Index+1, u.Total))
	p.notify(u, StageFailed)
	if err := clearFiles(p.workDir); err != nil {
		log.Printf("Clear work dir: %v", err)
	}
}

func (p *Processor) notify(u Update, stage Stage) {
	p.mu.Lock()
	fn := p.progressFn
	p.mu.Unlock()
	if fn != nil {
		u.Stage = stage
		fn(u)
	}
}

// fileProgress forwards separator output for one file.
type fileProgress struct {
	p *Processor
	u Update
}

func (f *fileProgress) Percent(pct int) {
	f.p.sess.SetProgress(fmt.Sprintf("Separating %s: %d%%", f.u.File, pct), fmt.Sprintf("%d%%", pct))
	u := f.u
	u.Percent = pct
	f.p.notify(u, StageSeparate)
}

func (f *fileProgress) Status(line string) {
	if r := []rune(line); len(r) > 60 {
		line = string(r[:60]) + "..."
	}
	f.p.sess.SetProgress("Separating: "+line, "")
}

// listFiles returns the regular files directly inside dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// clearFiles deletes the files in dir but leaves sub-directories alone.
func clearFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Printf("Remove %s: %v", e.Name(), err)
		}
	}
	return nil
}

func hasStems(dir string) bool {
	for _, name := range audio.StemNames {
		if fileExists(filepath.Join(dir, name.FileName())) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
