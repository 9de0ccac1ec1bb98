// Package session holds the batch of jobs an operator works through: the
// selection, per-job routing, processing status and export tracking.
//
// Every read and write of session or job fields happens under one mutex,
// so a reader never sees, say, a new channel count with old topologies.
package session

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/mix"
)

// Status is the batch processing state: idle -> processing -> ready | error.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// AudioIO loads stems and writes rendered buffers.
type AudioIO interface {
	LoadStems(dir string) (audio.StemSet, error)
	WriteWAV(path string, samples []float64, channels int) error
	WriteFLAC(path string, samples []float64, channels int) error
}

// Batch describes the request a batch state was created for.
type Batch struct {
	ID           string
	InputDir     string
	OutputDir    string
	Hardware     string
	ChannelCount int
}

// Failure is one source file that produced no job.
type Failure struct {
	File   string `json:"file"`
	Detail string `json:"detail"`
}

func (f Failure) String() string {
	return f.File + ": " + f.Detail
}

// state is everything a batch owns. Begin swaps in a fresh one, so
// nothing from a previous batch survives.
type state struct {
	batch        Batch
	jobs         []*Job
	current      int // -1 when nothing is selected
	channelCount int
	defaults     mix.Topology
	status       Status
	message      string
	progress     string
	failures     []Failure
	fatal        string
}

func newState(b Batch, status Status) *state {
	defaults, _ := mix.Default(b.ChannelCount)
	return &state{
		batch:        b,
		current:      -1,
		channelCount: b.ChannelCount,
		defaults:     defaults,
		status:       status,
	}
}

// Session is the single live batch of a server process.
type Session struct {
	io      AudioIO
	tempDir string

	mu       sync.Mutex
	st       *state
	recorder Recorder

	renderMu sync.Mutex // serializes preview file writes and exports
}

// New creates an idle 5.1 session. Previews are written under tempDir.
func New(io AudioIO, tempDir string) *Session {
	return &Session{
		io:      io,
		tempDir: tempDir,
		st:      newState(Batch{ChannelCount: 5}, StatusIdle),
	}
}

// SetRecorder installs an export history sink. Pass nil to disable.
func (s *Session) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Begin discards the current batch and starts a new one in the processing
// state. It fails with ErrBusy while another batch is processing.
func (s *Session) Begin(b Batch) error {
	if !mix.ValidChannelCount(b.ChannelCount) {
		return ErrInvalidChannelCount
	}

	s.mu.Lock()
	if s.st.status == StatusProcessing {
		s.mu.Unlock()
		log.Printf("Batch rejected: %s still processing", s.st.batch.ID)
		return ErrBusy
	}
	s.st = newState(b, StatusProcessing)
	s.st.message = "Scanning audio files..."
	rec := s.recorder
	s.mu.Unlock()

	log.Printf("Batch %s started: %s -> %s (%d.1, %s)", b.ID, b.InputDir, b.OutputDir, b.ChannelCount, b.Hardware)
	if rec != nil {
		if err := rec.BatchStarted(b); err != nil {
			log.Printf("Ledger: batch start: %v", err)
		}
	}
	return nil
}

// SetProgress updates the human-readable status fields.
func (s *Session) SetProgress(message, progress string) {
	s.mu.Lock()
	s.st.message = message
	s.st.progress = progress
	s.mu.Unlock()
}

// AddJob appends a job with a private copy of the default topology.
func (s *Session) AddJob(name, inputDir, outputPath string) {
	s.mu.Lock()
	s.st.jobs = append(s.st.jobs, newJob(name, inputDir, outputPath, s.st.defaults))
	s.mu.Unlock()
}

// AddFailure records a source file that produced no job.
func (s *Session) AddFailure(file, detail string) {
	s.mu.Lock()
	s.st.failures = append(s.st.failures, Failure{File: file, Detail: detail})
	id := s.st.batch.ID
	rec := s.recorder
	s.mu.Unlock()

	log.Printf("Batch %s: %s failed: %s", id, file, detail)
	if rec != nil {
		if err := rec.JobFailed(id, file, "separate", detail); err != nil {
			log.Printf("Ledger: job failure: %v", err)
		}
	}
}

// Finish moves a processing batch to ready. The first job's stems are
// loaded eagerly and it becomes the selection.
func (s *Session) Finish() {
	s.mu.Lock()
	st := s.st
	if len(st.jobs) > 0 {
		st.message = "Loading audio preview..."
		if err := s.ensureLoaded(st.jobs[0]); err != nil {
			log.Printf("Batch %s: preload %s: %v", st.batch.ID, st.jobs[0].Name, err)
		}
		st.current = 0
	}
	st.status = StatusReady
	if n := len(st.failures); n > 0 {
		st.message = fmt.Sprintf("Processing complete: %d succeeded, %d failed", len(st.jobs), n)
	} else {
		st.message = "Processing complete"
	}
	st.progress = ""
	id, jobs, failures := st.batch.ID, len(st.jobs), len(st.failures)
	rec := s.recorder
	s.mu.Unlock()

	log.Printf("Batch %s ready: %d jobs, %d failures", id, jobs, failures)
	if rec != nil {
		if err := rec.BatchFinished(id, StatusReady, jobs, failures); err != nil {
			log.Printf("Ledger: batch finish: %v", err)
		}
	}
}

// Fail aborts a processing batch with a batch-wide error.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	st := s.st
	st.status = StatusError
	st.message = err.Error()
	st.fatal = err.Error()
	id, jobs, failures := st.batch.ID, len(st.jobs), len(st.failures)
	rec := s.recorder
	s.mu.Unlock()

	log.Printf("Batch %s failed: %v", id, err)
	if rec != nil {
		if rerr := rec.BatchFinished(id, StatusError, jobs, failures); rerr != nil {
			log.Printf("Ledger: batch finish: %v", rerr)
		}
	}
}

// ProgressInfo is the processing status as polled by the UI.
type ProgressInfo struct {
	Status   Status   `json:"status"`
	Message  string   `json:"message"`
	Progress string   `json:"progress"`
	Error    string   `json:"error"`
	Failed   []string `json:"failed_files"`
}

// Progress returns the processing status.
func (s *Session) Progress() ProgressInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	p := ProgressInfo{Status: st.status, Message: st.message, Progress: st.progress, Failed: []string{}}
	for _, f := range st.failures {
		p.Failed = append(p.Failed, f.String())
	}
	if st.fatal != "" {
		p.Error = st.fatal
	} else {
		p.Error = strings.Join(p.Failed, "\n")
	}
	return p
}

// Info is a snapshot of the session for status displays.
type Info struct {
	BatchID          string           `json:"batch_id"`
	Ready            bool             `json:"is_ready"`
	Status           Status           `json:"status"`
	ChannelCount     int              `json:"channel_count"`
	Jobs             []JobInfo        `json:"audio_files"`
	CurrentIndex     int              `json:"current_audio_index"`
	CurrentName      string           `json:"current_audio_name,omitempty"`
	InputDir         string           `json:"input_dir"`
	OutputFile       string           `json:"output_file"`
	AvailableSources []audio.StemName `json:"available_sources"`
	AllExported      bool             `json:"all_exported"`
}

// Info returns a consistent snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	info := Info{
		BatchID:          st.batch.ID,
		Ready:            st.status == StatusReady,
		Status:           st.status,
		ChannelCount:     st.channelCount,
		Jobs:             make([]JobInfo, 0, len(st.jobs)),
		CurrentIndex:     st.current,
		AvailableSources: []audio.StemName{},
		AllExported:      len(st.jobs) > 0,
	}
	for i, j := range st.jobs {
		info.Jobs = append(info.Jobs, j.info(i))
		if !j.exported {
			info.AllExported = false
		}
	}
	if j := st.active(); j != nil {
		info.CurrentName = j.Name
		info.InputDir = j.InputDir
		info.OutputFile = j.OutputPath
		if j.loaded {
			info.AvailableSources = j.stems.Available()
		}
	}
	return info
}

// Select makes job i the active one, loading its stems on first use.
func (s *Session) Select(i int) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if i < 0 || i >= len(st.jobs) {
		return Selection{}, ErrOutOfRange
	}
	j := st.jobs[i]
	if err := s.ensureLoaded(j); err != nil {
		return Selection{}, fmt.Errorf("load stems for %s: %w", j.Name, err)
	}
	st.current = i
	return Selection{Index: i, Name: j.Name, Loaded: j.loaded, Topology: j.topology.Clone()}, nil
}

// Topology returns a copy of the active job's routing.
func (s *Session) Topology() (mix.Topology, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.st.active()
	if j == nil {
		return mix.Topology{}, ErrNoSelection
	}
	return j.topology.Clone(), nil
}

// UpdateTopology replaces the active job's routing.
func (s *Session) UpdateTopology(t mix.Topology) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.st.active()
	if j == nil {
		return ErrNoSelection
	}
	if err := s.st.check(t); err != nil {
		return err
	}
	j.setTopology(t)
	return nil
}

// ApplyToAll copies t, or the active job's routing when t is nil, into
// every job. It returns the number of jobs updated.
func (s *Session) ApplyToAll(t *mix.Topology) (int, error) {
	return s.apply(t, func(*Job) bool { return true })
}

// ApplyToRemaining is ApplyToAll restricted to jobs not yet exported.
func (s *Session) ApplyToRemaining(t *mix.Topology) (int, error) {
	return s.apply(t, func(j *Job) bool { return !j.exported })
}

func (s *Session) apply(t *mix.Topology, want func(*Job) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st

	var src mix.Topology
	switch {
	case t != nil:
		if err := st.check(*t); err != nil {
			return 0, err
		}
		src = t.Clone()
	case st.active() != nil:
		src = st.active().topology.Clone()
	default:
		return 0, ErrNoConfig
	}

	n := 0
	for _, j := range st.jobs {
		if want(j) {
			j.setTopology(src)
			n++
		}
	}
	return n, nil
}

// ResetActiveToDefault gives the active job a fresh copy of the default
// routing for the current channel count.
func (s *Session) ResetActiveToDefault() (mix.Topology, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.st.active()
	if j == nil {
		return mix.Topology{}, ErrNoSelection
	}
	j.setTopology(s.st.defaults)
	return j.topology.Clone(), nil
}

// SwitchChannelCount changes the layout for the whole session. Every job
// gets the new default routing and output suffix, and loses its exported
// flag since any earlier file has the wrong layout. It is rejected with
// ErrBusy while a batch is processing.
func (s *Session) SwitchChannelCount(n int) (mix.Topology, error) {
	defaults, err := mix.Default(n)
	if err != nil {
		return mix.Topology{}, ErrInvalidChannelCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if st.status == StatusProcessing {
		log.Printf("Switch to %d.1 rejected: batch %s is processing", n, st.batch.ID)
		return mix.Topology{}, ErrBusy
	}
	st.channelCount = n
	st.defaults = defaults
	st.batch.ChannelCount = n
	for _, j := range st.jobs {
		j.setTopology(defaults)
		j.OutputPath = OutputPath(st.batch.OutputDir, j.Name, n)
		j.exported = false
	}
	log.Printf("Switched to %d.1: reset %d jobs", n, len(st.jobs))
	return defaults.Clone(), nil
}

// Defaults returns the default routing for the current channel count.
func (s *Session) Defaults() mix.Topology {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.defaults.Clone()
}

// ChannelCount returns the session's layout (5 or 7).
func (s *Session) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.channelCount
}

// SourcePath returns the stem file of the active job.
func (s *Session) SourcePath(name audio.StemName) (string, error) {
	if !name.Valid() {
		return "", fmt.Errorf("%w: unknown stem %q", ErrConfiguration, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.st.active()
	if j == nil {
		return "", ErrNoSelection
	}
	return filepath.Join(j.InputDir, name.FileName()), nil
}

// OutputPath is where a job's mix is written.
func OutputPath(outputDir, name string, channelCount int) string {
	return filepath.Join(outputDir, name+mix.Suffix(channelCount))
}

func (st *state) active() *Job {
	if st.current < 0 || st.current >= len(st.jobs) {
		return nil
	}
	return st.jobs[st.current]
}

// check validates a topology supplied by a caller against the session layout.
func (st *state) check(t mix.Topology) error {
	if t.ChannelCount != st.channelCount {
		return ErrTopologyMismatch
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// ensureLoaded loads j's stems once. Callers hold s.mu.
func (s *Session) ensureLoaded(j *Job) error {
	if j.loaded {
		return nil
	}
	stems, err := s.io.LoadStems(j.InputDir)
	if err != nil {
		return err
	}
	j.stems = stems
	j.loaded = true
	return nil
}
