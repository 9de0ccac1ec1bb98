package session

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/mix"
)

// PreviewFile is the transient preview written under the session temp dir.
const PreviewFile = "preview.wav"

// Preview is the result of rendering the active job for audition.
type Preview struct {
	Job      string     `json:"name"`
	Path     string     `json:"preview_file"`
	Channels int        `json:"channels"`
	Frames   int        `json:"frames"`
	Buffer   mix.Buffer `json:"-"`
}

// Export outcomes reported per job.
const (
	ExportOK              = "ok"
	ExportAlreadyExported = "already_exported"
	ExportStale           = "stale" // written, but the routing changed meanwhile
	ExportFailed          = "error"
)

// ExportResult is the outcome of exporting one job.
type ExportResult struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	OutputPath string `json:"output_file"`
	Error      string `json:"error,omitempty"`
}

// renderJob is what a render needs from a job, captured under the lock.
type renderJob struct {
	st           *state
	job          *Job
	rev          int
	stems        audio.StemSet
	topology     mix.Topology
	channelCount int
	outputPath   string
}

// PreviewPath is where Preview writes its file.
func (s *Session) PreviewPath() string {
	return filepath.Join(s.tempDir, PreviewFile)
}

// Preview renders the active job and writes it as a multichannel WAV.
// A non-nil t first replaces the active job's topology.
func (s *Session) Preview(t *mix.Topology) (Preview, error) {
	s.mu.Lock()
	rj, err := s.prepareActive(t)
	s.mu.Unlock()
	if err != nil {
		return Preview{}, err
	}

	buf, err := mix.Render(rj.stems, rj.topology, rj.channelCount)
	if err != nil {
		return Preview{}, &ExportError{Job: rj.job.Name, Err: err}
	}

	path := s.PreviewPath()
	s.renderMu.Lock()
	err = s.io.WriteWAV(path, buf.Samples, buf.Channels)
	s.renderMu.Unlock()
	if err != nil {
		return Preview{}, &ExportError{Job: rj.job.Name, Err: fmt.Errorf("write preview: %w", err)}
	}

	log.Printf("Preview %s: %d frames, %d channels", rj.job.Name, buf.Frames(), buf.Channels)
	return Preview{Job: rj.job.Name, Path: path, Channels: buf.Channels, Frames: buf.Frames(), Buffer: buf}, nil
}

// Export renders the active job to its output file and marks it exported.
// It always writes, even if the job was exported before. A non-nil t first
// replaces the active job's topology.
func (s *Session) Export(t *mix.Topology) (ExportResult, error) {
	s.mu.Lock()
	rj, err := s.prepareActive(t)
	idx := s.st.current
	s.mu.Unlock()
	if err != nil {
		return ExportResult{}, err
	}

	res := ExportResult{Index: idx, Name: rj.job.Name, OutputPath: rj.outputPath}
	err = s.export(rj)
	res.finish(err)
	return res, err
}

func (r *ExportResult) finish(err error) {
	switch {
	case err == nil:
		r.Status = ExportOK
	case errors.Is(err, ErrStale):
		r.Status = ExportStale
		r.Error = err.Error()
	default:
		r.Status = ExportFailed
		r.Error = err.Error()
	}
}

// ExportIndex exports job i unless it has already been exported.
func (s *Session) ExportIndex(i int) (ExportResult, error) {
	s.mu.Lock()
	if s.st.status != StatusReady {
		s.mu.Unlock()
		return ExportResult{}, ErrNotReady
	}
	st := s.st
	if i < 0 || i >= len(st.jobs) {
		s.mu.Unlock()
		return ExportResult{}, ErrOutOfRange
	}
	s.mu.Unlock()

	return s.exportOne(st, i)
}

// ExportAll exports every job that is not yet exported, loading stems as
// needed. A failing job is reported in its result and does not stop the
// others.
func (s *Session) ExportAll() ([]ExportResult, error) {
	s.mu.Lock()
	if s.st.status != StatusReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	st := s.st
	n := len(st.jobs)
	s.mu.Unlock()

	results := make([]ExportResult, 0, n)
	var ok, skipped, stale, failed int
	for i := 0; i < n; i++ {
		res, _ := s.exportOne(st, i)
		switch res.Status {
		case ExportOK:
			ok++
		case ExportAlreadyExported:
			skipped++
		case ExportStale:
			stale++
		default:
			failed++
		}
		results = append(results, res)
	}
	log.Printf("Export all: %d exported, %d already done, %d stale, %d failed", ok, skipped, stale, failed)
	return results, nil
}

func (s *Session) exportOne(st *state, i int) (ExportResult, error) {
	s.mu.Lock()
	if s.st != st {
		s.mu.Unlock()
		return ExportResult{Index: i, Status: ExportFailed, Error: ErrReplaced.Error()}, ErrReplaced
	}
	j := st.jobs[i]
	res := ExportResult{Index: i, Name: j.Name, OutputPath: j.OutputPath}
	if j.exported {
		s.mu.Unlock()
		res.Status = ExportAlreadyExported
		return res, nil
	}
	if err := s.ensureLoaded(j); err != nil {
		s.mu.Unlock()
		eerr := &ExportError{Job: j.Name, Err: fmt.Errorf("load stems: %w", err)}
		res.Status = ExportFailed
		res.Error = eerr.Error()
		s.recordFailure(st.batch.ID, j.Name, res.Error)
		return res, eerr
	}
	rj := capture(st, j)
	s.mu.Unlock()

	err := s.export(rj)
	res.finish(err)
	return res, err
}

// prepareActive applies an optional topology to the active job, loads its
// stems and captures what a render needs. Callers hold s.mu.
func (s *Session) prepareActive(t *mix.Topology) (renderJob, error) {
	st := s.st
	if st.status != StatusReady {
		return renderJob{}, ErrNotReady
	}
	j := st.active()
	if j == nil {
		return renderJob{}, ErrNoSelection
	}
	if t != nil {
		if err := st.check(*t); err != nil {
			return renderJob{}, err
		}
		j.setTopology(*t)
	}
	if err := s.ensureLoaded(j); err != nil {
		return renderJob{}, &ExportError{Job: j.Name, Err: fmt.Errorf("load stems: %w", err)}
	}
	return capture(st, j), nil
}

func capture(st *state, j *Job) renderJob {
	return renderJob{
		st:           st,
		job:          j,
		rev:          j.rev,
		stems:        j.stems,
		topology:     j.topology.Clone(),
		channelCount: st.channelCount,
		outputPath:   j.OutputPath,
	}
}

// export renders and writes one job, then marks it exported if neither the
// batch nor the job's routing changed while it was rendering. A routing
// change yields ErrStale; a replaced batch yields ErrReplaced.
func (s *Session) export(rj renderJob) error {
	buf, err := mix.Render(rj.stems, rj.topology, rj.channelCount)
	if err == nil {
		s.renderMu.Lock()
		err = s.io.WriteFLAC(rj.outputPath, buf.Samples, buf.Channels)
		s.renderMu.Unlock()
	}
	if err != nil {
		eerr := &ExportError{Job: rj.job.Name, Err: err}
		s.recordFailure(rj.st.batch.ID, rj.job.Name, eerr.Error())
		return eerr
	}

	s.mu.Lock()
	if s.st != rj.st {
		s.mu.Unlock()
		return &ExportError{Job: rj.job.Name, Err: ErrReplaced}
	}
	current := rj.job.rev == rj.rev
	if current {
		rj.job.exported = true
	}
	id := rj.st.batch.ID
	rec := s.recorder
	s.mu.Unlock()

	if !current {
		log.Printf("Exported %s to %s, but its routing changed during the render; not marking it exported", rj.job.Name, rj.outputPath)
		return &ExportError{Job: rj.job.Name, Err: ErrStale}
	}
	log.Printf("Exported %s to %s", rj.job.Name, rj.outputPath)
	if rec != nil {
		if err := rec.JobExported(id, rj.job.Name, rj.outputPath, rj.channelCount); err != nil {
			log.Printf("Ledger: export: %v", err)
		}
	}
	return nil
}

func (s *Session) recordFailure(batchID, job, detail string) {
	log.Printf("Export failed: %s", detail)
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		if err := rec.JobFailed(batchID, job, "export", detail); err != nil {
			log.Printf("Ledger: job failure: %v", err)
		}
	}
}
