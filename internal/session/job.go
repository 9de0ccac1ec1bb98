package session

import (
	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/mix"
)

// Job is one source track: where its stems live, where its mix goes, and
// its own routing. Jobs belong to exactly one batch state and are only
// touched with Session.mu held.
type Job struct {
	Name       string
	InputDir   string
	OutputPath string

	topology mix.Topology
	stems    audio.StemSet
	loaded   bool
	exported bool
	rev      int // bumped whenever topology or layout changes
}

func newJob(name, inputDir, outputPath string, t mix.Topology) *Job {
	return &Job{Name: name, InputDir: inputDir, OutputPath: outputPath, topology: t.Clone()}
}

func (j *Job) setTopology(t mix.Topology) {
	j.topology = t.Clone()
	j.rev++
}

// JobInfo is a read-only view of a Job.
type JobInfo struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Loaded     bool   `json:"is_loaded"`
	Exported   bool   `json:"export_completed"`
	OutputPath string `json:"output_file"`
}

func (j *Job) info(i int) JobInfo {
	return JobInfo{Index: i, Name: j.Name, Loaded: j.loaded, Exported: j.exported, OutputPath: j.OutputPath}
}

// Selection is returned by Select.
type Selection struct {
	Index    int          `json:"index"`
	Name     string       `json:"name"`
	Loaded   bool         `json:"is_loaded"`
	Topology mix.Topology `json:"channel_config"`
}
