package session

// Recorder receives batch history. Calls are made outside the session lock
// and failures are logged, never returned to the operator.
type Recorder interface {
	BatchStarted(b Batch) error
	BatchFinished(id string, status Status, jobs, failures int) error
	JobExported(batchID, job, path string, channelCount int) error
	JobFailed(batchID, job, stage, detail string) error
}
