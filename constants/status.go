package constants

// JobStatus is the canonical status for rows in batch_jobs.
type JobStatus string

// Stable values (store these exact strings in DB). Transitions are
// one-directional: created -> processing -> waiting -> completed | failed.
const (
	JobStatusCreated    JobStatus = "created"    // accepted, not yet submitted
	JobStatusProcessing JobStatus = "processing" // partitioning and submitting chunks
	JobStatusWaiting    JobStatus = "waiting"    // submitted to provider, polling
	JobStatusCompleted  JobStatus = "completed"  // terminal success
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// IsTerminal reports whether s is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
