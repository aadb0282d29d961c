package protocol

import "time"

// NarrationRequest asks the narrator to read a text aloud and publish the
// result. Empty optional fields fall back to the service defaults.
type NarrationRequest struct {
	JobID        string `json:"job_id,omitempty"`
	Text         string `json:"text"`
	Backend      string `json:"backend,omitempty"`
	VoiceName    string `json:"voice_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	MIMEType     string `json:"mime_type,omitempty"`
	Source       string `json:"source,omitempty"`
}

// NarrationStatus is published on every stage change of a job.
type NarrationStatus struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NarrationResult is the reply to a NarrationRequest.
type NarrationResult struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	URL             string    `json:"url,omitempty"`
	Chunks          int       `json:"chunks"`
	ForcedChunks    int       `json:"forced_chunks"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	FailedStage     string    `json:"failed_stage,omitempty"`
	ChunkIndex      *int      `json:"chunk_index,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

const (
	SubjectNarrationRequest      = "narration.request"
	SubjectNarrationStatusPrefix = "narration.status"
	StreamNarrationStatus        = "NARRATION_STATUS"
)

// StatusSubject returns the subject a job's status updates go to.
func StatusSubject(jobID string) string {
	return SubjectNarrationStatusPrefix + "." + jobID
}
