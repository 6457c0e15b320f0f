package messagequeue

// RunFinishedPayload is the schema for runs.finished messages.
type RunFinishedPayload struct {
	RunID string `json:"run_id"`
}
