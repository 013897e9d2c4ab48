package harness

// Exchange is one turn of the transcript.
type Exchange struct {
	Session string   `json:"session"`
	Input   string   `json:"input"`
	Lines   []string `json:"lines"`
	Choices []string `json:"choices,omitempty"`
	Confirm string   `json:"confirm,omitempty"`
	State   string   `json:"state"`
	Topic   string   `json:"topic,omitempty"`
}

// DispatchEvent is one call that reached the trigger backend, whether or
// not it was acknowledged.
type DispatchEvent struct {
	Seq        int               `json:"seq"`
	WorkflowID string            `json:"workflow_id"`
	Inputs     map[string]string `json:"inputs"`
}

// SessionState is where a session ended up.
type SessionState struct {
	State string `json:"state"`
	Topic string `json:"topic,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool `json:"pass"`

	Transcript []Exchange      `json:"transcript"`
	Dispatches []DispatchEvent `json:"dispatches"`

	// AuditCount is the number of records in the audit log after the run.
	AuditCount int `json:"audit_count"`

	// Sessions maps session id to its final state.
	Sessions map[string]SessionState `json:"sessions,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Transcript: []Exchange{},
		Dispatches: []DispatchEvent{},
		Errors:     []string{},
		Sessions:   make(map[string]SessionState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
