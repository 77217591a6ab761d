package harness

// TraceEvent is one observed outcome in scenario order.
type TraceEvent struct {
	// Kind is "delivery".
	Kind string `json:"kind"`

	// Step is the 1-based index of the script step that produced this.
	Step int `json:"step"`

	DirectiveID string `json:"directive_id"`
	ClientID    string `json:"client_id"`
	TriggeredBy string `json:"triggered_by"`
	Text        string `json:"text"`
	At          string `json:"at"` // RFC 3339 UTC
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all deliveries in order. Used for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
