package domain

// Candidate is a task proposed by the inbox parser, not yet persisted.
type Candidate struct {
	Title  string
	Status Status
	Source string
}

// ImportAction records what happened to a single candidate.
type ImportAction string

const (
	ActionImported ImportAction = "imported"
	ActionSkipped  ImportAction = "skipped"
	ActionFailed   ImportAction = "failed"
)

// ImportDetail is one line of the import log.
type ImportDetail struct {
	Title  string       `json:"title"`
	Status Status       `json:"status"`
	Action ImportAction `json:"action"`
	Error  string       `json:"error,omitempty"`
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Details  []ImportDetail `json:"details"`
}
