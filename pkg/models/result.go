package models

// Status is the terminal status reported back to the router.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailed         Status = "FAILED"
	StatusError          Status = "ERROR"
)

// Result describes the outcome of a single write or a whole batch.
type Result struct {
	RecordID string        `json:"record_id,omitempty"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Created  bool          `json:"created"`
	Outcome  *BatchOutcome `json:"outcome,omitempty"`
}

func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

func Success(id string, created bool) *Result {
	return &Result{RecordID: id, Status: StatusSuccess, Created: created}
}

func Failure(message string) *Result {
	return &Result{Status: StatusError, Error: message}
}

type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type BatchOutcome struct {
	BatchID      string      `json:"batch_id"`
	Mode         string      `json:"mode"`
	Total        int         `json:"total"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	Errors       []ItemError `json:"errors"`
	Status       Status      `json:"status"`
}

// BatchRequest is the wire shape of a batch submitted over HTTP or Kafka.
type BatchRequest struct {
	Target string        `json:"target"`
	Mode   string        `json:"mode,omitempty"`
	Items  []InboundItem `json:"items"`
}
