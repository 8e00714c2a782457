package scanlog

import "time"

// Outcome enum
type Outcome string

const (
	OutcomeVerdicted Outcome = "verdicted"
	OutcomeFailed    Outcome = "failed"
)

// Entry is the audit record of one analysis request. It carries verdict
// metadata only, never artifact content.
type Entry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Kind         string    `json:"kind"` // url | file
	Subject      string    `json:"subject"`
	Outcome      Outcome   `json:"outcome"`
	Severity     string    `json:"severity,omitempty"`
	Malicious    int       `json:"malicious"`
	Suspicious   int       `json:"suspicious"`
	TotalEngines int       `json:"total_engines"`
	ReportLink   string    `json:"report_link,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary aggregates entries over a time window.
type Summary struct {
	Total      int `json:"total"`
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Malicious  int `json:"malicious"`
	Failed     int `json:"failed"`
}
