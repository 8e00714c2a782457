package analysis

// Severity enum
type Severity string

const (
	SeveritySafe       Severity = "safe"
	SeveritySuspicious Severity = "suspicious"
	SeverityMalicious  Severity = "malicious"
)

// maliciousThreshold is the number of engines flagging a subject as malicious
// before it is reported as malicious rather than suspicious.
const maliciousThreshold = 3

// Severity maps engine counts to a three-level tag.
func (v Verdict) Severity() Severity {
	switch {
	case v.MaliciousCount >= maliciousThreshold:
		return SeverityMalicious
	case v.SuspiciousCount > 0 || v.MaliciousCount > 0:
		return SeveritySuspicious
	default:
		return SeveritySafe
	}
}
