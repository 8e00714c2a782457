package narration

import domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"

// Translation keys used in rendered replies.
const (
	KeyStatusSafe        = "BOT_FILE_STATUS_SAFE"
	KeyStatusDangerous   = "BOT_FILE_STATUS_DANGEROUS"
	KeyStatusSuspicious  = "BOT_FILE_STATUS_SUSPICIOUS"
	KeySuspiciousWarning = "BOT_FILE_SUSPICIOUS_WARNING"
	KeyFileType          = "BOT_FILE_TYPE"
	KeyFileSize          = "BOT_FILE_SIZE"
	KeyURL               = "BOT_URL"
	KeyEngineSummary     = "BOT_ENGINE_SUMMARY"
	KeyDetectionResults  = "BOT_DETECTION_RESULTS"
	KeyNoThreats         = "BOT_NO_THREATS"
	KeyReportLink        = "BOT_REPORT_LINK"
	KeyRequestFileOrURL  = "BOT_REQUEST_FILE_OR_URL"
)

var statusKeys = map[domain.Severity]string{
	domain.SeveritySafe:       KeyStatusSafe,
	domain.SeveritySuspicious: KeyStatusSuspicious,
	domain.SeverityMalicious:  KeyStatusDangerous,
}
