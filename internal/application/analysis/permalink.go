package analysis

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultReportBaseURL is the VirusTotal GUI root used for report links.
const DefaultReportBaseURL = "https://www.virustotal.com/gui"

// ReportLink builds the human readable report URL for a provider job id.
//
// URL jobs look like "u-<sha256>-<timestamp>". File jobs are base64 of
// "<hash>:<timestamp>".
func ReportLink(base, jobID string) (string, error) {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = DefaultReportBaseURL
	}

	if strings.HasPrefix(jobID, "u-") {
		parts := strings.SplitN(jobID, "-", 3)
		if len(parts) != 3 || parts[1] == "" {
			return "", fmt.Errorf("malformed url job id %q", jobID)
		}
		return base + "/url/" + parts[1], nil
	}

	decoded, err := decodeJobID(jobID)
	if err != nil {
		return "", fmt.Errorf("malformed file job id %q: %w", jobID, err)
	}
	hash, _, ok := strings.Cut(decoded, ":")
	if !ok || hash == "" {
		return "", fmt.Errorf("malformed file job id %q: no hash segment", jobID)
	}
	return base + "/file/" + hash + "/analysis", nil
}

func decodeJobID(id string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		// ids are sometimes handed out without padding
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(id, "="))
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
