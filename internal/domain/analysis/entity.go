package analysis

import (
	"io"
	"time"
)

// MediaKind enum
type MediaKind string

const (
	KindImage     MediaKind = "image"
	KindVideo     MediaKind = "video"
	KindAudio     MediaKind = "audio"
	KindDocument  MediaKind = "document"
	KindAnimation MediaKind = "animation"
)

// Artifact is a user-submitted file as announced by the chat platform.
// Content is fetched only after the size check passed.
type Artifact struct {
	SourceID     string    `json:"source_id"`
	UniqueID     string    `json:"unique_id,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	MimeType     string    `json:"mime_type,omitempty"`
	DeclaredSize int64     `json:"declared_size"`
	Kind         MediaKind `json:"kind"`
}

// StagedArtifact is the temporary copy of an Artifact owned by one pipeline run.
type StagedArtifact interface {
	// Name is the staged file name (unique per request).
	Name() string
	// Location is a path or object key, used for logging only.
	Location() string
	Size() int64
	Open() (io.ReadCloser, error)
	// Release deletes the staged copy. Deleting something already gone is not an error.
	Release() error
}

// RequestKind enum
type RequestKind string

const (
	RequestURL  RequestKind = "url"
	RequestFile RequestKind = "file"
)

// Request is one unit of analysis work. Immutable once constructed.
type Request struct {
	ID       string
	Kind     RequestKind
	URL      string
	Artifact Artifact
}

// Subject identifies the request in logs and audit records.
func (r Request) Subject() string {
	if r.Kind == RequestURL {
		return r.URL
	}
	if r.Artifact.FileName != "" {
		return r.Artifact.FileName
	}
	return r.Artifact.SourceID
}

// EngineResult value object
type EngineResult struct {
	Category string `json:"category"`
	Detail   string `json:"detail,omitempty"`
}

// Verdict is the structured result of one completed analysis.
type Verdict struct {
	JobID           string                  `json:"job_id"`
	Engines         map[string]EngineResult `json:"engines"`
	MaliciousCount  int                     `json:"malicious"`
	SuspiciousCount int                     `json:"suspicious"`
	HarmlessCount   int                     `json:"harmless"`
	UndetectedCount int                     `json:"undetected"`
	TotalEngines    int                     `json:"total_engines"`
	ReportLink      string                  `json:"link,omitempty"`
	URL             string                  `json:"url,omitempty"`
	SubjectName     string                  `json:"file_name,omitempty"`
	SubjectSize     int64                   `json:"file_size,omitempty"`
	SubjectType     MediaKind               `json:"file_type,omitempty"`
}

// Stats are the per-category engine counts reported by the provider.
type Stats struct {
	Malicious   int `json:"malicious"`
	Suspicious  int `json:"suspicious"`
	Undetected  int `json:"undetected"`
	Harmless    int `json:"harmless"`
	Timeout     int `json:"timeout"`
	Failure     int `json:"failure"`
	Unsupported int `json:"type-unsupported"`
}

// Total is the number of engines that took part in the analysis.
func (s Stats) Total() int {
	return s.Malicious + s.Suspicious + s.Undetected + s.Harmless + s.Timeout + s.Failure + s.Unsupported
}

// Result is the provider's completed analysis, decoded once at the provider boundary.
type Result struct {
	JobID       string
	Status      string
	Stats       Stats
	Engines     map[string]EngineResult
	CompletedAt time.Time
}
