package analysis

import (
	"context"
	"io"
)

// Provider port (remote analysis engine)
type Provider interface {
	SubmitFile(ctx context.Context, name string, content io.Reader) (jobID string, err error)
	SubmitURL(ctx context.Context, url string) (jobID string, err error)
	// AwaitResult blocks until the job is completed or ctx is done.
	AwaitResult(ctx context.Context, jobID string) (Result, error)
}

// Stager port (temporary placement of artifacts)
type Stager interface {
	Stage(ctx context.Context, name string, content io.Reader) (StagedArtifact, error)
}

// FileSource port (fetches artifact bytes from the chat platform)
type FileSource interface {
	Download(ctx context.Context, a Artifact) (io.ReadCloser, error)
}

// Recorder receives every terminal outcome. Exactly one of v and err is set.
type Recorder interface {
	Record(ctx context.Context, req Request, v *Verdict, err error) error
}
