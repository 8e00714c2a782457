package scanlog

import (
	"context"
	"time"
)

// Repository port (scan audit log persistence)
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	Latest(ctx context.Context, limit int) ([]*Entry, error)
	Summary(ctx context.Context, since time.Time) (Summary, error)
}
