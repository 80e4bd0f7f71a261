package check

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves the preview page for a canonical address and extracts the
// metadata fields. Implementations must honor the context and never retry.
type Fetcher interface {
	Fetch(ctx context.Context, canonical string) (Preview, error)
}

// RunStore persists run and result metadata at the service boundary. The
// validation engine itself never touches a store.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status RunStatus, errText string, counters RunCounters) error
	RecordResult(ctx context.Context, runID uuid.UUID, rec Record) error
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	ListResults(ctx context.Context, runID uuid.UUID) ([]Record, error)
}

// BlobStore writes raw preview bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
