package repository

import (
	"context"

	"github.com/splax/pagesmith/internal/domain"
)

// DeploymentStore holds the latest terminal record per task ID.
//
// Implementations must tolerate concurrent Put calls for distinct keys and
// concurrent Get/Put on the same key. Writes are last-writer-wins per key and
// there are no cross-key guarantees.
type DeploymentStore interface {
	Get(ctx context.Context, task string) (domain.DeploymentRecord, error)
	Put(ctx context.Context, task string, record domain.DeploymentRecord) error
}

// HealthChecker is implemented by stores backed by an external service.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
