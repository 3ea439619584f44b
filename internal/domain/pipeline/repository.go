package pipeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobRepository persists document jobs
type JobRepository interface {
	// Create inserts a new job. Returns shared.ErrAlreadyExists if a job with
	// the same ID already exists.
	Create(ctx context.Context, job *Job) error
	// CreateTx inserts the job inside the caller's transaction so the job row
	// commits or rolls back together with its zone, outbox, and audit writes
	CreateTx(ctx context.Context, tx *gorm.DB, job *Job) error
	// FindByID retrieves a job by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// FindByIDTx retrieves a job within the caller's transaction
	FindByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Job, error)
	// FindByChecksum looks up a job by tenant and document checksum, used for
	// duplicate-upload detection. Returns nil, nil when no match exists.
	FindByChecksum(ctx context.Context, tenantID uuid.UUID, checksum string) (*Job, error)
	// Update persists job mutations together with any pending domain events
	Update(ctx context.Context, job *Job) error
	// UpdateTx persists the job inside the caller's transaction so a state
	// transition commits atomically with the side effect it gates
	UpdateTx(ctx context.Context, tx *gorm.DB, job *Job) error
	// FindByTenant lists jobs for a tenant, newest first
	FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Job, int64, error)
	// FindInStates lists jobs currently in any of the given states, oldest
	// first, used to resume interrupted work after a restart
	FindInStates(ctx context.Context, states []JobState, limit int) ([]*Job, error)
}
