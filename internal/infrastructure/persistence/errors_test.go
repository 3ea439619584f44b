package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "gorm translated",
			err:  gorm.ErrDuplicatedKey,
			want: true,
		},
		{
			// the runtime driver is pgx, so this is the shape a live
			// postgres returns for a duplicate key
			name: "pgconn unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "idx_jobs_tenant_checksum"},
			want: true,
		},
		{
			name: "pgconn other code",
			err:  &pgconn.PgError{Code: "23503"},
			want: false,
		},
		{
			name: "pq unique violation",
			err:  &pq.Error{Code: "23505"},
			want: true,
		},
		{
			name: "wrapped pgconn error",
			err:  fmt.Errorf("create job: %w", &pgconn.PgError{Code: "23505"}),
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestGormJobRepository_Create_DuplicateFromDriver(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGormJobRepository(db)

	job, err := pipeline.NewJob(uuid.New(), "hoa-don-0001.pdf", "abc123", "raw/acme/abc123.pdf", "req-1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "jobs"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_jobs_tenant_checksum"})
	mock.ExpectRollback()

	err = repo.Create(context.Background(), job)

	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
