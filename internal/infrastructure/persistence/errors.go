package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// pg error code for unique_violation
const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a unique index violation.
// The gorm postgres driver speaks pgx, so the server error arrives as a
// *pgconn.PgError (or gorm.ErrDuplicatedKey when gorm has translated it
// already); the migrate tooling still goes through lib/pq, so that shape
// is matched too.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
