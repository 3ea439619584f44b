package persistence

import (
	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/dedup"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the schema for every persisted model.
// Used by cmd/migrate and by development environments; production deploys
// run versioned SQL migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&pipeline.Job{},
		&pipeline.DataZoneRecord{},
		&ledger.Proposal{},
		&ledger.JournalLine{},
		&ledger.LedgerEntry{},
		&ledger.LedgerLine{},
		&approval.Approval{},
		&dedup.IdempotencyKey{},
		&audit.Event{},
		&shared.OutboxEvent{},
		&shared.Subscription{},
		&shared.DeliveryAttempt{},
	)
}
