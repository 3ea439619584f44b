package pipeline

import (
	"context"
	"time"

	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Zone names a stage of a document's lifecycle for lineage tracking
type Zone string

const (
	ZoneRaw       Zone = "raw"
	ZoneExtracted Zone = "extracted"
	ZoneProposed  Zone = "proposed"
	ZonePosted    Zone = "posted"
)

// IsValid returns true for a known zone
func (z Zone) IsValid() bool {
	switch z {
	case ZoneRaw, ZoneExtracted, ZoneProposed, ZonePosted:
		return true
	}
	return false
}

// ZoneRecordStatus is the lifecycle status of a data zone record
type ZoneRecordStatus string

const (
	ZoneRecordActive     ZoneRecordStatus = "active"
	ZoneRecordSuperseded ZoneRecordStatus = "superseded"
	ZoneRecordArchived   ZoneRecordStatus = "archived"
)

// DataZoneRecord marks that a job's data entered a zone. Records are
// append-only: reprocessing supersedes the prior active record for the same
// (job, zone) instead of mutating it, preserving full lineage history.
type DataZoneRecord struct {
	ID        uuid.UUID        `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID        `gorm:"type:uuid;not null;index"`
	JobID     uuid.UUID        `gorm:"type:uuid;not null;index:idx_data_zones_job"`
	Zone      Zone             `gorm:"type:varchar(20);not null"`
	Status    ZoneRecordStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Metadata  []byte           `gorm:"type:jsonb"`
	CreatedAt time.Time        `gorm:"not null"`
	UpdatedAt time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DataZoneRecord) TableName() string {
	return "data_zones"
}

// NewDataZoneRecord creates an active record for a job entering a zone
func NewDataZoneRecord(tenantID, jobID uuid.UUID, zone Zone, metadata []byte) (*DataZoneRecord, error) {
	if !zone.IsValid() {
		return nil, shared.NewDomainError("INVALID_ZONE", "Unknown data zone")
	}
	now := time.Now()
	return &DataZoneRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		JobID:     jobID,
		Zone:      zone,
		Status:    ZoneRecordActive,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DataZoneRepository persists zone lineage records
type DataZoneRepository interface {
	// Append inserts an active record and supersedes any prior active record
	// for the same (job, zone) within one transaction.
	Append(ctx context.Context, record *DataZoneRecord) error
	// AppendTx appends inside the caller's transaction so a zone entry
	// commits atomically with the state change that caused it
	AppendTx(ctx context.Context, tx *gorm.DB, record *DataZoneRecord) error
	// CurrentZone returns the most recently entered active zone for a job
	CurrentZone(ctx context.Context, jobID uuid.UUID) (Zone, error)
	// JobZones returns the full ordered lineage history for a job
	JobZones(ctx context.Context, jobID uuid.UUID) ([]*DataZoneRecord, error)
}
