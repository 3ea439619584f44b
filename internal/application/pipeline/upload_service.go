package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/dedup"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransactionRunner runs a function inside a database transaction
type TransactionRunner interface {
	Transaction(fn func(tx *gorm.DB) error) error
}

// UploadService accepts raw documents and creates pipeline jobs.
// Duplicate content and duplicate requests are both absorbed here: the same
// bytes never create a second job, and the same request never runs twice.
type UploadService struct {
	db        TransactionRunner
	jobs      pipeline.JobRepository
	zones     pipeline.DataZoneRepository
	store     DocumentStore
	outbox    shared.OutboxEventSaver
	auditor   audit.Recorder
	dedupSvc  *dedup.Service
	dedupTTL  time.Duration
	logger    *zap.Logger
}

// NewUploadService creates an upload service
func NewUploadService(
	db TransactionRunner,
	jobs pipeline.JobRepository,
	zones pipeline.DataZoneRepository,
	store DocumentStore,
	outbox shared.OutboxEventSaver,
	auditor audit.Recorder,
	dedupSvc *dedup.Service,
	dedupTTL time.Duration,
	logger *zap.Logger,
) *UploadService {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &UploadService{
		db:       db,
		jobs:     jobs,
		zones:    zones,
		store:    store,
		outbox:   outbox,
		auditor:  auditor,
		dedupSvc: dedupSvc,
		dedupTTL: dedupTTL,
		logger:   logger,
	}
}

// UploadInput carries one document upload request
type UploadInput struct {
	TenantID    uuid.UUID
	FileName    string
	Content     []byte
	ContentType string
	// IdempotencyKey is the client-supplied Idempotency-Key header; empty
	// when the client sent none, in which case a canonical request hash
	// guards against doubled submissions.
	IdempotencyKey string
	RequestID      string
	Actor          string
}

// UploadResult is the outcome of an upload request
type UploadResult struct {
	JobID     uuid.UUID `json:"job_id"`
	State     string    `json:"state"`
	Checksum  string    `json:"checksum"`
	Duplicate bool      `json:"duplicate"`
}

// Upload ingests a document. The same content (by checksum) returns the
// existing job instead of creating a new one; the same request (by
// idempotency key) replays the stored result.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if len(input.Content) == 0 {
		return nil, shared.NewDomainError("EMPTY_DOCUMENT", "Document content cannot be empty")
	}
	if input.FileName == "" {
		return nil, shared.NewDomainError("INVALID_DOCUMENT_NAME", "Document name cannot be empty")
	}

	checksum := dedup.Checksum(input.Content)

	keyHash, err := s.requestKeyHash(input, checksum)
	if err != nil {
		return nil, err
	}

	key, err := s.dedupSvc.Acquire(ctx, input.TenantID, keyHash, s.dedupTTL)
	if err != nil {
		return nil, err
	}
	if key.Status == dedup.KeyStatusCompleted {
		var replayed UploadResult
		if err := json.Unmarshal(key.Result, &replayed); err != nil {
			return nil, err
		}
		return &replayed, nil
	}

	result, err := s.process(ctx, input, checksum)
	if err != nil {
		if failErr := s.dedupSvc.Fail(ctx, keyHash); failErr != nil {
			s.logger.Warn("Failed to release idempotency key",
				zap.String("key_hash", keyHash), zap.Error(failErr))
		}
		return nil, err
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := s.dedupSvc.Complete(ctx, keyHash, resultJSON); err != nil {
		s.logger.Warn("Failed to complete idempotency key",
			zap.String("key_hash", keyHash), zap.Error(err))
	}

	return result, nil
}

// requestKeyHash derives the idempotency key hash: the client-supplied
// header when present, otherwise a canonical hash of the request itself.
func (s *UploadService) requestKeyHash(input UploadInput, checksum string) (string, error) {
	if input.IdempotencyKey != "" {
		return dedup.RequestHash(map[string]string{
			"tenant_id":       input.TenantID.String(),
			"idempotency_key": input.IdempotencyKey,
		})
	}
	return dedup.RequestHash(map[string]string{
		"tenant_id": input.TenantID.String(),
		"file_name": input.FileName,
		"checksum":  checksum,
	})
}

func (s *UploadService) process(ctx context.Context, input UploadInput, checksum string) (*UploadResult, error) {
	// Content dedup: the same bytes for the same tenant map to the job that
	// already owns them, whatever state it is in.
	existing, err := s.jobs.FindByChecksum(ctx, input.TenantID, checksum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.recordAudit(ctx, input, existing.ID, audit.EventDuplicateDetected, map[string]string{
			"checksum":      checksum,
			"document_name": input.FileName,
		})
		return &UploadResult{
			JobID:     existing.ID,
			State:     string(existing.State),
			Checksum:  checksum,
			Duplicate: true,
		}, nil
	}

	storageKey := s.store.ObjectKey(input.TenantID.String(), checksum, input.FileName)
	if err := s.store.Put(ctx, storageKey, input.Content, input.ContentType); err != nil {
		return nil, err
	}

	job, err := pipeline.NewJob(input.TenantID, input.FileName, checksum, storageKey, input.RequestID)
	if err != nil {
		return nil, err
	}

	zoneRecord, err := pipeline.NewDataZoneRecord(input.TenantID, job.ID, pipeline.ZoneRaw, nil)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.jobs.CreateTx(ctx, tx, job); err != nil {
			return err
		}
		if err := s.zones.AppendTx(ctx, tx, zoneRecord); err != nil {
			return err
		}
		if err := s.outbox.SaveEvents(ctx, tx, job.GetDomainEvents()...); err != nil {
			return err
		}
		auditEvent, err := audit.NewEvent(input.TenantID, job.ID, audit.EventDocumentUploaded,
			input.Actor, mustJSON(map[string]string{
				"document_name": input.FileName,
				"checksum":      checksum,
				"storage_key":   storageKey,
			}), input.RequestID)
		if err != nil {
			return err
		}
		return s.auditor.RecordTx(ctx, tx, auditEvent)
	})
	if err != nil {
		// A concurrent upload of the same content may have won the insert race
		// on the (tenant, checksum) unique index.
		if err == shared.ErrAlreadyExists {
			winner, findErr := s.jobs.FindByChecksum(ctx, input.TenantID, checksum)
			if findErr == nil && winner != nil {
				return &UploadResult{
					JobID:     winner.ID,
					State:     string(winner.State),
					Checksum:  checksum,
					Duplicate: true,
				}, nil
			}
		}
		return nil, err
	}
	job.ClearDomainEvents()

	s.logger.Info("Document uploaded",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("checksum", checksum),
	)

	return &UploadResult{
		JobID:    job.ID,
		State:    string(job.State),
		Checksum: checksum,
	}, nil
}

func (s *UploadService) recordAudit(ctx context.Context, input UploadInput, jobID uuid.UUID, eventType string, payload map[string]string) {
	event, err := audit.NewEvent(input.TenantID, jobID, eventType, input.Actor, mustJSON(payload), input.RequestID)
	if err != nil {
		return
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Warn("Failed to record audit event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

func mustJSON(v interface{}) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
