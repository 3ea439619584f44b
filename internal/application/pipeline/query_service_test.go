package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryFixture struct {
	svc       *QueryService
	jobs      *fakeJobRepo
	zones     *fakeZoneRepo
	proposals *fakeProposalRepo
	entries   *fakeLedgerRepo
	auditor   *fakeAuditor
}

func newQueryFixture() *queryFixture {
	f := &queryFixture{
		jobs:      newFakeJobRepo(),
		zones:     &fakeZoneRepo{},
		proposals: newFakeProposalRepo(),
		entries:   newFakeLedgerRepo(),
		auditor:   &fakeAuditor{},
	}
	f.svc = NewQueryService(f.jobs, f.zones, f.proposals, f.entries, f.auditor)
	return f
}

func (f *queryFixture) seedJob(t *testing.T, tenantID uuid.UUID) *pipeline.Job {
	t.Helper()
	job, err := pipeline.NewJob(tenantID, "doc.pdf", "cafe01", "tenant/cafe01/doc.pdf", "req-1")
	require.NoError(t, err)
	job.ClearDomainEvents()
	require.NoError(t, f.jobs.Create(context.Background(), job))
	return job
}

func TestGetJobScopedToTenant(t *testing.T) {
	f := newQueryFixture()
	tenantID := uuid.New()
	job := f.seedJob(t, tenantID)

	dto, err := f.svc.GetJob(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, dto.ID)
	assert.Equal(t, string(pipeline.JobStateUploaded), dto.State)

	// Another tenant sees the same job as missing.
	_, err = f.svc.GetJob(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListJobsPaginates(t *testing.T) {
	f := newQueryFixture()
	tenantID := uuid.New()
	for i := 0; i < 3; i++ {
		job, err := pipeline.NewJob(tenantID, "doc.pdf", uuid.NewString(), "key-"+uuid.NewString(), "")
		require.NoError(t, err)
		job.ClearDomainEvents()
		require.NoError(t, f.jobs.Create(context.Background(), job))
	}
	f.seedJob(t, uuid.New()) // other tenant, must not leak

	page, err := f.svc.ListJobs(context.Background(), tenantID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Jobs, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)
}

func TestGetZonesReturnsLineage(t *testing.T) {
	f := newQueryFixture()
	tenantID := uuid.New()
	job := f.seedJob(t, tenantID)

	for _, zone := range []pipeline.Zone{pipeline.ZoneRaw, pipeline.ZoneExtracted} {
		record, err := pipeline.NewDataZoneRecord(tenantID, job.ID, zone, nil)
		require.NoError(t, err)
		require.NoError(t, f.zones.Append(context.Background(), record))
	}

	zones, err := f.svc.GetZones(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, string(pipeline.ZoneRaw), zones[0].Zone)
	assert.Equal(t, string(pipeline.ZoneExtracted), zones[1].Zone)
}

func TestGetProposalNotFound(t *testing.T) {
	f := newQueryFixture()
	tenantID := uuid.New()
	job := f.seedJob(t, tenantID)

	_, err := f.svc.GetProposal(context.Background(), tenantID, job.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetLedgerEntry(t *testing.T) {
	f := newQueryFixture()
	tenantID := uuid.New()
	job := f.seedJob(t, tenantID)

	proposal, err := ledger.NewProposal(tenantID, job.ID, "invoice", balancedLines(250), 0.9, nil)
	require.NoError(t, err)
	proposal.ClearDomainEvents()
	require.NoError(t, f.proposals.Create(context.Background(), proposal))
	require.NoError(t, proposal.Approve("reviewer"))

	entryDate := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	entry, err := ledger.NewLedgerEntry(proposal, ledger.FormatJournalNumber(entryDate, 1), entryDate)
	require.NoError(t, err)
	entry.ClearDomainEvents()
	require.NoError(t, f.entries.CreateTx(context.Background(), nil, entry))

	dto, err := f.svc.GetLedgerEntry(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "JV-20260901-0001", dto.JournalNumber)
	assert.Len(t, dto.Lines, 2)
	assert.True(t, dto.TotalDebit.Equal(dto.TotalCredit))

	// A job whose proposal was never posted reports not found.
	other, err := pipeline.NewJob(tenantID, "other.pdf", "beef02", "tenant/beef02/other.pdf", "")
	require.NoError(t, err)
	other.ClearDomainEvents()
	require.NoError(t, f.jobs.Create(context.Background(), other))
	_, err = f.svc.GetLedgerEntry(context.Background(), tenantID, other.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
