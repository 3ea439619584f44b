package posting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubTxRunner struct{}

func (stubTxRunner) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubJobRepo struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*pipeline.Job
	rootFinds int
	txFinds   int
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: make(map[uuid.UUID]*pipeline.Job)}
}

func (r *stubJobRepo) Create(ctx context.Context, job *pipeline.Job) error {
	return r.CreateTx(ctx, nil, job)
}

func (r *stubJobRepo) CreateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *stubJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*pipeline.Job, error) {
	r.mu.Lock()
	r.rootFinds++
	r.mu.Unlock()
	return r.get(id)
}

func (r *stubJobRepo) FindByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*pipeline.Job, error) {
	r.mu.Lock()
	r.txFinds++
	r.mu.Unlock()
	return r.get(id)
}

func (r *stubJobRepo) get(id uuid.UUID) (*pipeline.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return job, nil
}

func (r *stubJobRepo) FindByChecksum(ctx context.Context, tenantID uuid.UUID, checksum string) (*pipeline.Job, error) {
	return nil, nil
}

func (r *stubJobRepo) Update(ctx context.Context, job *pipeline.Job) error {
	return r.UpdateTx(ctx, nil, job)
}

func (r *stubJobRepo) UpdateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.IncrementVersion()
	r.jobs[job.ID] = job
	return nil
}

func (r *stubJobRepo) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*pipeline.Job, int64, error) {
	return nil, 0, nil
}

func (r *stubJobRepo) FindInStates(ctx context.Context, states []pipeline.JobState, limit int) ([]*pipeline.Job, error) {
	return nil, nil
}

type stubZoneRepo struct {
	mu      sync.Mutex
	records []*pipeline.DataZoneRecord
}

func (r *stubZoneRepo) Append(ctx context.Context, record *pipeline.DataZoneRecord) error {
	return r.AppendTx(ctx, nil, record)
}

func (r *stubZoneRepo) AppendTx(ctx context.Context, tx *gorm.DB, record *pipeline.DataZoneRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *stubZoneRepo) CurrentZone(ctx context.Context, jobID uuid.UUID) (pipeline.Zone, error) {
	return "", shared.ErrNotFound
}

func (r *stubZoneRepo) JobZones(ctx context.Context, jobID uuid.UUID) ([]*pipeline.DataZoneRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*pipeline.DataZoneRecord
	for _, record := range r.records {
		if record.JobID == jobID {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

type stubProposalRepo struct {
	mu        sync.Mutex
	proposals map[uuid.UUID]*ledger.Proposal
}

func newStubProposalRepo() *stubProposalRepo {
	return &stubProposalRepo{proposals: make(map[uuid.UUID]*ledger.Proposal)}
}

func (r *stubProposalRepo) Create(ctx context.Context, proposal *ledger.Proposal) error {
	return r.CreateTx(ctx, nil, proposal)
}

func (r *stubProposalRepo) CreateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[proposal.ID] = proposal
	return nil
}

func (r *stubProposalRepo) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proposal, ok := r.proposals[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return proposal, nil
}

func (r *stubProposalRepo) FindByJobID(ctx context.Context, jobID uuid.UUID) (*ledger.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, proposal := range r.proposals {
		if proposal.JobID == jobID {
			return proposal, nil
		}
	}
	return nil, nil
}

func (r *stubProposalRepo) Update(ctx context.Context, proposal *ledger.Proposal) error {
	return r.UpdateTx(ctx, nil, proposal)
}

func (r *stubProposalRepo) UpdateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	proposal.IncrementVersion()
	r.proposals[proposal.ID] = proposal
	return nil
}

func (r *stubProposalRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*ledger.Proposal, error) {
	return r.FindByID(ctx, id)
}

type stubLedgerRepo struct {
	mu            sync.Mutex
	entries       map[uuid.UUID]*ledger.LedgerEntry
	forceConflict bool
}

func newStubLedgerRepo() *stubLedgerRepo {
	return &stubLedgerRepo{entries: make(map[uuid.UUID]*ledger.LedgerEntry)}
}

func (r *stubLedgerRepo) CreateTx(ctx context.Context, tx *gorm.DB, entry *ledger.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forceConflict {
		return shared.ErrAlreadyExists
	}
	for _, existing := range r.entries {
		if existing.ProposalID == entry.ProposalID {
			return shared.ErrAlreadyExists
		}
		if existing.TenantID == entry.TenantID && existing.JournalNumber == entry.JournalNumber {
			return shared.ErrAlreadyExists
		}
	}
	r.entries[entry.ID] = entry
	return nil
}

func (r *stubLedgerRepo) FindByProposalID(ctx context.Context, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	return r.FindByProposalIDTx(ctx, nil, proposalID)
}

func (r *stubLedgerRepo) FindByProposalIDTx(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ProposalID == proposalID {
			return entry, nil
		}
	}
	return nil, nil
}

func (r *stubLedgerRepo) CountForDay(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, day time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, entry := range r.entries {
		if entry.TenantID == tenantID && entry.EntryDate.Format("20060102") == day.Format("20060102") {
			count++
		}
	}
	return count, nil
}

func (r *stubLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*ledger.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return entry, nil
}

type stubOutbox struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (o *stubOutbox) SaveEvents(ctx context.Context, txProvider interface{}, events ...shared.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
	return nil
}

func (o *stubOutbox) has(eventType string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, event := range o.events {
		if event.EventType() == eventType {
			return true
		}
	}
	return false
}

type stubAuditor struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *stubAuditor) Record(ctx context.Context, event *audit.Event) error {
	return a.RecordTx(ctx, nil, event)
}

func (a *stubAuditor) RecordTx(ctx context.Context, tx *gorm.DB, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *stubAuditor) has(eventType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, event := range a.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type postFixture struct {
	svc       *Service
	jobs      *stubJobRepo
	zones     *stubZoneRepo
	proposals *stubProposalRepo
	entries   *stubLedgerRepo
	outbox    *stubOutbox
	auditor   *stubAuditor
}

func newPostFixture() *postFixture {
	f := &postFixture{
		jobs:      newStubJobRepo(),
		zones:     &stubZoneRepo{},
		proposals: newStubProposalRepo(),
		entries:   newStubLedgerRepo(),
		outbox:    &stubOutbox{},
		auditor:   &stubAuditor{},
	}
	f.svc = NewService(stubTxRunner{}, f.jobs, f.zones, f.proposals, f.entries,
		f.outbox, f.auditor, zap.NewNop())
	return f
}

func testLines(amount int64) []ledger.JournalLine {
	value := decimal.NewFromInt(amount)
	return []ledger.JournalLine{
		{LineNo: 1, AccountCode: "5100", Debit: value, Credit: decimal.Zero},
		{LineNo: 2, AccountCode: "2100", Debit: decimal.Zero, Credit: value},
	}
}

// seedPostingJob creates a job driven to POSTING with an approved proposal
func (f *postFixture) seedPostingJob(t *testing.T) (*pipeline.Job, *ledger.Proposal) {
	t.Helper()
	tenantID := uuid.New()
	job, err := pipeline.NewJob(tenantID, "invoice.pdf", "cafe01", "key/invoice.pdf", "req-1")
	require.NoError(t, err)
	for _, state := range []pipeline.JobState{
		pipeline.JobStateExtracting,
		pipeline.JobStateExtracted,
		pipeline.JobStateProposing,
		pipeline.JobStateProposed,
		pipeline.JobStatePosting,
	} {
		require.NoError(t, job.TransitionTo(state, nil))
	}
	job.ClearDomainEvents()
	require.NoError(t, f.jobs.Create(context.Background(), job))

	proposal, err := ledger.NewProposal(tenantID, job.ID, "invoice", testLines(120), 0.9, nil)
	require.NoError(t, err)
	require.NoError(t, proposal.Approve("policy"))
	proposal.ClearDomainEvents()
	require.NoError(t, f.proposals.Create(context.Background(), proposal))
	return job, proposal
}

func TestPostCreatesEntry(t *testing.T) {
	f := newPostFixture()
	job, proposal := f.seedPostingJob(t)

	result, err := f.svc.Post(context.Background(), job.ID, "system")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.AlreadyPosted)
	assert.Equal(t, ledger.FormatJournalNumber(time.Now(), 1), result.JournalNumber)

	updated, err := f.proposals.FindByID(context.Background(), proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProposalStatusPosted, updated.Status)

	completed, err := f.jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStateCompleted, completed.State)

	records, err := f.zones.JobZones(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, pipeline.ZonePosted, records[0].Zone)

	assert.True(t, f.outbox.has(ledger.EventTypeLedgerPosted))
	assert.True(t, f.outbox.has(pipeline.EventTypeJobCompleted))
	assert.True(t, f.auditor.has(audit.EventLedgerPosted))
}

func TestPostReadsJobInTransaction(t *testing.T) {
	f := newPostFixture()
	job, _ := f.seedPostingJob(t)

	_, err := f.svc.Post(context.Background(), job.ID, "system")
	require.NoError(t, err)

	// completeJob mutates the job inside the posting transaction, so its
	// read must come from the same transaction, not the root connection.
	assert.GreaterOrEqual(t, f.jobs.txFinds, 1)
	assert.Zero(t, f.jobs.rootFinds)
}

func TestPostReplay(t *testing.T) {
	f := newPostFixture()
	job, _ := f.seedPostingJob(t)

	first, err := f.svc.Post(context.Background(), job.ID, "system")
	require.NoError(t, err)

	second, err := f.svc.Post(context.Background(), job.ID, "system")
	require.NoError(t, err)
	assert.True(t, second.AlreadyPosted)
	assert.Equal(t, first.JournalNumber, second.JournalNumber)
	assert.Equal(t, first.LedgerEntryID, second.LedgerEntryID)

	// Still exactly one entry.
	f.entries.mu.Lock()
	assert.Len(t, f.entries.entries, 1)
	f.entries.mu.Unlock()
}

func TestPostSequencePerDay(t *testing.T) {
	f := newPostFixture()
	jobA, _ := f.seedPostingJob(t)

	resultA, err := f.svc.Post(context.Background(), jobA.ID, "system")
	require.NoError(t, err)
	assert.Equal(t, ledger.FormatJournalNumber(time.Now(), 1), resultA.JournalNumber)

	// A second tenant starts its own sequence at 0001.
	jobB, _ := f.seedPostingJob(t)
	resultB, err := f.svc.Post(context.Background(), jobB.ID, "system")
	require.NoError(t, err)
	assert.Equal(t, ledger.FormatJournalNumber(time.Now(), 1), resultB.JournalNumber)
}

func TestPostNoProposal(t *testing.T) {
	f := newPostFixture()

	_, err := f.svc.Post(context.Background(), uuid.New(), "system")
	require.Error(t, err)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NO_PROPOSAL", domainErr.Code)
}

func TestPostPendingProposal(t *testing.T) {
	f := newPostFixture()
	job, proposal := f.seedPostingJob(t)

	// Wind the proposal back to PENDING to simulate posting before approval.
	proposal.Status = ledger.ProposalStatusPending
	require.NoError(t, f.proposals.Update(context.Background(), proposal))

	_, err := f.svc.Post(context.Background(), job.ID, "system")
	require.Error(t, err)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATE", domainErr.Code)
}

func TestPostSequenceConflict(t *testing.T) {
	f := newPostFixture()
	job, _ := f.seedPostingJob(t)
	f.entries.forceConflict = true

	_, err := f.svc.Post(context.Background(), job.ID, "system")
	require.Error(t, err)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "JOURNAL_SEQUENCE_CONFLICT", domainErr.Code)
}
