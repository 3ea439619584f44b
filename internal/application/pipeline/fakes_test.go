package pipeline

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/docuflow/backend/internal/application/posting"
	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/domain/audit"
	"github.com/docuflow/backend/internal/domain/dedup"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fakeTxRunner runs the transaction body directly; the fakes below do not
// need a real *gorm.DB.
type fakeTxRunner struct{}

func (fakeTxRunner) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeJobRepo struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*pipeline.Job
	rootCreates int
	txCreates   int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*pipeline.Job)}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *pipeline.Job) error {
	r.mu.Lock()
	r.rootCreates++
	r.mu.Unlock()
	return r.insert(job)
}

func (r *fakeJobRepo) CreateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	r.mu.Lock()
	r.txCreates++
	r.mu.Unlock()
	return r.insert(job)
}

func (r *fakeJobRepo) insert(job *pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.jobs {
		if existing.TenantID == job.TenantID && existing.DocumentChecksum == job.DocumentChecksum {
			return shared.ErrAlreadyExists
		}
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*pipeline.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) FindByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*pipeline.Job, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeJobRepo) FindByChecksum(ctx context.Context, tenantID uuid.UUID, checksum string) (*pipeline.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.TenantID == tenantID && job.DocumentChecksum == checksum {
			return job, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) Update(ctx context.Context, job *pipeline.Job) error {
	return r.UpdateTx(ctx, nil, job)
}

func (r *fakeJobRepo) UpdateTx(ctx context.Context, tx *gorm.DB, job *pipeline.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.IncrementVersion()
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*pipeline.Job, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*pipeline.Job
	for _, job := range r.jobs {
		if job.TenantID == tenantID {
			matched = append(matched, job)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeJobRepo) FindInStates(ctx context.Context, states []pipeline.JobState, limit int) ([]*pipeline.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*pipeline.Job
	for _, job := range r.jobs {
		for _, state := range states {
			if job.State == state {
				matched = append(matched, job)
				break
			}
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type fakeZoneRepo struct {
	mu      sync.Mutex
	records []*pipeline.DataZoneRecord
}

func (r *fakeZoneRepo) Append(ctx context.Context, record *pipeline.DataZoneRecord) error {
	return r.AppendTx(ctx, nil, record)
}

func (r *fakeZoneRepo) AppendTx(ctx context.Context, tx *gorm.DB, record *pipeline.DataZoneRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.JobID == record.JobID && existing.Zone == record.Zone &&
			existing.Status == pipeline.ZoneRecordActive {
			existing.Status = pipeline.ZoneRecordSuperseded
		}
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeZoneRepo) CurrentZone(ctx context.Context, jobID uuid.UUID) (pipeline.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].JobID == jobID && r.records[i].Status == pipeline.ZoneRecordActive {
			return r.records[i].Zone, nil
		}
	}
	return "", shared.ErrNotFound
}

func (r *fakeZoneRepo) JobZones(ctx context.Context, jobID uuid.UUID) ([]*pipeline.DataZoneRecord, error) {
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

func (r *fakeZoneRepo) zonesFor(jobID uuid.UUID) []pipeline.Zone {
	records, _ := r.JobZones(context.Background(), jobID)
	zones := make([]pipeline.Zone, len(records))
	for i, record := range records {
		zones[i] = record.Zone
	}
	return zones
}

type fakeProposalRepo struct {
	mu        sync.Mutex
	proposals map[uuid.UUID]*ledger.Proposal
}

func newFakeProposalRepo() *fakeProposalRepo {
	return &fakeProposalRepo{proposals: make(map[uuid.UUID]*ledger.Proposal)}
}

func (r *fakeProposalRepo) Create(ctx context.Context, proposal *ledger.Proposal) error {
	return r.CreateTx(ctx, nil, proposal)
}

func (r *fakeProposalRepo) CreateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[proposal.ID] = proposal
	return nil
}

func (r *fakeProposalRepo) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proposal, ok := r.proposals[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return proposal, nil
}

func (r *fakeProposalRepo) FindByJobID(ctx context.Context, jobID uuid.UUID) (*ledger.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, proposal := range r.proposals {
		if proposal.JobID == jobID {
			return proposal, nil
		}
	}
	return nil, nil
}

func (r *fakeProposalRepo) Update(ctx context.Context, proposal *ledger.Proposal) error {
	return r.UpdateTx(ctx, nil, proposal)
}

func (r *fakeProposalRepo) UpdateTx(ctx context.Context, tx *gorm.DB, proposal *ledger.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	proposal.IncrementVersion()
	r.proposals[proposal.ID] = proposal
	return nil
}

func (r *fakeProposalRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*ledger.Proposal, error) {
	return r.FindByID(ctx, id)
}

type fakeApprovalRepo struct {
	mu        sync.Mutex
	approvals map[uuid.UUID]*approval.Approval
}

func newFakeApprovalRepo() *fakeApprovalRepo {
	return &fakeApprovalRepo{approvals: make(map[uuid.UUID]*approval.Approval)}
}

func (r *fakeApprovalRepo) Create(ctx context.Context, a *approval.Approval) error {
	return r.CreateTx(ctx, nil, a)
}

func (r *fakeApprovalRepo) CreateTx(ctx context.Context, tx *gorm.DB, a *approval.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[a.ID] = a
	return nil
}

func (r *fakeApprovalRepo) FindByID(ctx context.Context, id uuid.UUID) (*approval.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (r *fakeApprovalRepo) FindPendingByJobID(ctx context.Context, jobID uuid.UUID) (*approval.Approval, error) {
	return r.FindPendingByJobIDForUpdate(ctx, nil, jobID)
}

func (r *fakeApprovalRepo) FindPendingByJobIDForUpdate(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*approval.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.approvals {
		if a.JobID == jobID && a.Status == approval.StatusPending {
			return a, nil
		}
	}
	return nil, nil
}

func (r *fakeApprovalRepo) FindPendingByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*approval.Approval, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*approval.Approval
	for _, a := range r.approvals {
		if a.TenantID == tenantID && a.Status == approval.StatusPending {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeApprovalRepo) Update(ctx context.Context, a *approval.Approval) error {
	return r.UpdateTx(ctx, nil, a)
}

func (r *fakeApprovalRepo) UpdateTx(ctx context.Context, tx *gorm.DB, a *approval.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.IncrementVersion()
	r.approvals[a.ID] = a
	return nil
}

type memDocStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemDocStore() *memDocStore {
	return &memDocStore{objects: make(map[string][]byte)}
}

func (s *memDocStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts++
	return nil
}

func (s *memDocStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return data, nil
}

func (s *memDocStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memDocStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memDocStore) ObjectKey(tenantID, checksum, filename string) string {
	return path.Join(tenantID, checksum, filename)
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (o *fakeOutbox) SaveEvents(ctx context.Context, txProvider interface{}, events ...shared.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
	return nil
}

func (o *fakeOutbox) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, len(o.events))
	for i, event := range o.events {
		types[i] = event.EventType()
	}
	return types
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *fakeAuditor) Record(ctx context.Context, event *audit.Event) error {
	return a.RecordTx(ctx, nil, event)
}

func (a *fakeAuditor) RecordTx(ctx context.Context, tx *gorm.DB, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAuditor) FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []*audit.Event
	for _, event := range a.events {
		if event.JobID == jobID {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

func (a *fakeAuditor) FindByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Event, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []*audit.Event
	for _, event := range a.events {
		if event.TenantID == tenantID {
			matched = append(matched, event)
		}
	}
	return matched, int64(len(matched)), nil
}

func (a *fakeAuditor) hasEventType(eventType string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, event := range a.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeDedupRepo struct {
	mu   sync.Mutex
	keys map[string]*dedup.IdempotencyKey
}

func newFakeDedupRepo() *fakeDedupRepo {
	return &fakeDedupRepo{keys: make(map[string]*dedup.IdempotencyKey)}
}

func (r *fakeDedupRepo) Create(ctx context.Context, key *dedup.IdempotencyKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keys[key.KeyHash]; exists {
		return shared.ErrConflict
	}
	r.keys[key.KeyHash] = key
	return nil
}

func (r *fakeDedupRepo) FindByKeyHash(ctx context.Context, keyHash string) (*dedup.IdempotencyKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[keyHash], nil
}

func (r *fakeDedupRepo) Update(ctx context.Context, key *dedup.IdempotencyKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.KeyHash] = key
	return nil
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*ledger.LedgerEntry
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{entries: make(map[uuid.UUID]*ledger.LedgerEntry)}
}

func (r *fakeLedgerRepo) CreateTx(ctx context.Context, tx *gorm.DB, entry *ledger.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.TenantID == entry.TenantID && existing.JournalNumber == entry.JournalNumber {
			return shared.ErrAlreadyExists
		}
		if existing.ProposalID == entry.ProposalID {
			return shared.ErrAlreadyExists
		}
	}
	r.entries[entry.ID] = entry
	return nil
}

func (r *fakeLedgerRepo) FindByProposalID(ctx context.Context, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	return r.FindByProposalIDTx(ctx, nil, proposalID)
}

func (r *fakeLedgerRepo) FindByProposalIDTx(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*ledger.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.ProposalID == proposalID {
			return entry, nil
		}
	}
	return nil, nil
}

func (r *fakeLedgerRepo) CountForDay(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, day time.Time) (int64, error) {
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

func (r *fakeLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*ledger.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return entry, nil
}

type fakeExtractor struct {
	extraction *Extraction
	err        error
	calls      int
}

func (e *fakeExtractor) Extract(ctx context.Context, job *pipeline.Job, document []byte) (*Extraction, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.extraction, nil
}

type fakeProposer struct {
	draft *ProposalDraft
	err   error
	calls int
}

func (p *fakeProposer) Propose(ctx context.Context, job *pipeline.Job, extraction *Extraction) (*ProposalDraft, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.draft, nil
}

type fakePoster struct {
	mu     sync.Mutex
	result *posting.PostResult
	err    error
	calls  int
}

func (p *fakePoster) Post(ctx context.Context, jobID uuid.UUID, actor string) (*posting.PostResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &posting.PostResult{
		LedgerEntryID: uuid.New(),
		JournalNumber: "JV-" + time.Now().Format("20060102") + "-0001",
	}, nil
}
