package pipeline

import (
	"context"

	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/shopspring/decimal"
)

// DocumentStore persists raw document bytes. Implemented by the S3 storage
// in production and an in-memory store in tests.
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// ObjectKey builds the content-addressed key for a document
	ObjectKey(tenantID, checksum, filename string) string
}

// Extraction is the structured output of the extract stage. It is stored as
// the job checkpoint so later stages and restarts never re-run extraction.
type Extraction struct {
	DocType string `json:"doc_type"`
	// Vendor is the counterparty name found on the document, if any
	Vendor string `json:"vendor,omitempty"`
	// TaxRate is the extracted tax rate as a fraction; nil when absent
	TaxRate *decimal.Decimal `json:"tax_rate,omitempty"`
	// Fields holds the raw extracted key/value payload
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Extractor turns raw document bytes into structured extraction output.
// Implementations wrap the model-backed extraction backend.
type Extractor interface {
	Extract(ctx context.Context, job *pipeline.Job, document []byte) (*Extraction, error)
}

// ProposalDraft is the proposed journal entry produced by the propose stage
type ProposalDraft struct {
	DocType    string               `json:"doc_type"`
	Lines      []ledger.JournalLine `json:"lines"`
	Confidence float64              `json:"confidence"`
	// Risks lists free-form risk notes surfaced to reviewers
	Risks []string `json:"risks,omitempty"`
}

// Proposer turns an extraction into a draft journal entry.
// Implementations wrap the model-backed proposal backend.
type Proposer interface {
	Propose(ctx context.Context, job *pipeline.Job, extraction *Extraction) (*ProposalDraft, error)
}
