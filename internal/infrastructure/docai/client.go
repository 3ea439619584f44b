package docai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apppipeline "github.com/docuflow/backend/internal/application/pipeline"
	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/pipeline"
	"github.com/docuflow/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client calls the external document AI backend that performs OCR extraction
// and journal entry drafting. The pipeline treats it as a collaborator: the
// client only moves structured payloads, all prompt and OCR machinery lives
// on the other side.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a document AI client
func NewClient(cfg config.DocAIConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}
}

type extractRequest struct {
	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant_id"`
	DocumentName string `json:"document_name"`
	// Content carries the raw document bytes base64-encoded
	Content string `json:"content"`
}

type extractResponse struct {
	DocType    string            `json:"doc_type"`
	Vendor     string            `json:"vendor,omitempty"`
	TaxRate    *decimal.Decimal  `json:"tax_rate,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Extract sends the raw document for OCR and field extraction
func (c *Client) Extract(ctx context.Context, job *pipeline.Job, document []byte) (*apppipeline.Extraction, error) {
	req := extractRequest{
		JobID:        job.ID.String(),
		TenantID:     job.TenantID.String(),
		DocumentName: job.DocumentName,
		Content:      base64.StdEncoding.EncodeToString(document),
	}

	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", req, &resp); err != nil {
		return nil, fmt.Errorf("docai extract: %w", err)
	}

	c.logger.Debug("Document extracted",
		zap.String("job_id", job.ID.String()),
		zap.String("doc_type", resp.DocType),
		zap.Float64("confidence", resp.Confidence),
	)

	return &apppipeline.Extraction{
		DocType:    resp.DocType,
		Vendor:     resp.Vendor,
		TaxRate:    resp.TaxRate,
		Fields:     resp.Fields,
		Confidence: resp.Confidence,
	}, nil
}

type proposeRequest struct {
	JobID      string            `json:"job_id"`
	TenantID   string            `json:"tenant_id"`
	DocType    string            `json:"doc_type"`
	Vendor     string            `json:"vendor,omitempty"`
	TaxRate    *decimal.Decimal  `json:"tax_rate,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
}

type proposeLine struct {
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

type proposeResponse struct {
	DocType    string        `json:"doc_type"`
	Lines      []proposeLine `json:"lines"`
	Confidence float64       `json:"confidence"`
	Risks      []string      `json:"risks,omitempty"`
}

// Propose sends the extraction for journal entry drafting
func (c *Client) Propose(ctx context.Context, job *pipeline.Job, extraction *apppipeline.Extraction) (*apppipeline.ProposalDraft, error) {
	req := proposeRequest{
		JobID:      job.ID.String(),
		TenantID:   job.TenantID.String(),
		DocType:    extraction.DocType,
		Vendor:     extraction.Vendor,
		TaxRate:    extraction.TaxRate,
		Fields:     extraction.Fields,
		Confidence: extraction.Confidence,
	}

	var resp proposeResponse
	if err := c.post(ctx, "/v1/propose", req, &resp); err != nil {
		return nil, fmt.Errorf("docai propose: %w", err)
	}

	lines := make([]ledger.JournalLine, len(resp.Lines))
	for i, line := range resp.Lines {
		lines[i] = ledger.JournalLine{
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		}
	}

	return &apppipeline.ProposalDraft{
		DocType:    resp.DocType,
		Lines:      lines,
		Confidence: resp.Confidence,
		Risks:      resp.Risks,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// The client satisfies both pipeline stage ports
var (
	_ apppipeline.Extractor = (*Client)(nil)
	_ apppipeline.Proposer  = (*Client)(nil)
)
