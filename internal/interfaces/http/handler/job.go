package handler

import (
	"github.com/docuflow/backend/internal/application/pipeline"
	"github.com/docuflow/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobHandler serves job state, lineage and result queries
type JobHandler struct {
	BaseHandler
	queryService *pipeline.QueryService
}

// NewJobHandler creates a new job handler
func NewJobHandler(queryService *pipeline.QueryService) *JobHandler {
	return &JobHandler{
		queryService: queryService,
	}
}

// List returns a page of the tenant's jobs, newest first
func (h *JobHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	result, err := h.queryService.ListJobs(c.Request.Context(), tenantID, req.Page, req.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Jobs, result.Total, result.Page, result.PageSize)
}

// Get returns one job including its current state and checkpoint
func (h *JobHandler) Get(c *gin.Context) {
	tenantID, jobID, ok := h.jobScope(c)
	if !ok {
		return
	}

	job, err := h.queryService.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, job)
}

// Timeline returns the job's audit timeline, oldest first
func (h *JobHandler) Timeline(c *gin.Context) {
	tenantID, jobID, ok := h.jobScope(c)
	if !ok {
		return
	}

	events, err := h.queryService.GetTimeline(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, events)
}

// Zones returns the job's data zone lineage, oldest first
func (h *JobHandler) Zones(c *gin.Context) {
	tenantID, jobID, ok := h.jobScope(c)
	if !ok {
		return
	}

	zones, err := h.queryService.GetZones(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, zones)
}

// Proposal returns the journal entry proposal drafted for the job
func (h *JobHandler) Proposal(c *gin.Context) {
	tenantID, jobID, ok := h.jobScope(c)
	if !ok {
		return
	}

	proposal, err := h.queryService.GetProposal(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, proposal)
}

// LedgerEntry returns the ledger entry posted for the job
func (h *JobHandler) LedgerEntry(c *gin.Context) {
	tenantID, jobID, ok := h.jobScope(c)
	if !ok {
		return
	}

	entry, err := h.queryService.GetLedgerEntry(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, entry)
}

// jobScope extracts the tenant and job ID for a job-scoped route, writing
// the error response itself when either is missing.
func (h *JobHandler) jobScope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid job ID")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, jobID, true
}
