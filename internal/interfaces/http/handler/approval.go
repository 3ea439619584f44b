package handler

import (
	appapproval "github.com/docuflow/backend/internal/application/approval"
	"github.com/docuflow/backend/internal/domain/approval"
	"github.com/docuflow/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ApprovalHandler handles approval workflow HTTP requests
type ApprovalHandler struct {
	BaseHandler
	approvalService *appapproval.Service
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(approvalService *appapproval.Service) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
	}
}

// DecideRequest is the approve/reject request body
type DecideRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
	Comment  string `json:"comment" binding:"max=2000"`
}

// CancelRequest is the approval cancellation request body
type CancelRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// ListPending returns the tenant's pending approvals, oldest first
func (h *ApprovalHandler) ListPending(c *gin.Context) {
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

	result, err := h.approvalService.ListPending(c.Request.Context(), tenantID, req.Page, req.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Approvals, result.Total, result.Page, result.PageSize)
}

// Decide records an approve or reject decision for the job's pending approval
func (h *ApprovalHandler) Decide(c *gin.Context) {
	tenantID, jobID, ok := h.approvalScope(c)
	if !ok {
		return
	}

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	result, err := h.approvalService.Decide(c.Request.Context(), appapproval.DecideInput{
		TenantID: tenantID,
		JobID:    jobID,
		Decision: approval.Decision(req.Decision),
		Actor:    getActor(c),
		Comment:  req.Comment,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// Cancel withdraws the job's pending approval and fails the job
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	tenantID, jobID, ok := h.approvalScope(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	if err := h.approvalService.Cancel(c.Request.Context(), tenantID, jobID, req.Reason, getActor(c)); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

func (h *ApprovalHandler) approvalScope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
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
