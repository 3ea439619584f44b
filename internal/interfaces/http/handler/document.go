package handler

import (
	"io"

	"github.com/docuflow/backend/internal/application/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PipelineKicker wakes the pipeline for a job. Satisfied by the pipeline
// orchestrator; a no-op in tests.
type PipelineKicker interface {
	Kick(jobID uuid.UUID)
}

// DocumentHandler handles document upload HTTP requests
type DocumentHandler struct {
	BaseHandler
	uploadService *pipeline.UploadService
	kicker        PipelineKicker
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(uploadService *pipeline.UploadService, kicker PipelineKicker) *DocumentHandler {
	return &DocumentHandler{
		uploadService: uploadService,
		kicker:        kicker,
	}
}

// Upload ingests a document and starts a pipeline job.
// Accepts either a multipart form with a "file" part or a raw request body
// with the document name in the X-Document-Name header. An Idempotency-Key
// header makes retries of the same request return the original result.
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	fileName, content, contentType, err := readDocument(c)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.uploadService.Upload(c.Request.Context(), pipeline.UploadInput{
		TenantID:       tenantID,
		FileName:       fileName,
		Content:        content,
		ContentType:    contentType,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		RequestID:      getRequestID(c),
		Actor:          getActor(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// Duplicates and replays return the existing job without rerunning it
	if !result.Duplicate {
		h.kicker.Kick(result.JobID)
	}

	if result.Duplicate {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// readDocument pulls the document bytes out of the request, preferring a
// multipart "file" part over the raw body.
func readDocument(c *gin.Context) (fileName string, content []byte, contentType string, err error) {
	if file, fileErr := c.FormFile("file"); fileErr == nil {
		f, openErr := file.Open()
		if openErr != nil {
			return "", nil, "", openErr
		}
		defer f.Close()

		content, err = io.ReadAll(f)
		if err != nil {
			return "", nil, "", err
		}
		return file.Filename, content, file.Header.Get("Content-Type"), nil
	}

	content, err = io.ReadAll(c.Request.Body)
	if err != nil {
		return "", nil, "", err
	}
	return c.GetHeader("X-Document-Name"), content, c.ContentType(), nil
}
