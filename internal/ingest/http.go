package ingest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"paypersist/internal/audit"
	"paypersist/internal/batch"
	"paypersist/internal/logger"
	"paypersist/pkg/errors"
	"paypersist/pkg/models"
)

const (
	defaultBatchListLimit = 20
	maxBatchListLimit     = 100

	headerIdempotencyKey = "Idempotency-Key"
	headerCorrelationID  = "X-Correlation-ID"
)

type Handler struct {
	messages MessageService
	cdms     CdmService
	batches  BatchSubmitter
	audits   audit.Reader
	logger   logger.Logger
}

func NewHandler(messages MessageService, cdms CdmService, batches BatchSubmitter, audits audit.Reader, log logger.Logger) *Handler {
	if audits == nil {
		audits = audit.NopRecorder{}
	}
	return &Handler{
		messages: messages,
		cdms:     cdms,
		batches:  batches,
		audits:   audits,
		logger:   log.Component("http-ingest"),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", h.CreateMessage)
			messages.POST("/batch", h.MessageBatch)
			messages.GET("/:id", h.GetMessage)
			messages.PUT("/:id", h.UpdateMessage)
		}

		cdms := v1.Group("/cdm")
		{
			cdms.POST("", h.SaveCdm)
			cdms.POST("/batch", h.CdmBatch)
			cdms.GET("/:id", h.GetCdm)
		}

		batches := v1.Group("/batches")
		{
			batches.GET("", h.ListBatches)
			batches.GET("/:id", h.GetBatch)
		}
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// CreateMessage stores a received message. An item carrying metadata.existing_id is
// treated as an update of that record.
func (h *Handler) CreateMessage(c *gin.Context) {
	item, ok := h.bindItem(c)
	if !ok {
		return
	}

	res, err := h.messages.Write(c.Request.Context(), item.Payload(), item.Metadata)
	h.writeResult(c, res, err)
}

// UpdateMessage replaces the payload of the record named in the path. An unknown id
// creates a new record and answers 201.
func (h *Handler) UpdateMessage(c *gin.Context) {
	item, ok := h.bindItem(c)
	if !ok {
		return
	}
	item.Metadata.ExistingID = c.Param("id")

	res, err := h.messages.Write(c.Request.Context(), item.Payload(), item.Metadata)
	h.writeResult(c, res, err)
}

func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) MessageBatch(c *gin.Context) {
	h.submitBatch(c, batch.TargetReceived)
}

// SaveCdm upserts a CDM record by existing id or message id.
func (h *Handler) SaveCdm(c *gin.Context) {
	item, ok := h.bindItem(c)
	if !ok {
		return
	}

	res, err := h.cdms.Save(c.Request.Context(), item.Payload(), item.Metadata)
	h.writeResult(c, res, err)
}

func (h *Handler) GetCdm(c *gin.Context) {
	msg, err := h.cdms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) CdmBatch(c *gin.Context) {
	h.submitBatch(c, batch.TargetCDM)
}

func (h *Handler) GetBatch(c *gin.Context) {
	entry, err := h.audits.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) ListBatches(c *gin.Context) {
	limit := int64(defaultBatchListLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			h.HandleError(c, errors.ErrValidation.WithDetail("message", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxBatchListLimit {
		limit = maxBatchListLimit
	}

	entries, err := h.audits.Recent(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) submitBatch(c *gin.Context, target batch.Target) {
	var req models.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	req.Target = string(target)
	if mode := c.Query("mode"); mode != "" {
		req.Mode = mode
	}
	stampEndpoint(req.Items, "http:"+c.FullPath())

	outcome, err := h.batches.Submit(c.Request.Context(), req)
	if outcome == nil {
		h.HandleError(c, err)
		return
	}

	res := models.Result{Status: outcome.Status, Outcome: outcome}
	status := http.StatusOK
	switch {
	case err != nil:
		res.Error = err.Error()
		status = errors.ToHTTPStatus(err)
		h.logger.WarnwCtx(c.Request.Context(), "Batch did not succeed", "batch_id", outcome.BatchID, "error", err)
	case outcome.Status == models.StatusPartialSuccess:
		partial := errors.ErrPartialBatch.WithDetail("message",
			fmt.Sprintf("%d of %d items failed", outcome.FailureCount, outcome.Total))
		res.Error = partial.Error()
		status = errors.ToHTTPStatus(partial)
	}
	c.JSON(status, res)
}

func (h *Handler) bindItem(c *gin.Context) (*models.InboundItem, bool) {
	var item models.InboundItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return nil, false
	}
	if err := models.ValidateInboundItem(&item); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return nil, false
	}

	if item.Metadata.Endpoint == "" {
		item.Metadata.Endpoint = "http:" + c.FullPath()
	}
	if item.Metadata.IdempotencyKey == "" {
		item.Metadata.IdempotencyKey = c.GetHeader(headerIdempotencyKey)
	}
	if item.Metadata.CorrelationID == "" {
		item.Metadata.CorrelationID = c.GetHeader(headerCorrelationID)
	}
	return &item, true
}

func (h *Handler) writeResult(c *gin.Context, res *models.Result, err error) {
	if err != nil {
		h.HandleError(c, err)
		return
	}
	switch {
	case !res.Succeeded():
		c.JSON(http.StatusBadRequest, res)
	case res.Created:
		c.JSON(http.StatusCreated, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}
