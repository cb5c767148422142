package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/jobs"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/pkg/dto"
)

type JobHandler struct {
	svc *jobs.Service
}

func NewJobHandler(svc *jobs.Service) *JobHandler {
	return &JobHandler{svc: svc}
}

func jobResponse(j *models.ProcessingJob) dto.JobResponse {
	return dto.JobResponse{
		ID:              j.ID,
		JobType:         string(j.JobType),
		ScopeID:         j.ScopeID,
		Status:          string(j.Status),
		TotalItems:      j.TotalItems,
		ProcessedItems:  j.ProcessedItems,
		FailedItems:     j.FailedItems,
		CancelRequested: j.CancelRequested,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func (h *JobHandler) Create(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.svc.Enqueue(c.Request.Context(), models.JobType(req.JobType), req.ScopeID, req.Params)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, jobResponse(job))
}

func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

func (h *JobHandler) List(c *gin.Context) {
	var status *models.JobStatus
	if s := c.Query("status"); s != "" {
		st := models.JobStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := h.svc.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.JobResponse, 0, len(list))
	for i := range list {
		resp = append(resp, jobResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp, "total": len(resp)})
}

func (h *JobHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	switch err := h.svc.Cancel(c.Request.Context(), id); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, jobs.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
