package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bounty-orchestrator/internal/api/dto"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/service"
)

type BountyHandler struct {
	service service.BountyService
}

func NewBountyHandler(svc service.BountyService) *BountyHandler {
	return &BountyHandler{service: svc}
}

func (h *BountyHandler) StartBounty(c *gin.Context) {
	var req dto.StartBountyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *BountyHandler) Status(c *gin.Context) {
	res, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BountyHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Approve(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ActionResponse{Status: "executing", InstanceID: id})
}

func (h *BountyHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Reject(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ActionResponse{Status: "rejected", InstanceID: id})
}

func (h *BountyHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Resume(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ActionResponse{Status: "resuming", InstanceID: id})
}

func (h *BountyHandler) RecordOutcome(c *gin.Context) {
	var req dto.OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.RecordOutcome(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BountyHandler) ListBounties(c *gin.Context) {
	res, err := h.service.ListBounties(c.Request.Context(), c.Query("phase"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bounties": res})
}

func (h *BountyHandler) SearchLearnings(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}

	res, err := h.service.SearchLearnings(c.Request.Context(), c.Query("query"), c.Query("category"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": res})
}

func (h *BountyHandler) ListRepos(c *gin.Context) {
	res, err := h.service.ListRepos(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repos": res})
}

func (h *BountyHandler) GetRepo(c *gin.Context) {
	res, err := h.service.GetRepo(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BountyHandler) SyncRepo(c *gin.Context) {
	var req dto.SyncRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.SyncRepo(c.Request.Context(), req.RepoURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h *BountyHandler) Gotchas(c *gin.Context) {
	key := c.Param("key")
	res, err := h.service.Gotchas(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_key": key, "gotchas": res})
}

func (h *BountyHandler) GetPreferences(c *gin.Context) {
	prefs, err := h.service.UserPreferences(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", prefs)
}

func (h *BountyHandler) PutPreferences(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.service.SaveUserPreferences(c.Request.Context(), c.Param("id"), json.RawMessage(body)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps service errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ef *domain.ExecutionFailure
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrNotAwaitingApproval),
		errors.Is(err, domain.ErrApprovalLocked),
		errors.Is(err, domain.ErrPhaseRegression),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &ef):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnconfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error()})
}
