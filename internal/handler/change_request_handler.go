package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
	"github.com/yarntrack/yarn-track-api/pkg/response"
)

type changeRequestService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateChangeRequestRequest) (*models.ChangeRequest, error)
	Process(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ProcessChangeRequestRequest) (*models.ChangeRequest, error)
	MarkUsed(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error)
	Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error)
}

// ChangeRequestHandler exposes REST endpoints for the approval workflow.
type ChangeRequestHandler struct {
	service changeRequestService
}

// NewChangeRequestHandler constructs the handler.
func NewChangeRequestHandler(service changeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: service}
}

// List godoc
// @Summary List change requests
// @Tags ChangeRequests
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Param orderId query string false "Order filter"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ChangeRequestQuery{
		Status:  models.ChangeRequestStatus(strings.TrimSpace(c.Query("status"))),
		OrderID: strings.TrimSpace(c.Query("orderId")),
	}
	requests, err := h.service.List(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Create godoc
// @Summary File a change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateChangeRequestRequest true "Change request payload"
// @Success 201 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid change request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Get godoc
// @Summary Get a change request
// @Tags ChangeRequests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Process godoc
// @Summary Approve or reject a pending change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Change request ID"
// @Param payload body dto.ProcessChangeRequestRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/process [patch]
func (h *ChangeRequestHandler) Process(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ProcessChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	request, err := h.service.Process(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// MarkUsed godoc
// @Summary Consume an approved change request
// @Tags ChangeRequests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/mark-used [patch]
func (h *ChangeRequestHandler) MarkUsed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.MarkUsed(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
