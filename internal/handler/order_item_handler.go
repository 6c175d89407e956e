package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
	"github.com/yarntrack/yarn-track-api/pkg/response"
)

type orderItemService interface {
	UpdateItemStatus(ctx context.Context, actor *models.JWTClaims, itemID string, status models.ItemStatus) (*models.OrderItem, error)
}

// OrderItemHandler exposes item-level endpoints.
type OrderItemHandler struct {
	service orderItemService
}

// NewOrderItemHandler constructs the handler.
func NewOrderItemHandler(service orderItemService) *OrderItemHandler {
	return &OrderItemHandler{service: service}
}

// UpdateStatus godoc
// @Summary Move an order item to a pipeline stage
// @Tags Orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order item ID"
// @Param payload body dto.UpdateItemStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /order-items/{id}/status [patch]
func (h *OrderItemHandler) UpdateStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status payload"))
		return
	}
	item, err := h.service.UpdateItemStatus(c.Request.Context(), claims, c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
