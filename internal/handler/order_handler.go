package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/service"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
	"github.com/yarntrack/yarn-track-api/pkg/response"
)

type orderService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateOrderRequest) (*models.Order, error)
	Update(ctx context.Context, actor *models.JWTClaims, orderID string, req dto.UpdateOrderRequest) (*models.Order, error)
	Get(ctx context.Context, actor *models.JWTClaims, orderID string) (*models.Order, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery) ([]models.Order, *models.Pagination, error)
}

type changeRequestShorthand interface {
	RequestChange(ctx context.Context, actor *models.JWTClaims, orderID string) (*models.ChangeRequest, error)
}

type orderExporter interface {
	Export(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery, format service.ExportFormat) (*service.ExportResult, error)
}

// OrderHandler exposes REST endpoints for the order lifecycle.
type OrderHandler struct {
	service  orderService
	requests changeRequestShorthand
	exporter orderExporter
}

// NewOrderHandler constructs the handler.
func NewOrderHandler(service orderService, requests changeRequestShorthand, exporter orderExporter) *OrderHandler {
	return &OrderHandler{service: service, requests: requests, exporter: exporter}
}

// List godoc
// @Summary List orders
// @Tags Orders
// @Produce json
// @Security BearerAuth
// @Param status query string false "Item pipeline stage"
// @Param search query string false "Matches SDY number, party or delivery party"
// @Param salespersonId query string false "Salesperson filter"
// @Param startDate query string false "Order date lower bound (YYYY-MM-DD)"
// @Param endDate query string false "Order date upper bound (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /orders [get]
func (h *OrderHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query, err := parseOrderQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	orders, pagination, err := h.service.List(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, orders, pagination)
}

// Create godoc
// @Summary Create a production order
// @Tags Orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateOrderRequest true "Order payload"
// @Success 201 {object} response.Envelope
// @Router /orders [post]
func (h *OrderHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid order payload"))
		return
	}
	order, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// Get godoc
// @Summary Get an order with items and status history
// @Tags Orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Router /orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	order, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, order, nil)
}

// Update godoc
// @Summary Patch order fields under the role edit policy
// @Tags Orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Param payload body dto.UpdateOrderRequest true "Sparse patch"
// @Success 200 {object} response.Envelope
// @Router /orders/{id} [patch]
func (h *OrderHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid order patch"))
		return
	}
	order, err := h.service.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, order, nil)
}

// RequestChange godoc
// @Summary File a change request for an order
// @Tags Orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "Order ID"
// @Success 201 {object} response.Envelope
// @Router /orders/{id}/request-change [post]
func (h *OrderHandler) RequestChange(c *gin.Context) {
	if h.requests == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "change request service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.requests.RequestChange(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Export godoc
// @Summary Export orders as CSV or PDF
// @Tags Orders
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Param search query string false "Matches SDY number, party or delivery party"
// @Param startDate query string false "Order date lower bound (YYYY-MM-DD)"
// @Param endDate query string false "Order date upper bound (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /orders/export [get]
func (h *OrderHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query, err := parseOrderQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exporter.Export(c.Request.Context(), claims, query, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseOrderQuery(c *gin.Context) (dto.OrderQuery, error) {
	query := dto.OrderQuery{
		Status:        models.ItemStatus(strings.TrimSpace(c.Query("status"))),
		Search:        strings.TrimSpace(c.Query("search")),
		SalespersonID: strings.TrimSpace(c.Query("salespersonId")),
	}
	if query.Status != "" && !models.ValidStatus(query.Status) {
		return query, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	if raw := c.Query("startDate"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "startDate must be YYYY-MM-DD")
		}
		query.StartDate = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return query, appErrors.Clone(appErrors.ErrValidation, "endDate must be YYYY-MM-DD")
		}
		query.EndDate = &t
	}
	if raw := c.Query("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.Page = n
		}
	}
	if raw := c.Query("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.PageSize = n
		}
	}
	return query, nil
}
