package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yarntrack/yarn-track-api/internal/authz"
	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/repository"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
)

// OrderRepository is the persistence surface the order engine drives.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, actorID string) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	UpdateFields(ctx context.Context, params repository.UpdateFieldsParams) error
	GetItem(ctx context.Context, itemID string) (*models.OrderItem, error)
	UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus, actorID string) error
	ItemHistory(ctx context.Context, itemID string) ([]models.OrderStatusHistory, error)
	ExportRows(ctx context.Context, filter models.OrderFilter, maxRows int) ([]models.ExportRow, error)
}

// OrderServiceOptions carries the behavioural knobs of the engine.
type OrderServiceOptions struct {
	// EnforceProgression restricts item status changes to the next
	// pipeline stage. Off by default: the floor sometimes records
	// stages out of order and corrects later.
	EnforceProgression bool
}

// OrderService implements the order lifecycle: creation, guarded field
// edits, item status transitions and list/detail reads with role-based
// visibility.
type OrderService struct {
	repo      OrderRepository
	audit     auditLogger
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	opts      OrderServiceOptions
}

// NewOrderService constructs an OrderService instance.
func NewOrderService(repo OrderRepository, audit auditLogger, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts OrderServiceOptions) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &OrderService{
		repo:      repo,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		opts:      opts,
	}
}

const orderCachePattern = "orders:*"

// Create opens a production job with its items. Only operators may
// create orders. Items with neither denier nor slNumber are dropped;
// an order whose items all drop is rejected. Each surviving item starts
// at the received stage with one history row.
func (s *OrderService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateOrderRequest) (*models.Order, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !authz.CanCreateOrder(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only operators can create orders")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid order payload")
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, in := range req.Items {
		denier := strings.TrimSpace(in.Denier)
		slNumber := strings.TrimSpace(in.SlNumber)
		if denier == "" && slNumber == "" {
			continue
		}
		item := models.OrderItem{Quantity: in.Quantity}
		if denier != "" {
			item.Denier = &denier
		}
		if slNumber != "" {
			item.SlNumber = &slNumber
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "order needs at least one item with a denier or SL number")
	}

	order := &models.Order{
		SdyNumber:     strings.TrimSpace(req.SdyNumber),
		Date:          req.Date,
		PartyName:     strings.TrimSpace(req.PartyName),
		DeliveryParty: strings.TrimSpace(req.DeliveryParty),
		SalespersonID: req.SalespersonID,
		Items:         items,
	}

	if err := s.repo.Create(ctx, order, actor.UserID); err != nil {
		if repository.IsUniqueViolation(err, "") {
			return nil, appErrors.ErrDuplicateSdyNumber
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create order")
	}

	created, err := s.repo.GetByID(ctx, order.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created order")
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	s.writeAudit(ctx, actor, models.AuditActionOrderCreate, "order", created.ID, nil, created)
	s.cache.Invalidate(ctx, orderCachePattern)

	s.logger.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("sdy_number", created.SdyNumber),
		zap.Int("items", len(created.Items)))
	return created, nil
}

var patchColumns = map[string]string{
	authz.FieldSdyNumber:     "sdy_number",
	authz.FieldPartyName:     "party_name",
	authz.FieldDeliveryParty: "delivery_party",
	authz.FieldSalesperson:   "salesperson_id",
}

// Update applies a sparse patch to an order under the role edit policy.
// The date is write-once and rejected in every patch. A factory actor
// changing deliveryParty together with sdyNumber consumes the order's
// one-time edit flag; once consumed, factory patches are refused.
func (s *OrderService) Update(ctx context.Context, actor *models.JWTClaims, orderID string, req dto.UpdateOrderRequest) (*models.Order, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}

	if req.Date != nil {
		return nil, appErrors.ErrImmutableDate
	}

	fields := make([]string, 0, 4)
	values := make(map[string]interface{}, 4)
	addField := func(name string, value *string) {
		if value == nil {
			return
		}
		fields = append(fields, name)
		values[patchColumns[name]] = strings.TrimSpace(*value)
	}
	addField(authz.FieldSdyNumber, req.SdyNumber)
	addField(authz.FieldPartyName, req.PartyName)
	addField(authz.FieldDeliveryParty, req.DeliveryParty)
	addField(authz.FieldSalesperson, req.SalespersonID)
	if len(fields) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no editable fields in patch")
	}

	policy := authz.OrderEditPolicy(actor.Role, order.FactoryEditUsed)
	allowed, consumesFlag := policy.Allows(fields)
	if !allowed {
		if actor.Role == models.RoleFactory && order.FactoryEditUsed {
			return nil, appErrors.ErrOneTimeEditUsed
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot edit these order fields")
	}

	err = s.repo.UpdateFields(ctx, repository.UpdateFieldsParams{
		ID:                 orderID,
		Fields:             values,
		ConsumeOneTimeEdit: consumesFlag,
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// The guard on factory_edit_used lost a race with a
			// concurrent combined edit.
			if consumesFlag {
				return nil, appErrors.ErrOneTimeEditUsed
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		case repository.IsUniqueViolation(err, ""):
			return nil, appErrors.ErrDuplicateSdyNumber
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update order")
		}
	}

	updated, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload order")
	}

	s.writeAudit(ctx, actor, models.AuditActionOrderUpdate, "order", orderID, order, updated)
	s.cache.Invalidate(ctx, orderCachePattern)
	return updated, nil
}

// UpdateItemStatus moves an order item to a pipeline stage and appends
// the matching history row. Only factory actors may call it. When
// progression enforcement is on, the target must be the next stage.
func (s *OrderService) UpdateItemStatus(ctx context.Context, actor *models.JWTClaims, itemID string, status models.ItemStatus) (*models.OrderItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !authz.CanUpdateItemStatus(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only factory users can update item status")
	}
	if !models.ValidStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order item")
	}

	if s.opts.EnforceProgression && !item.Status.IsNextStage(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("cannot move item from %q to %q", item.Status, status))
	}

	if err := s.repo.UpdateItemStatus(ctx, itemID, status, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update item status")
	}

	updated, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload order item")
	}
	history, err := s.repo.ItemHistory(ctx, itemID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item history")
	}
	updated.StatusHistory = history

	if s.metrics != nil {
		s.metrics.RecordStatusUpdate(status)
	}
	s.writeAudit(ctx, actor, models.AuditActionItemStatusUpdate, "order_item", itemID, item, updated)
	s.cache.Invalidate(ctx, orderCachePattern)

	s.logger.Info("order item status updated",
		zap.String("item_id", itemID),
		zap.String("status", string(status)),
		zap.String("updated_by", actor.UserID))
	return updated, nil
}

// Get returns the full order aggregate. Sales actors can only read
// orders they own.
func (s *OrderService) Get(ctx context.Context, actor *models.JWTClaims, orderID string) (*models.Order, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}
	if !authz.CanViewOrder(actor, order.SalespersonID) {
		// Hide existence from actors outside the row scope.
		return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
	}
	return order, nil
}

type orderListResult struct {
	Orders     []models.Order     `json:"orders"`
	Pagination *models.Pagination `json:"pagination"`
}

// List returns a page of orders. Sales actors are scoped to their own
// orders regardless of the filter; results are cached per filter.
func (s *OrderService) List(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery) ([]models.Order, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}

	filter := models.OrderFilter{
		SalespersonID: query.SalespersonID,
		Status:        query.Status,
		Search:        query.Search,
		StartDate:     query.StartDate,
		EndDate:       query.EndDate,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	if actor.Role == models.RoleSales {
		filter.SalespersonID = actor.UserID
	}

	key := orderListCacheKey(filter)
	var cached orderListResult
	if s.cache.Get(ctx, key, &cached) {
		return cached.Orders, cached.Pagination, nil
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list orders")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}

	s.cache.Set(ctx, key, orderListResult{Orders: orders, Pagination: pagination})
	return orders, pagination, nil
}

func orderListCacheKey(filter models.OrderFilter) string {
	start, end := "", ""
	if filter.StartDate != nil {
		start = filter.StartDate.Format("2006-01-02")
	}
	if filter.EndDate != nil {
		end = filter.EndDate.Format("2006-01-02")
	}
	return fmt.Sprintf("orders:list:%s:%s:%s:%s:%s:%d:%d",
		filter.SalespersonID, filter.Status, filter.Search, start, end, filter.Page, filter.PageSize)
}

func (s *OrderService) writeAudit(ctx context.Context, actor *models.JWTClaims, action, resource, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
	}
	if actor != nil {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if oldValue != nil {
		if data, err := json.Marshal(oldValue); err == nil {
			entry.OldValues = data
		}
	}
	if newValue != nil {
		if data, err := json.Marshal(newValue); err == nil {
			entry.NewValues = data
		}
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
