package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/repository"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
)

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type orderRepoStub struct {
	orders     map[string]*models.Order
	sdyNumbers map[string]string
	items      map[string]*models.OrderItem
	history    map[string][]models.OrderStatusHistory
	lastFilter models.OrderFilter
	seq        int
}

func newOrderRepoStub() *orderRepoStub {
	return &orderRepoStub{
		orders:     make(map[string]*models.Order),
		sdyNumbers: make(map[string]string),
		items:      make(map[string]*models.OrderItem),
		history:    make(map[string][]models.OrderStatusHistory),
	}
}

func (s *orderRepoStub) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *orderRepoStub) Create(ctx context.Context, order *models.Order, actorID string) error {
	if _, exists := s.sdyNumbers[order.SdyNumber]; exists {
		return &pq.Error{Code: "23505", Constraint: repository.UniqueSdyNumberConstraint}
	}
	order.ID = s.nextID("order")
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		item := &order.Items[i]
		item.ID = s.nextID("item")
		item.OrderID = order.ID
		item.Status = models.StatusReceived
		s.items[item.ID] = item
		s.appendHistory(item.ID, models.StatusReceived, actorID)
	}
	s.orders[order.ID] = order
	s.sdyNumbers[order.SdyNumber] = order.ID
	return nil
}

func (s *orderRepoStub) appendHistory(itemID string, status models.ItemStatus, actorID string) {
	entry := models.OrderStatusHistory{
		ID:          s.nextID("hist"),
		OrderItemID: itemID,
		Status:      status,
		UpdatedBy:   actorID,
		CreatedAt:   time.Now().UTC(),
	}
	// newest first, matching the repository ordering
	s.history[itemID] = append([]models.OrderStatusHistory{entry}, s.history[itemID]...)
}

func (s *orderRepoStub) GetByID(ctx context.Context, id string) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *order
	copy.Items = make([]models.OrderItem, len(order.Items))
	for i, item := range order.Items {
		current := *s.items[item.ID]
		current.StatusHistory = s.history[item.ID]
		copy.Items[i] = current
	}
	return &copy, nil
}

func (s *orderRepoStub) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	s.lastFilter = filter
	result := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.SalespersonID != "" && order.SalespersonID != filter.SalespersonID {
			continue
		}
		result = append(result, *order)
	}
	return result, len(result), nil
}

func (s *orderRepoStub) UpdateFields(ctx context.Context, params repository.UpdateFieldsParams) error {
	order, ok := s.orders[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if params.ConsumeOneTimeEdit && order.FactoryEditUsed {
		return sql.ErrNoRows
	}
	for column, value := range params.Fields {
		text, _ := value.(string)
		switch column {
		case "sdy_number":
			if existing, taken := s.sdyNumbers[text]; taken && existing != order.ID {
				return &pq.Error{Code: "23505", Constraint: repository.UniqueSdyNumberConstraint}
			}
			delete(s.sdyNumbers, order.SdyNumber)
			order.SdyNumber = text
			s.sdyNumbers[text] = order.ID
		case "party_name":
			order.PartyName = text
		case "delivery_party":
			order.DeliveryParty = text
		case "salesperson_id":
			order.SalespersonID = text
		}
	}
	if params.ConsumeOneTimeEdit {
		order.FactoryEditUsed = true
	}
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *orderRepoStub) GetItem(ctx context.Context, itemID string) (*models.OrderItem, error) {
	item, ok := s.items[itemID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *item
	return &copy, nil
}

func (s *orderRepoStub) UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus, actorID string) error {
	item, ok := s.items[itemID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	s.appendHistory(itemID, status, actorID)
	return nil
}

func (s *orderRepoStub) ItemHistory(ctx context.Context, itemID string) ([]models.OrderStatusHistory, error) {
	return s.history[itemID], nil
}

func (s *orderRepoStub) ExportRows(ctx context.Context, filter models.OrderFilter, maxRows int) ([]models.ExportRow, error) {
	rows := make([]models.ExportRow, 0)
	for _, order := range s.orders {
		if filter.SalespersonID != "" && order.SalespersonID != filter.SalespersonID {
			continue
		}
		for _, item := range order.Items {
			current := s.items[item.ID]
			rows = append(rows, models.ExportRow{
				SdyNumber:     order.SdyNumber,
				Date:          order.Date,
				PartyName:     order.PartyName,
				DeliveryParty: order.DeliveryParty,
				Denier:        current.Denier,
				SlNumber:      current.SlNumber,
				Quantity:      current.Quantity,
				Status:        current.Status,
			})
		}
	}
	return rows, nil
}

func operatorClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "op-1", Username: "operator", Role: models.RoleOperator}
}

func factoryClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "fac-1", Username: "factory", Role: models.RoleFactory}
}

func validCreateRequest() dto.CreateOrderRequest {
	return dto.CreateOrderRequest{
		SdyNumber:     "SDY-100",
		Date:          time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		PartyName:     "Mills Trading",
		DeliveryParty: "North Depot",
		SalespersonID: "sales-1",
		Items: []dto.CreateOrderItem{
			{Denier: "150D", Quantity: 10},
			{SlNumber: "SL-9", Quantity: 5},
		},
	}
}

func TestOrderServiceCreate(t *testing.T) {
	repo := newOrderRepoStub()
	audit := &auditStub{}
	svc := NewOrderService(repo, audit, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	for _, item := range order.Items {
		require.Equal(t, models.StatusReceived, item.Status)
		require.Len(t, item.StatusHistory, 1)
		require.Equal(t, models.StatusReceived, item.StatusHistory[0].Status)
		require.Equal(t, "op-1", item.StatusHistory[0].UpdatedBy)
	}
	require.Len(t, audit.logs, 1)
}

func TestOrderServiceCreateDropsBlankItems(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	req := validCreateRequest()
	req.Items = append(req.Items, dto.CreateOrderItem{Denier: "   ", SlNumber: ""})
	order, err := svc.Create(context.Background(), operatorClaims(), req)
	require.NoError(t, err)
	require.Len(t, order.Items, 2)

	req2 := validCreateRequest()
	req2.SdyNumber = "SDY-101"
	req2.Items = []dto.CreateOrderItem{{Denier: "  ", SlNumber: " "}}
	_, err = svc.Create(context.Background(), operatorClaims(), req2)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestOrderServiceCreateDuplicateSdyNumber(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	_, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.ErrorIs(t, err, appErrors.ErrDuplicateSdyNumber)
	require.Len(t, repo.orders, 1)
}

func TestOrderServiceCreateForbiddenRoles(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleSales, models.RoleFactory} {
		actor := &models.JWTClaims{UserID: "u-1", Role: role}
		_, err := svc.Create(context.Background(), actor, validCreateRequest())
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	}
	require.Empty(t, repo.orders)
}

func TestOrderServiceUpdateRejectsDate(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	newDate := time.Now().UTC()
	newParty := "Renamed"
	_, err = svc.Update(context.Background(), operatorClaims(), order.ID, dto.UpdateOrderRequest{
		Date:      &newDate,
		PartyName: &newParty,
	})
	require.ErrorIs(t, err, appErrors.ErrImmutableDate)
	require.Equal(t, "Mills Trading", repo.orders[order.ID].PartyName)
}

func TestOrderServiceUpdateOperatorFull(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	newParty := "Renamed Mills"
	newSales := "sales-2"
	updated, err := svc.Update(context.Background(), operatorClaims(), order.ID, dto.UpdateOrderRequest{
		PartyName:     &newParty,
		SalespersonID: &newSales,
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed Mills", updated.PartyName)
	require.Equal(t, "sales-2", updated.SalespersonID)
	require.False(t, updated.FactoryEditUsed)
}

func TestOrderServiceFactoryOneTimeEdit(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	// single deliveryParty edit does not consume the flag
	delivery := "South Depot"
	updated, err := svc.Update(context.Background(), factoryClaims(), order.ID, dto.UpdateOrderRequest{
		DeliveryParty: &delivery,
	})
	require.NoError(t, err)
	require.False(t, updated.FactoryEditUsed)

	// the combined edit consumes it
	sdy := "SDY-200"
	delivery2 := "East Depot"
	updated, err = svc.Update(context.Background(), factoryClaims(), order.ID, dto.UpdateOrderRequest{
		SdyNumber:     &sdy,
		DeliveryParty: &delivery2,
	})
	require.NoError(t, err)
	require.True(t, updated.FactoryEditUsed)
	require.Equal(t, "SDY-200", updated.SdyNumber)

	// every later factory edit is refused and the order is untouched
	delivery3 := "West Depot"
	_, err = svc.Update(context.Background(), factoryClaims(), order.ID, dto.UpdateOrderRequest{
		DeliveryParty: &delivery3,
	})
	require.ErrorIs(t, err, appErrors.ErrOneTimeEditUsed)
	require.Equal(t, "East Depot", repo.orders[order.ID].DeliveryParty)
}

func TestOrderServiceFactorySdyAloneDenied(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	sdy := "SDY-300"
	_, err = svc.Update(context.Background(), factoryClaims(), order.ID, dto.UpdateOrderRequest{
		SdyNumber: &sdy,
	})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestOrderServiceUpdateItemStatus(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)
	itemID := order.Items[0].ID

	item, err := svc.UpdateItemStatus(context.Background(), factoryClaims(), itemID, models.StatusDyeing)
	require.NoError(t, err)
	require.Equal(t, models.StatusDyeing, item.Status)
	require.Len(t, item.StatusHistory, 2)
	require.Equal(t, models.StatusDyeing, item.StatusHistory[0].Status)
	require.Equal(t, models.StatusReceived, item.StatusHistory[1].Status)
}

func TestOrderServiceUpdateItemStatusAuthz(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)
	itemID := order.Items[0].ID

	_, err = svc.UpdateItemStatus(context.Background(), operatorClaims(), itemID, models.StatusDyeing)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.UpdateItemStatus(context.Background(), factoryClaims(), itemID, models.ItemStatus("shipped"))
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestOrderServiceEnforceProgression(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{EnforceProgression: true})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)
	itemID := order.Items[0].ID

	_, err = svc.UpdateItemStatus(context.Background(), factoryClaims(), itemID, models.StatusPacked)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	item, err := svc.UpdateItemStatus(context.Background(), factoryClaims(), itemID, models.StatusDyeing)
	require.NoError(t, err)
	require.Equal(t, models.StatusDyeing, item.Status)
}

func TestOrderServiceListScopesSales(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	_, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	sales := &models.JWTClaims{UserID: "sales-9", Role: models.RoleSales}
	orders, pagination, err := svc.List(context.Background(), sales, dto.OrderQuery{SalespersonID: "sales-1"})
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Equal(t, 0, pagination.TotalCount)
	require.Equal(t, "sales-9", repo.lastFilter.SalespersonID)
}

func TestOrderServiceGetVisibility(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	order, err := svc.Create(context.Background(), operatorClaims(), validCreateRequest())
	require.NoError(t, err)

	owner := &models.JWTClaims{UserID: "sales-1", Role: models.RoleSales}
	got, err := svc.Get(context.Background(), owner, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)

	other := &models.JWTClaims{UserID: "sales-2", Role: models.RoleSales}
	_, err = svc.Get(context.Background(), other, order.ID)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestOrderServiceGetUnknown(t *testing.T) {
	repo := newOrderRepoStub()
	svc := NewOrderService(repo, nil, nil, nil, nil, nil, OrderServiceOptions{})

	_, err := svc.Get(context.Background(), operatorClaims(), "missing")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
