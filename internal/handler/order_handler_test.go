package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/middleware"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/service"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
)

type orderServiceMock struct {
	createResp *models.Order
	createErr  error
	updateResp *models.Order
	updateErr  error
	getResp    *models.Order
	getErr     error
	listResp   []models.Order
	listErr    error
	lastQuery  dto.OrderQuery
	lastPatch  dto.UpdateOrderRequest
	listCalled bool
}

func (m *orderServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateOrderRequest) (*models.Order, error) {
	return m.createResp, m.createErr
}

func (m *orderServiceMock) Update(ctx context.Context, actor *models.JWTClaims, orderID string, req dto.UpdateOrderRequest) (*models.Order, error) {
	m.lastPatch = req
	return m.updateResp, m.updateErr
}

func (m *orderServiceMock) Get(ctx context.Context, actor *models.JWTClaims, orderID string) (*models.Order, error) {
	return m.getResp, m.getErr
}

func (m *orderServiceMock) List(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery) ([]models.Order, *models.Pagination, error) {
	m.listCalled = true
	m.lastQuery = query
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, m.listErr
}

type exporterMock struct {
	result     *service.ExportResult
	err        error
	lastFormat service.ExportFormat
}

func (m *exporterMock) Export(ctx context.Context, actor *models.JWTClaims, query dto.OrderQuery, format service.ExportFormat) (*service.ExportResult, error) {
	m.lastFormat = format
	return m.result, m.err
}

func testContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestOrderHandlerList(t *testing.T) {
	mockSvc := &orderServiceMock{listResp: []models.Order{{ID: "order-1", SdyNumber: "SDY-100"}}}
	handler := NewOrderHandler(mockSvc, nil, nil)

	c, w := testContext(t, http.MethodGet, "/orders?status=dyeing&search=mills&page=2", nil,
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.listCalled)
	assert.Equal(t, models.StatusDyeing, mockSvc.lastQuery.Status)
	assert.Equal(t, "mills", mockSvc.lastQuery.Search)
	assert.Equal(t, 2, mockSvc.lastQuery.Page)
}

func TestOrderHandlerListBadStatus(t *testing.T) {
	handler := NewOrderHandler(&orderServiceMock{}, nil, nil)

	c, w := testContext(t, http.MethodGet, "/orders?status=shipped", nil,
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandlerListBadDate(t *testing.T) {
	handler := NewOrderHandler(&orderServiceMock{}, nil, nil)

	c, w := testContext(t, http.MethodGet, "/orders?startDate=03-10-2026", nil,
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandlerCreate(t *testing.T) {
	mockSvc := &orderServiceMock{createResp: &models.Order{ID: "order-1"}}
	handler := NewOrderHandler(mockSvc, nil, nil)

	payload, _ := json.Marshal(map[string]interface{}{
		"sdyNumber":     "SDY-100",
		"date":          "2026-03-10T00:00:00Z",
		"partyName":     "Mills Trading",
		"deliveryParty": "North Depot",
		"salespersonId": "sales-1",
		"orderItems":    []map[string]interface{}{{"denier": "150D", "quantity": 10}},
	})
	c, w := testContext(t, http.MethodPost, "/orders", payload,
		&models.JWTClaims{UserID: "op-1", Role: models.RoleOperator})
	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestOrderHandlerCreateInvalidBody(t *testing.T) {
	handler := NewOrderHandler(&orderServiceMock{}, nil, nil)

	c, w := testContext(t, http.MethodPost, "/orders", []byte(`{"sdyNumber":`),
		&models.JWTClaims{UserID: "op-1", Role: models.RoleOperator})
	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandlerCreateConflict(t *testing.T) {
	mockSvc := &orderServiceMock{createErr: appErrors.ErrDuplicateSdyNumber}
	handler := NewOrderHandler(mockSvc, nil, nil)

	payload, _ := json.Marshal(map[string]interface{}{"sdyNumber": "SDY-100"})
	c, w := testContext(t, http.MethodPost, "/orders", payload,
		&models.JWTClaims{UserID: "op-1", Role: models.RoleOperator})
	handler.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrDuplicateSdyNumber.Code, envelope.Error.Code)
}

func TestOrderHandlerUpdateForwardsPatch(t *testing.T) {
	mockSvc := &orderServiceMock{updateResp: &models.Order{ID: "order-1"}}
	handler := NewOrderHandler(mockSvc, nil, nil)

	c, w := testContext(t, http.MethodPatch, "/orders/order-1", []byte(`{"deliveryParty":"South Depot"}`),
		&models.JWTClaims{UserID: "fac-1", Role: models.RoleFactory})
	c.Params = gin.Params{{Key: "id", Value: "order-1"}}
	handler.Update(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastPatch.DeliveryParty)
	assert.Equal(t, "South Depot", *mockSvc.lastPatch.DeliveryParty)
	assert.Nil(t, mockSvc.lastPatch.SdyNumber)
}

func TestOrderHandlerUnauthenticated(t *testing.T) {
	handler := NewOrderHandler(&orderServiceMock{}, nil, nil)

	c, w := testContext(t, http.MethodGet, "/orders", nil, nil)
	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderHandlerExport(t *testing.T) {
	exporter := &exporterMock{result: &service.ExportResult{
		Data:        []byte("csv-data"),
		ContentType: "text/csv",
		Filename:    "orders.csv",
	}}
	handler := NewOrderHandler(&orderServiceMock{}, nil, exporter)

	c, w := testContext(t, http.MethodGet, "/orders/export?format=CSV", nil,
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.FormatCSV, exporter.lastFormat)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "orders.csv")
	assert.Equal(t, "csv-data", w.Body.String())
}
