package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
)

type changeRequestServiceMock struct {
	createResp   *models.ChangeRequest
	createErr    error
	processResp  *models.ChangeRequest
	processErr   error
	markUsedResp *models.ChangeRequest
	markUsedErr  error
	getResp      *models.ChangeRequest
	getErr       error
	listResp     []models.ChangeRequest
	listErr      error
	lastQuery    dto.ChangeRequestQuery
	lastDecision dto.ProcessChangeRequestRequest
}

func (m *changeRequestServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateChangeRequestRequest) (*models.ChangeRequest, error) {
	return m.createResp, m.createErr
}

func (m *changeRequestServiceMock) Process(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ProcessChangeRequestRequest) (*models.ChangeRequest, error) {
	m.lastDecision = req
	return m.processResp, m.processErr
}

func (m *changeRequestServiceMock) MarkUsed(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error) {
	return m.markUsedResp, m.markUsedErr
}

func (m *changeRequestServiceMock) Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error) {
	return m.getResp, m.getErr
}

func (m *changeRequestServiceMock) List(ctx context.Context, actor *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error) {
	m.lastQuery = query
	return m.listResp, m.listErr
}

func TestChangeRequestHandlerList(t *testing.T) {
	mockSvc := &changeRequestServiceMock{listResp: []models.ChangeRequest{{ID: "cr-1"}}}
	handler := NewChangeRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/change-requests?status=pending&orderId=order-1", nil,
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ChangeRequestPending, mockSvc.lastQuery.Status)
	assert.Equal(t, "order-1", mockSvc.lastQuery.OrderID)
}

func TestChangeRequestHandlerCreate(t *testing.T) {
	mockSvc := &changeRequestServiceMock{createResp: &models.ChangeRequest{ID: "cr-1"}}
	handler := NewChangeRequestHandler(mockSvc)

	body := []byte(`{"orderId":"order-1","field":"deliveryParty","oldValue":"a","newValue":"b","reason":"r"}`)
	c, w := testContext(t, http.MethodPost, "/change-requests", body,
		&models.JWTClaims{UserID: "fac-1", Role: models.RoleFactory})
	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestChangeRequestHandlerProcess(t *testing.T) {
	mockSvc := &changeRequestServiceMock{processResp: &models.ChangeRequest{ID: "cr-1", Status: models.ChangeRequestApproved}}
	handler := NewChangeRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodPatch, "/change-requests/cr-1/process", []byte(`{"status":"approved","adminNote":"ok"}`),
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "cr-1"}}
	handler.Process(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ChangeRequestApproved, mockSvc.lastDecision.Status)
	assert.Equal(t, "ok", mockSvc.lastDecision.AdminNote)
}

func TestChangeRequestHandlerProcessConflict(t *testing.T) {
	mockSvc := &changeRequestServiceMock{processErr: appErrors.ErrRequestDecided}
	handler := NewChangeRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodPatch, "/change-requests/cr-1/process", []byte(`{"status":"rejected"}`),
		&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "cr-1"}}
	handler.Process(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestChangeRequestHandlerMarkUsed(t *testing.T) {
	mockSvc := &changeRequestServiceMock{markUsedResp: &models.ChangeRequest{ID: "cr-1", IsEditUsed: true}}
	handler := NewChangeRequestHandler(mockSvc)

	c, w := testContext(t, http.MethodPatch, "/change-requests/cr-1/mark-used", nil,
		&models.JWTClaims{UserID: "fac-1", Role: models.RoleFactory})
	c.Params = gin.Params{{Key: "id", Value: "cr-1"}}
	handler.MarkUsed(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChangeRequestHandlerUnauthenticated(t *testing.T) {
	handler := NewChangeRequestHandler(&changeRequestServiceMock{})

	c, w := testContext(t, http.MethodGet, "/change-requests", nil, nil)
	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
