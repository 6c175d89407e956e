package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yarntrack/yarn-track-api/internal/authz"
	"github.com/yarntrack/yarn-track-api/internal/dto"
	"github.com/yarntrack/yarn-track-api/internal/models"
	"github.com/yarntrack/yarn-track-api/internal/repository"
	appErrors "github.com/yarntrack/yarn-track-api/pkg/errors"
)

// ChangeRequestRepository is the persistence surface of the approval
// workflow.
type ChangeRequestRepository interface {
	Create(ctx context.Context, request *models.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	Process(ctx context.Context, params repository.ProcessParams) error
	MarkUsed(ctx context.Context, id string) error
}

type orderLookup interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
}

// ChangeRequestService runs the propose/decide/consume workflow for
// edits outside a role's normal rights. Approval never writes to the
// order itself.
type ChangeRequestService struct {
	repo      ChangeRequestRepository
	orders    orderLookup
	audit     auditLogger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewChangeRequestService constructs a ChangeRequestService instance.
func NewChangeRequestService(repo ChangeRequestRepository, orders orderLookup, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ChangeRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ChangeRequestService{
		repo:      repo,
		orders:    orders,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Create files a pending change request against an existing order.
// Factory actors may only propose deliveryParty changes; operators
// anything except the write-once date.
func (s *ChangeRequestService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateChangeRequestRequest) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change request payload")
	}
	if !authz.CanRequestChange(actor.Role, req.Field) {
		return nil, appErrors.Clone(appErrors.ErrForbidden,
			fmt.Sprintf("role %q cannot request changes to %q", actor.Role, req.Field))
	}

	if _, err := s.orders.GetByID(ctx, req.OrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}

	request := &models.ChangeRequest{
		OrderID:     req.OrderID,
		RequestedBy: actor.UserID,
		Field:       req.Field,
		OldValue:    req.OldValue,
		NewValue:    req.NewValue,
		Reason:      req.Reason,
		Status:      models.ChangeRequestPending,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	created, err := s.repo.GetByID(ctx, request.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}

	s.writeAudit(ctx, actor, models.AuditActionChangeRequestCreate, created.ID, created)
	s.logger.Info("change request created",
		zap.String("request_id", created.ID),
		zap.String("order_id", created.OrderID),
		zap.String("field", created.Field))
	return created, nil
}

// RequestChange is the simplified entry point: the actor names only the
// order, and the field plus placeholder values are derived from the
// role. The concrete values are negotiated after approval.
func (s *ChangeRequestService) RequestChange(ctx context.Context, actor *models.JWTClaims, orderID string) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	field := authz.FieldGeneralEdit
	if actor.Role == models.RoleFactory {
		field = authz.FieldDeliveryParty
	}
	return s.Create(ctx, actor, dto.CreateChangeRequestRequest{
		OrderID:  orderID,
		Field:    field,
		OldValue: "Not specified",
		NewValue: "To be provided after approval",
		Reason:   fmt.Sprintf("Change requested by %s user", actor.Role),
	})
}

// Process records the admin decision on a pending request. A request
// already decided yields a conflict, even under concurrent decisions.
func (s *ChangeRequestService) Process(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ProcessChangeRequestRequest) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !authz.CanProcessChangeRequest(actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can process change requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	if _, err := s.repo.GetByID(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}

	params := repository.ProcessParams{
		ID:         requestID,
		Status:     req.Status,
		ApprovedBy: actor.UserID,
	}
	if req.AdminNote != "" {
		note := req.AdminNote
		params.AdminNote = &note
	}
	if err := s.repo.Process(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRequestDecided
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process change request")
	}

	decided, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload change request")
	}

	if s.metrics != nil {
		s.metrics.RecordChangeRequestDecision(req.Status)
	}
	s.writeAudit(ctx, actor, models.AuditActionChangeRequestProcess, decided.ID, decided)
	s.logger.Info("change request processed",
		zap.String("request_id", decided.ID),
		zap.String("decision", string(req.Status)),
		zap.String("decided_by", actor.UserID))
	return decided, nil
}

// MarkUsed consumes an approved request, exactly once, and only by the
// original requester. The checks surface distinct conflicts so clients
// can tell an unapproved request from an exhausted one.
func (s *ChangeRequestService) MarkUsed(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}

	if request.Status != models.ChangeRequestApproved {
		return nil, appErrors.ErrRequestNotApproved
	}
	if request.IsEditUsed {
		return nil, appErrors.ErrRequestAlreadyUsed
	}
	if !authz.CanMarkRequestUsed(actor.UserID, request.RequestedBy) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester can mark the request used")
	}

	if err := s.repo.MarkUsed(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// A concurrent call won the guarded update.
			return nil, appErrors.ErrRequestAlreadyUsed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark change request used")
	}

	used, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload change request")
	}

	s.writeAudit(ctx, actor, models.AuditActionChangeRequestUsed, used.ID, used)
	return used, nil
}

// Get returns one change request. Admins see all; other actors only
// their own.
func (s *ChangeRequestService) Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role != models.RoleAdmin && request.RequestedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another user's change request")
	}
	return request, nil
}

// List returns change requests. Admins see the full queue with filters;
// everyone else sees only their own requests.
func (s *ChangeRequestService) List(ctx context.Context, actor *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ChangeRequestFilter{
		Status:  query.Status,
		OrderID: query.OrderID,
	}
	if actor.Role != models.RoleAdmin {
		filter.RequestedBy = actor.UserID
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, nil
}

func (s *ChangeRequestService) writeAudit(ctx context.Context, actor *models.JWTClaims, action, requestID string, value interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "change_request",
		ResourceID: &requestID,
	}
	if actor != nil {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if value != nil {
		if data, err := json.Marshal(value); err == nil {
			entry.NewValues = data
		}
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
