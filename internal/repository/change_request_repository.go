package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

// ChangeRequestRepository persists the change-request workflow.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create inserts a new pending change request.
func (r *ChangeRequestRepository) Create(ctx context.Context, request *models.ChangeRequest) error {
	now := time.Now().UTC()
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.ChangeRequestPending
	}
	request.CreatedAt = now
	request.UpdatedAt = now

	const query = `INSERT INTO change_requests
	(id, order_id, requested_by, approved_by, field, old_value, new_value, status, reason, admin_note, is_edit_used, created_at, updated_at)
	VALUES (:id, :order_id, :requested_by, :approved_by, :field, :old_value, :new_value, :status, :reason, :admin_note, :is_edit_used, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

type changeRequestRow struct {
	models.ChangeRequest
	OrderSdyNumber     sql.NullString `db:"order_sdy_number"`
	OrderPartyName     sql.NullString `db:"order_party_name"`
	OrderDeliveryParty sql.NullString `db:"order_delivery_party"`
	RequesterUsername  sql.NullString `db:"requester_username"`
	RequesterRole      sql.NullString `db:"requester_role"`
	ApproverUsername   sql.NullString `db:"approver_username"`
	ApproverRole       sql.NullString `db:"approver_role"`
}

const changeRequestSelect = `SELECT cr.id, cr.order_id, cr.requested_by, cr.approved_by, cr.field,
       cr.old_value, cr.new_value, cr.status, cr.reason, cr.admin_note, cr.is_edit_used,
       cr.created_at, cr.updated_at,
       o.sdy_number AS order_sdy_number,
       o.party_name AS order_party_name,
       o.delivery_party AS order_delivery_party,
       req.username AS requester_username,
       req.role AS requester_role,
       app.username AS approver_username,
       app.role AS approver_role
	FROM change_requests cr
	LEFT JOIN orders o ON o.id = cr.order_id
	LEFT JOIN users req ON req.id = cr.requested_by
	LEFT JOIN users app ON app.id = cr.approved_by`

func (row changeRequestRow) enrich() models.ChangeRequest {
	request := row.ChangeRequest
	if row.OrderSdyNumber.Valid {
		request.Order = &models.OrderSummary{
			ID:            request.OrderID,
			SdyNumber:     row.OrderSdyNumber.String,
			PartyName:     row.OrderPartyName.String,
			DeliveryParty: row.OrderDeliveryParty.String,
		}
	}
	if row.RequesterUsername.Valid {
		request.Requester = &models.UserSummary{
			ID:       request.RequestedBy,
			Username: row.RequesterUsername.String,
			Role:     models.UserRole(row.RequesterRole.String),
		}
	}
	if request.ApprovedBy != nil && row.ApproverUsername.Valid {
		request.Approver = &models.UserSummary{
			ID:       *request.ApprovedBy,
			Username: row.ApproverUsername.String,
			Role:     models.UserRole(row.ApproverRole.String),
		}
	}
	return request
}

// GetByID fetches one change request enriched with order and identity
// summaries.
func (r *ChangeRequestRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	var row changeRequestRow
	if err := r.db.GetContext(ctx, &row, changeRequestSelect+` WHERE cr.id = $1`, id); err != nil {
		return nil, err
	}
	request := row.enrich()
	return &request, nil
}

// List returns change requests matching the filter, newest first.
func (r *ChangeRequestRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("cr.status = $%d", len(args)))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		conditions = append(conditions, fmt.Sprintf("cr.order_id = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("cr.requested_by = $%d", len(args)))
	}

	query := changeRequestSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY cr.created_at DESC"

	var rows []changeRequestRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	requests := make([]models.ChangeRequest, len(rows))
	for i, row := range rows {
		requests[i] = row.enrich()
	}
	return requests, nil
}

// ProcessParams carries the admin decision for a pending request.
type ProcessParams struct {
	ID         string
	Status     models.ChangeRequestStatus
	ApprovedBy string
	AdminNote  *string
}

// Process records the decision. The update is guarded on the request
// still being pending: re-processing matches no row and returns
// sql.ErrNoRows so the caller can surface a conflict.
func (r *ChangeRequestRepository) Process(ctx context.Context, params ProcessParams) error {
	query := fmt.Sprintf(`UPDATE change_requests
	SET status = :status, approved_by = :approved_by, admin_note = :admin_note, updated_at = :updated_at
	WHERE id = :id AND status = '%s'`, models.ChangeRequestPending)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":          params.ID,
		"status":      params.Status,
		"approved_by": params.ApprovedBy,
		"admin_note":  params.AdminNote,
		"updated_at":  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("process change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check change request rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkUsed consumes an approved request. Guarded on status and the
// consumption flag so the transition happens at most once.
func (r *ChangeRequestRepository) MarkUsed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE change_requests
	SET is_edit_used = TRUE, updated_at = $2
	WHERE id = $1 AND status = '%s' AND is_edit_used = FALSE`, models.ChangeRequestApproved)
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark change request used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check mark-used rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
