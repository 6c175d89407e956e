package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

func changeRequestColumns() []string {
	return []string{
		"id", "order_id", "requested_by", "approved_by", "field",
		"old_value", "new_value", "status", "reason", "admin_note", "is_edit_used",
		"created_at", "updated_at",
		"order_sdy_number", "order_party_name", "order_delivery_party",
		"requester_username", "requester_role",
		"approver_username", "approver_role",
	}
}

func TestChangeRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	request := &models.ChangeRequest{
		OrderID:     "order-1",
		RequestedBy: "fac-1",
		Field:       "deliveryParty",
		OldValue:    "North Depot",
		NewValue:    "South Depot",
		Reason:      "customer moved",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.ChangeRequestPending, request.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(changeRequestColumns()).
		AddRow("cr-1", "order-1", "fac-1", nil, "deliveryParty",
			"North Depot", "South Depot", "pending", "customer moved", nil, false,
			now, now,
			"SDY-100", "Mills Trading", "North Depot",
			"factory1", "factory",
			nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT cr.id, cr.order_id")).
		WithArgs("cr-1").
		WillReturnRows(rows)

	request, err := repo.GetByID(context.Background(), "cr-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestPending, request.Status)
	require.NotNil(t, request.Order)
	require.Equal(t, "SDY-100", request.Order.SdyNumber)
	require.NotNil(t, request.Requester)
	require.Equal(t, models.RoleFactory, request.Requester.Role)
	require.Nil(t, request.Approver)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(changeRequestColumns()).
		AddRow("cr-1", "order-1", "fac-1", nil, "deliveryParty",
			"a", "b", "pending", "r", nil, false,
			now, now,
			nil, nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT cr.id, cr.order_id")).
		WithArgs("pending", "fac-1").
		WillReturnRows(rows)

	requests, err := repo.List(context.Background(), models.ChangeRequestFilter{
		Status:      models.ChangeRequestPending,
		RequestedBy: "fac-1",
	})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Nil(t, requests[0].Order)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryProcessGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	note := "go ahead"
	err := repo.Process(context.Background(), ProcessParams{
		ID:         "cr-1",
		Status:     models.ChangeRequestApproved,
		ApprovedBy: "admin-1",
		AdminNote:  &note,
	})
	require.NoError(t, err)

	// a request already decided matches no row
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Process(context.Background(), ProcessParams{
		ID:         "cr-1",
		Status:     models.ChangeRequestRejected,
		ApprovedBy: "admin-1",
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryMarkUsedGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec("UPDATE change_requests\\s+SET is_edit_used = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkUsed(context.Background(), "cr-1"))

	mock.ExpectExec("UPDATE change_requests\\s+SET is_edit_used = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.MarkUsed(context.Background(), "cr-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
