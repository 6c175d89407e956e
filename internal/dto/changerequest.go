package dto

import "github.com/yarntrack/yarn-track-api/internal/models"

// CreateChangeRequestRequest proposes an edit to one order field.
type CreateChangeRequestRequest struct {
	OrderID  string `json:"orderId" validate:"required"`
	Field    string `json:"field" validate:"required,max=50"`
	OldValue string `json:"oldValue" validate:"required"`
	NewValue string `json:"newValue" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

// ProcessChangeRequestRequest carries the admin decision.
type ProcessChangeRequestRequest struct {
	Status    models.ChangeRequestStatus `json:"status" validate:"required,oneof=approved rejected"`
	AdminNote string                     `json:"adminNote"`
}

// ChangeRequestQuery captures list filters from the query string.
type ChangeRequestQuery struct {
	Status  models.ChangeRequestStatus
	OrderID string
}
