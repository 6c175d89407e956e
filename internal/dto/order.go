package dto

import (
	"time"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

// CreateOrderItem is one line of a create-order payload. Items with
// neither denier nor slNumber (after trimming) are discarded.
type CreateOrderItem struct {
	Denier   string `json:"denier"`
	SlNumber string `json:"slNumber"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest is the payload for opening a production job.
type CreateOrderRequest struct {
	SdyNumber     string            `json:"sdyNumber" validate:"required,max=20"`
	Date          time.Time         `json:"date" validate:"required"`
	PartyName     string            `json:"partyName" validate:"required,max=100"`
	DeliveryParty string            `json:"deliveryParty" validate:"required,max=100"`
	SalespersonID string            `json:"salespersonId" validate:"required"`
	Items         []CreateOrderItem `json:"orderItems" validate:"required,min=1"`
}

// UpdateOrderRequest is a sparse patch; nil fields are untouched.
// Date is present only to reject attempts to change it.
type UpdateOrderRequest struct {
	SdyNumber     *string    `json:"sdyNumber,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	PartyName     *string    `json:"partyName,omitempty"`
	DeliveryParty *string    `json:"deliveryParty,omitempty"`
	SalespersonID *string    `json:"salespersonId,omitempty"`
}

// UpdateItemStatusRequest moves an order item to a pipeline stage.
type UpdateItemStatusRequest struct {
	Status models.ItemStatus `json:"status" validate:"required"`
}

// OrderQuery captures list filters from the query string.
type OrderQuery struct {
	Status        models.ItemStatus
	Search        string
	SalespersonID string
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	PageSize      int
}
