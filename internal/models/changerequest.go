package models

import "time"

// ChangeRequestStatus captures workflow states for out-of-policy edits.
type ChangeRequestStatus string

const (
	ChangeRequestPending  ChangeRequestStatus = "pending"
	ChangeRequestApproved ChangeRequestStatus = "approved"
	ChangeRequestRejected ChangeRequestStatus = "rejected"
)

// ChangeRequest proposes an edit to a single order field outside the
// requester's normal edit rights. Approval records the approver but never
// writes to the order; the requester applies the edit separately and then
// marks the request used, exactly once.
type ChangeRequest struct {
	ID          string              `db:"id" json:"id"`
	OrderID     string              `db:"order_id" json:"orderId"`
	RequestedBy string              `db:"requested_by" json:"requestedBy"`
	ApprovedBy  *string             `db:"approved_by" json:"approvedBy,omitempty"`
	Field       string              `db:"field" json:"field"`
	OldValue    string              `db:"old_value" json:"oldValue"`
	NewValue    string              `db:"new_value" json:"newValue"`
	Status      ChangeRequestStatus `db:"status" json:"status"`
	Reason      string              `db:"reason" json:"reason"`
	AdminNote   *string             `db:"admin_note" json:"adminNote,omitempty"`
	IsEditUsed  bool                `db:"is_edit_used" json:"isEditUsed"`
	CreatedAt   time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updatedAt"`

	Order     *OrderSummary `db:"-" json:"order,omitempty"`
	Requester *UserSummary  `db:"-" json:"requester,omitempty"`
	Approver  *UserSummary  `db:"-" json:"approver,omitempty"`
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	Status      ChangeRequestStatus
	OrderID     string
	RequestedBy string
}
