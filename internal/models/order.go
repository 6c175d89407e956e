package models

import "time"

// ItemStatus enumerates the seven-stage production pipeline for an order item.
type ItemStatus string

const (
	StatusReceived        ItemStatus = "received"
	StatusDyeing          ItemStatus = "dyeing"
	StatusDyeingComplete  ItemStatus = "dyeing_complete"
	StatusConning         ItemStatus = "conning"
	StatusConningComplete ItemStatus = "conning_complete"
	StatusPacking         ItemStatus = "packing"
	StatusPacked          ItemStatus = "packed"
)

// StatusPipeline lists the stages in production order.
var StatusPipeline = []ItemStatus{
	StatusReceived,
	StatusDyeing,
	StatusDyeingComplete,
	StatusConning,
	StatusConningComplete,
	StatusPacking,
	StatusPacked,
}

// ValidStatus reports whether the value is a known pipeline stage.
func ValidStatus(status ItemStatus) bool {
	return status.stageIndex() >= 0
}

// IsNextStage reports whether next is exactly one stage after current.
func (s ItemStatus) IsNextStage(next ItemStatus) bool {
	cur, nxt := s.stageIndex(), next.stageIndex()
	return cur >= 0 && nxt == cur+1
}

func (s ItemStatus) stageIndex() int {
	for i, stage := range StatusPipeline {
		if stage == s {
			return i
		}
	}
	return -1
}

// Order is a customer production job identified by a unique SDY number.
// The date is write-once; FactoryEditUsed marks consumption of the
// factory role's one-time combined deliveryParty+sdyNumber edit.
type Order struct {
	ID              string    `db:"id" json:"id"`
	SdyNumber       string    `db:"sdy_number" json:"sdyNumber"`
	Date            time.Time `db:"date" json:"date"`
	PartyName       string    `db:"party_name" json:"partyName"`
	DeliveryParty   string    `db:"delivery_party" json:"deliveryParty"`
	SalespersonID   string    `db:"salesperson_id" json:"salespersonId"`
	FactoryEditUsed bool      `db:"factory_edit_used" json:"factoryEditUsed"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`

	Salesperson *UserSummary `db:"-" json:"salesperson,omitempty"`
	Items       []OrderItem  `db:"-" json:"items,omitempty"`
}

// OrderSummary is the order shape embedded in change requests.
type OrderSummary struct {
	ID            string `db:"id" json:"id"`
	SdyNumber     string `db:"sdy_number" json:"sdyNumber"`
	PartyName     string `db:"party_name" json:"partyName"`
	DeliveryParty string `db:"delivery_party" json:"deliveryParty"`
}

// OrderItem is a line within an order carrying its own production status.
// At least one of denier/slNumber is non-blank at creation.
type OrderItem struct {
	ID        string     `db:"id" json:"id"`
	OrderID   string     `db:"order_id" json:"orderId"`
	Denier    *string    `db:"denier" json:"denier,omitempty"`
	SlNumber  *string    `db:"sl_number" json:"slNumber,omitempty"`
	Quantity  int        `db:"quantity" json:"quantity"`
	Status    ItemStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`

	StatusHistory []OrderStatusHistory `db:"-" json:"statusHistory,omitempty"`
}

// OrderStatusHistory is an append-only audit trail entry for one item.
// Rows are never updated or deleted.
type OrderStatusHistory struct {
	ID          string     `db:"id" json:"id"`
	OrderItemID string     `db:"order_item_id" json:"orderItemId"`
	Status      ItemStatus `db:"status" json:"status"`
	UpdatedBy   string     `db:"updated_by" json:"updatedBy"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`

	Updater *UserSummary `db:"-" json:"updater,omitempty"`
}

// OrderFilter constrains order listing queries.
type OrderFilter struct {
	SalespersonID string
	Status        ItemStatus
	Search        string
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	PageSize      int
}

// ExportRow is one flattened line of the tabular order export: one row
// per order item with the item's latest status and last updater.
type ExportRow struct {
	SdyNumber     string     `db:"sdy_number"`
	Date          time.Time  `db:"date"`
	PartyName     string     `db:"party_name"`
	DeliveryParty string     `db:"delivery_party"`
	Salesperson   string     `db:"salesperson"`
	Denier        *string    `db:"denier"`
	SlNumber      *string    `db:"sl_number"`
	Quantity      int        `db:"quantity"`
	Status        ItemStatus `db:"status"`
	LastUpdatedBy *string    `db:"last_updated_by"`
}
