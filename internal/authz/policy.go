// Package authz holds the role-based authorization matrix for order and
// change-request operations. Every decision is a pure function over the
// actor's role and the resource state so the policy table can be tested
// in isolation from the lifecycle engine.
package authz

import "github.com/yarntrack/yarn-track-api/internal/models"

// Order field names accepted in patches and change requests.
const (
	FieldSdyNumber     = "sdyNumber"
	FieldDate          = "date"
	FieldPartyName     = "partyName"
	FieldDeliveryParty = "deliveryParty"
	FieldSalesperson   = "salespersonId"
	FieldGeneralEdit   = "general_edit"
)

// EditPolicyKind discriminates the EditPolicy variants.
type EditPolicyKind int

const (
	// EditDenied rejects every field.
	EditDenied EditPolicyKind = iota
	// EditFull allows any field except the write-once date.
	EditFull
	// EditSingleField allows exactly one named field.
	EditSingleField
	// EditOneTimeCombined allows the single field, or a one-shot combined
	// edit of the listed fields that consumes the order's one-time flag.
	EditOneTimeCombined
)

// EditPolicy is the tagged variant describing what an actor may change
// on an order. Field is set for EditSingleField and EditOneTimeCombined;
// Combined lists the fields of the one-shot edit.
type EditPolicy struct {
	Kind     EditPolicyKind
	Field    string
	Combined []string
}

// CanCreateOrder gates order creation: only the operator role.
func CanCreateOrder(role models.UserRole) bool {
	return role == models.RoleOperator
}

// CanUpdateItemStatus gates item status transitions: only the factory role.
func CanUpdateItemStatus(role models.UserRole) bool {
	return role == models.RoleFactory
}

// OrderEditPolicy resolves the edit rights of a role against an order.
// The factory role gets its single deliveryParty field plus, while the
// order's one-time flag is unconsumed, the combined
// deliveryParty+sdyNumber edit. Once consumed, factory edits are denied
// outright and must go through a change request.
func OrderEditPolicy(role models.UserRole, oneTimeEditUsed bool) EditPolicy {
	switch role {
	case models.RoleOperator:
		return EditPolicy{Kind: EditFull}
	case models.RoleFactory:
		if oneTimeEditUsed {
			return EditPolicy{Kind: EditDenied}
		}
		return EditPolicy{
			Kind:     EditOneTimeCombined,
			Field:    FieldDeliveryParty,
			Combined: []string{FieldDeliveryParty, FieldSdyNumber},
		}
	default:
		return EditPolicy{Kind: EditDenied}
	}
}

// Allows reports whether the policy permits editing exactly the given
// set of fields, and whether doing so consumes the one-time flag.
func (p EditPolicy) Allows(fields []string) (allowed, consumesFlag bool) {
	if len(fields) == 0 {
		return false, false
	}
	for _, f := range fields {
		if f == FieldDate {
			return false, false
		}
	}
	switch p.Kind {
	case EditFull:
		return true, false
	case EditSingleField:
		return len(fields) == 1 && fields[0] == p.Field, false
	case EditOneTimeCombined:
		if len(fields) == 1 && fields[0] == p.Field {
			return true, false
		}
		return sameFieldSet(fields, p.Combined), true
	default:
		return false, false
	}
}

// CanViewOrder applies row-level visibility: sales actors see only orders
// they own; every other role sees all orders.
func CanViewOrder(actor *models.JWTClaims, salespersonID string) bool {
	if actor == nil {
		return false
	}
	if actor.Role == models.RoleSales {
		return actor.UserID == salespersonID
	}
	return true
}

// CanRequestChange gates change-request creation per field: factory may
// propose only deliveryParty changes, operator anything except the date.
// Admin does not file requests; it decides them.
func CanRequestChange(role models.UserRole, field string) bool {
	switch role {
	case models.RoleFactory:
		return field == FieldDeliveryParty
	case models.RoleOperator:
		return field != FieldDate
	default:
		return false
	}
}

// CanProcessChangeRequest gates approval/rejection: admin only.
func CanProcessChangeRequest(role models.UserRole) bool {
	return role == models.RoleAdmin
}

// CanMarkRequestUsed gates consumption of an approved request: only the
// original requester.
func CanMarkRequestUsed(actorID, requestedBy string) bool {
	return actorID != "" && actorID == requestedBy
}

func sameFieldSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	if len(set) != len(b) {
		return false
	}
	for _, f := range b {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}
