package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleStaff:
		return r, nil
	}
	return "", NewValidationError(fmt.Sprintf("unknown role %q", s))
}

// Actor is the identity of whoever issues a request. It comes from the
// identity collaborator and is treated as read-only.
type Actor struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	VendorID uuid.UUID `json:"vendor_id,omitempty"`
}

func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// CanView reports whether the actor may see the order.
func (a Actor) CanView(o *Order) bool {
	switch a.Role {
	case RoleCustomer:
		return o.CustomerID == a.ID
	case RoleStaff:
		return a.VendorID != uuid.Nil && o.VendorID == a.VendorID
	}
	return false
}
