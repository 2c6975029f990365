package domain

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusPaymentPendingVerification Status = "payment_pending_verification"
	StatusOrderConfirmed             Status = "order_confirmed"
	StatusInPreparation              Status = "in_preparation"
	StatusReadyForPickup             Status = "ready_for_pickup"
	StatusCompleted                  Status = "completed"
	StatusRejected                   Status = "rejected"
)

// InitialStatus is assigned to every order at creation.
const InitialStatus = StatusPaymentPendingVerification

var allowedTransitions = map[Status][]Status{
	StatusPaymentPendingVerification: {StatusOrderConfirmed, StatusRejected},
	StatusOrderConfirmed:             {StatusInPreparation, StatusRejected},
	StatusInPreparation:              {StatusReadyForPickup, StatusRejected},
	StatusReadyForPickup:             {StatusCompleted, StatusRejected},
	StatusCompleted:                  {},
	StatusRejected:                   {},
}

// Statuses lists the closed vocabulary in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPaymentPendingVerification,
		StatusOrderConfirmed,
		StatusInPreparation,
		StatusReadyForPickup,
		StatusCompleted,
		StatusRejected,
	}
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown order status %q, want one of %v", s, Statuses()))
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// AllowedTargets returns the statuses reachable in one step from s.
func AllowedTargets(s Status) []Status {
	out := make([]Status, len(allowedTransitions[s]))
	copy(out, allowedTransitions[s])
	return out
}

func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
