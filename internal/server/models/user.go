package models

import "time"

// RemoteState is the last confirmed provisioning state of a user on their
// assigned node. The reconciliation loop converges users whose desired state
// (derived from EntitlementEnd) disagrees with it.
type RemoteState string

const (
	RemoteStateUnknown       RemoteState = "unknown"
	RemoteStateProvisioned   RemoteState = "provisioned"
	RemoteStateDeprovisioned RemoteState = "deprovisioned"
)

// User is a subscriber identified externally by ExternalID (e.g. a messenger
// account id) and on nodes by the opaque Credential.
type User struct {
	ID             int64
	ExternalID     string
	Email          string
	Credential     string
	NodeID         *int64
	EntitlementEnd time.Time
	RemoteState    RemoteState
	IsActive       bool
	RefusePayment  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsEntitled reports whether the user's entitlement is active at the given
// instant.
func (u *User) IsEntitled(now time.Time) bool {
	return u.EntitlementEnd.After(now)
}
