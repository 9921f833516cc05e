package models

import "time"

// Activity log action kinds. Free-form details accompany each entry.
const (
	ActionUserCreated        = "USER_CREATED"
	ActionSubscriptionExtend = "SUBSCRIPTION_EXTENDED"
	ActionSubscriptionReset  = "SUBSCRIPTION_RESET"
	ActionSubscriptionEndSet = "SUBSCRIPTION_END_SET"
	ActionPromocodeActivated = "PROMOCODE_ACTIVATED"
	ActionVPNActivated       = "VPN_ACTIVATED"
	ActionVPNDeactivated     = "VPN_DEACTIVATED"
	ActionPaymentSucceeded   = "PAYMENT_SUCCEEDED"
)

// ActivityEntry is an append-only audit record. Never mutated; deleted only
// when the owning user is deleted.
type ActivityEntry struct {
	ID        int64
	UserID    int64
	Action    string
	Details   string
	Timestamp time.Time
}
