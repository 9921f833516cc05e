package models

import "time"

// Voucher is a redeemable promocode granting additional entitlement time.
type Voucher struct {
	ID             int64
	Code           string
	Duration       time.Duration
	MaxActivations int
	Activations    int
	Enabled        bool
	CreatedAt      time.Time
}

// Remaining returns how many activations are left.
func (v *Voucher) Remaining() int {
	if v.Activations >= v.MaxActivations {
		return 0
	}
	return v.MaxActivations - v.Activations
}

// VoucherActivation records a single redemption of a voucher by a user.
// At most one per (voucher, user) pair.
type VoucherActivation struct {
	ID          int64
	VoucherID   int64
	UserID      int64
	ActivatedAt time.Time
}

// VoucherRedemption is a history row joining an activation with its voucher.
type VoucherRedemption struct {
	Code        string
	Duration    time.Duration
	ActivatedAt time.Time
}
