// Package common contains shared constants, sentinel errors, and small
// helpers used across vpnkeeper components. Callers should use errors.Is
// to match the sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Generic service-level errors.
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Conflicts.
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrDuplicateCode     = errors.New("promocode already exists")
	ErrAlreadyRedeemed   = errors.New("promocode already redeemed by this user")

	// Capacity.
	ErrVoucherExhausted = errors.New("promocode activation limit reached")
	ErrNoNodesAvailable = errors.New("no enabled nodes available")
	ErrNodeInUse        = errors.New("node still has assigned users")

	// Entitlement / config retrieval.
	ErrNotEntitled        = errors.New("subscription is not active")
	ErrNoNodeAssigned     = errors.New("no node assigned")
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrConfigUnavailable  = errors.New("connection config unavailable")
	ErrInvalidEndDate     = errors.New("end date must be in the future")

	// Remote node communication. ErrRemoteUnavailable is always retryable
	// (next reconciliation tick); ErrRemoteProtocol is logged and not
	// silently retried inline.
	ErrRemoteUnavailable = errors.New("node unavailable")
	ErrRemoteProtocol    = errors.New("node protocol error")
)
