package services

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
)

var (
	externalIDRe  = regexp.MustCompile(`^\d{5,15}$`)
	voucherCodeRe = regexp.MustCompile(`^[A-Z0-9_-]{3,20}$`)
	domainRe      = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	apiURLRe      = regexp.MustCompile(`^https?://[a-zA-Z0-9.-]+(?::\d+)?$`)
)

// maxEntitlementDuration caps extensions at ten years.
const maxEntitlementDuration = 10 * 365 * 24 * time.Hour

func validateExternalID(externalID string) error {
	if !externalIDRe.MatchString(externalID) {
		return fmt.Errorf("%w: malformed external id", common.ErrValidation)
	}
	return nil
}

func validateEntitlementDuration(d time.Duration) error {
	if d < 0 || d > maxEntitlementDuration {
		return fmt.Errorf("%w: duration out of range", common.ErrValidation)
	}
	return nil
}

func validateVoucherCode(code string) error {
	if !voucherCodeRe.MatchString(code) {
		return fmt.Errorf("%w: malformed promocode", common.ErrValidation)
	}
	return nil
}

func validateNodeData(name, domain, apiURL, apiToken string) error {
	if name == "" || domain == "" || apiURL == "" || apiToken == "" {
		return fmt.Errorf("%w: all node fields are required", common.ErrValidation)
	}
	if len(name) < 3 || len(name) > 50 {
		return fmt.Errorf("%w: node name must be 3-50 characters", common.ErrValidation)
	}
	if !domainRe.MatchString(domain) {
		return fmt.Errorf("%w: malformed domain", common.ErrValidation)
	}
	if !apiURLRe.MatchString(apiURL) {
		return fmt.Errorf("%w: malformed API URL", common.ErrValidation)
	}
	if len(apiToken) < 10 {
		return fmt.Errorf("%w: API token too short", common.ErrValidation)
	}
	return nil
}
