package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/repomanager"
)

// VoucherService is the promocode ledger. Redemption is a single atomic
// transaction: either the entitlement extension, the activation record, and
// the counter increment all commit, or none do.
type VoucherService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger

	now func() time.Time
}

func NewVoucherService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *VoucherService {
	return &VoucherService{db: db, repomanager: m, logger: logger, now: time.Now}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem applies a voucher to a user and returns the new entitlement end.
// The whole flow, from resolving the user to bumping the counter, is one
// transaction, and the extension itself is a single store statement so a
// concurrent extension of the same user is never overwritten.
func (s *VoucherService) Redeem(ctx context.Context, externalID, code string) (time.Time, error) {
	code = normalizeCode(code)

	var newEnd time.Time

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).GetByExternalID(ctx, externalID)
		if err != nil {
			return err
		}

		voucherRepo := s.repomanager.Vouchers(tx)

		voucher, err := voucherRepo.GetEnabledByCode(ctx, code)
		if err != nil {
			return err
		}
		if voucher.Remaining() == 0 {
			return common.ErrVoucherExhausted
		}

		redeemed, err := voucherRepo.ActivationExists(ctx, voucher.ID, user.ID)
		if err != nil {
			return err
		}
		if redeemed {
			return common.ErrAlreadyRedeemed
		}

		newEnd, err = s.repomanager.Users(tx).ExtendEntitlement(ctx, user.ID, voucher.Duration, s.now())
		if err != nil {
			return err
		}

		if err := voucherRepo.InsertActivation(ctx, voucher.ID, user.ID); err != nil {
			return err
		}

		// The guarded increment is the last line of defense against
		// concurrent redemptions of the final slot.
		incremented, err := voucherRepo.IncrementActivations(ctx, voucher.ID)
		if err != nil {
			return err
		}
		if !incremented {
			return common.ErrVoucherExhausted
		}

		return s.repomanager.Activity(tx).Append(ctx, user.ID, models.ActionPromocodeActivated,
			fmt.Sprintf("Code: %s, Duration: %s", code, common.FormatDuration(voucher.Duration)))
	})
	if err != nil {
		return time.Time{}, err
	}

	s.logger.Info(ctx, "promocode redeemed", "external_id", externalID, "code", code, "new_end", newEnd)
	return newEnd, nil
}

func (s *VoucherService) Create(ctx context.Context, code string, duration time.Duration, maxActivations int) (*models.Voucher, error) {
	code = normalizeCode(code)
	if err := validateVoucherCode(code); err != nil {
		return nil, err
	}
	if err := validateEntitlementDuration(duration); err != nil {
		return nil, err
	}
	if maxActivations < 1 {
		return nil, fmt.Errorf("%w: max activations must be positive", common.ErrValidation)
	}

	voucher := &models.Voucher{Code: code, Duration: duration, MaxActivations: maxActivations}
	created, err := s.repomanager.Vouchers(s.db).Create(ctx, voucher)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "promocode created", "code", code, "duration", common.FormatDuration(duration))
	return created, nil
}

func (s *VoucherService) List(ctx context.Context, onlyRedeemable bool) ([]*models.Voucher, error) {
	return s.repomanager.Vouchers(s.db).List(ctx, onlyRedeemable)
}

// Validate checks a code without redeeming it: the voucher must exist, be
// enabled, and have remaining activations.
func (s *VoucherService) Validate(ctx context.Context, code string) (*models.Voucher, error) {
	voucher, err := s.repomanager.Vouchers(s.db).GetEnabledByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if voucher.Remaining() == 0 {
		return nil, common.ErrVoucherExhausted
	}
	return voucher, nil
}

func (s *VoucherService) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	enabled, err := s.repomanager.Vouchers(s.db).ToggleEnabled(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "promocode toggled", "voucher_id", id, "enabled", enabled)
	return enabled, nil
}

// Delete removes a voucher, cascading its activation records first.
func (s *VoucherService) Delete(ctx context.Context, id int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Vouchers(tx)
		if err := repo.DeleteActivations(ctx, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
}

// HistoryForUser lists a user's past redemptions, newest first.
func (s *VoucherService) HistoryForUser(ctx context.Context, externalID string) ([]*models.VoucherRedemption, error) {
	user, err := s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Vouchers(s.db).HistoryForUser(ctx, user.ID)
}
