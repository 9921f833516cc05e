package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/repomanager"
)

// duePollBatch bounds how many due jobs one poll cycle claims.
const duePollBatch = 50

// ChargeNotification is a processed payment event from the external processor.
type ChargeNotification struct {
	PaymentID    string
	Status       string
	Amount       float64
	IsTrial      bool
	UserID       int64
	Email        string
	DurationDays int
	NextAmount   float64
}

// ChargeRequest asks the processor to charge a saved payment method.
type ChargeRequest struct {
	PaymentMethodRef string
	Amount           float64
	Email            string
	UserID           int64
	DurationDays     int
}

// Processor initiates recurring charges against the external payment
// provider. The returned string is the provider's payment id.
type Processor interface {
	CreateRecurringCharge(ctx context.Context, req ChargeRequest) (string, error)
}

// PaymentService handles charge notifications and drives the recurring
// charge scheduler. Scheduled charges live in a durable jobs table so a
// restart never loses a pending charge.
type PaymentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	users       *UserService
	processor   Processor
	logger      logging.Logger

	pollInterval time.Duration
	now          func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewPaymentService(db *sql.DB, m repomanager.RepositoryManager, users *UserService, processor Processor, logger logging.Logger, pollInterval time.Duration) *PaymentService {
	return &PaymentService{
		db:           db,
		repomanager:  m,
		users:        users,
		processor:    processor,
		logger:       logger,
		pollInterval: pollInterval,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// HandleChargeNotification processes one webhook event. The succeeded path
// runs as one transaction keyed on the payment id: the upsert takes the row
// lock, so of two racing deliveries of the same payment only one observes
// the transition to succeeded and prolongs the entitlement.
func (s *PaymentService) HandleChargeNotification(ctx context.Context, n *ChargeNotification) error {
	if n.PaymentID == "" || n.UserID == 0 {
		return fmt.Errorf("%w: payment id and user id are required", common.ErrValidation)
	}

	if n.Status != models.PaymentStatusSucceeded {
		if _, err := s.repomanager.Payments(s.db).Save(ctx, &models.Payment{
			UserID:       n.UserID,
			PaymentID:    n.PaymentID,
			Status:       n.Status,
			DurationDays: n.DurationDays,
			Amount:       n.Amount,
		}); err != nil {
			return err
		}
		s.logger.Info(ctx, "payment not succeeded", "payment_id", n.PaymentID, "status", n.Status)
		return nil
	}

	var newEnd time.Time
	applied := false

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.repomanager.Payments(tx).SaveSucceeded(ctx, &models.Payment{
			UserID:       n.UserID,
			PaymentID:    n.PaymentID,
			DurationDays: n.DurationDays,
			Amount:       n.Amount,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		newEnd, err = s.users.prolongDays(ctx, tx, n.UserID, n.DurationDays)
		if err != nil {
			return err
		}

		label := "Payment"
		if n.IsTrial {
			label = "Trial payment"
		}
		return s.repomanager.Activity(tx).Append(ctx, n.UserID, models.ActionPaymentSucceeded,
			fmt.Sprintf("%s %s, %d days, new end: %s", label, n.PaymentID, n.DurationDays, newEnd.Format(time.RFC3339)))
	})
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Info(ctx, "duplicate payment notification ignored", "payment_id", n.PaymentID)
		return nil
	}

	s.logger.Info(ctx, "payment applied", "payment_id", n.PaymentID, "user_id", n.UserID, "new_end", newEnd, "trial", n.IsTrial)

	// The entitlement is already extended; a failure to schedule the next
	// charge must surface loudly but not undo the extension.
	nextAmount := n.NextAmount
	if nextAmount == 0 {
		nextAmount = n.Amount
	}
	_, err = s.repomanager.Jobs(s.db).Schedule(ctx, &models.ChargeJob{
		RunAt:            newEnd,
		UserID:           n.UserID,
		PaymentMethodRef: n.PaymentID,
		Amount:           nextAmount,
		DurationDays:     n.DurationDays,
		Email:            n.Email,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to schedule next charge", "payment_id", n.PaymentID, "user_id", n.UserID, "err", err)
		return fmt.Errorf("charge applied but next charge not scheduled: %w", err)
	}

	return nil
}

// RefuseRecurring marks the user as having opted out of recurring charges.
// The flag is terminal: pending jobs for the user are dropped when they
// come due.
func (s *PaymentService) RefuseRecurring(ctx context.Context, userID int64) error {
	if err := s.repomanager.Users(s.db).SetRefusePayment(ctx, userID, true); err != nil {
		return err
	}
	s.logger.Info(ctx, "recurring charges refused", "user_id", userID)
	return nil
}

// Start launches the job poller goroutine. Stop blocks until it exits.
func (s *PaymentService) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runDueJobs(ctx)
			}
		}
	}()
}

func (s *PaymentService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// runDueJobs claims and executes due charge jobs. A job is deleted once the
// charge request is accepted; a failed request leaves the job in place for
// the next poll.
func (s *PaymentService) runDueJobs(ctx context.Context) {
	jobRepo := s.repomanager.Jobs(s.db)

	due, err := jobRepo.Due(ctx, s.now(), duePollBatch)
	if err != nil {
		s.logger.Error(ctx, "due job query failed", "err", err)
		return
	}

	for _, job := range due {
		user, err := s.users.GetByID(ctx, job.UserID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				s.logger.Warn(ctx, "dropping charge job for missing user", "job_id", job.ID, "user_id", job.UserID)
				if err := jobRepo.Delete(ctx, job.ID); err != nil {
					s.logger.Error(ctx, "failed to delete orphaned job", "job_id", job.ID, "err", err)
				}
			} else {
				s.logger.Error(ctx, "user lookup failed for charge job", "job_id", job.ID, "err", err)
			}
			continue
		}

		if user.RefusePayment {
			s.logger.Info(ctx, "charge suppressed: user refused recurring payments", "job_id", job.ID, "user_id", job.UserID)
			if err := jobRepo.Delete(ctx, job.ID); err != nil {
				s.logger.Error(ctx, "failed to delete suppressed job", "job_id", job.ID, "err", err)
			}
			continue
		}

		paymentID, err := s.processor.CreateRecurringCharge(ctx, ChargeRequest{
			PaymentMethodRef: job.PaymentMethodRef,
			Amount:           job.Amount,
			Email:            job.Email,
			UserID:           job.UserID,
			DurationDays:     job.DurationDays,
		})
		if err != nil {
			s.logger.Error(ctx, "recurring charge failed, will retry", "job_id", job.ID, "user_id", job.UserID, "err", err)
			continue
		}

		if _, err := s.repomanager.Payments(s.db).Save(ctx, &models.Payment{
			UserID:       job.UserID,
			PaymentID:    paymentID,
			Status:       models.PaymentStatusNew,
			DurationDays: job.DurationDays,
			Amount:       job.Amount,
		}); err != nil {
			s.logger.Error(ctx, "failed to record initiated charge", "payment_id", paymentID, "err", err)
		}

		if err := jobRepo.Delete(ctx, job.ID); err != nil {
			s.logger.Error(ctx, "failed to delete completed job", "job_id", job.ID, "err", err)
			continue
		}

		s.logger.Info(ctx, "recurring charge initiated", "job_id", job.ID, "user_id", job.UserID, "payment_id", paymentID)
	}
}
