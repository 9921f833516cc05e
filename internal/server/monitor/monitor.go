// Package monitor runs the background reconciliation loop that converges
// each user's presence on their node with their entitlement.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

// statsInterval throttles the periodic user-count log line and gauge update.
const statsInterval = 60 * time.Second

// Reconciler is the slice of the user service the monitor drives.
type Reconciler interface {
	ProvisionCandidates(ctx context.Context) ([]*models.UserNode, error)
	DeprovisionCandidates(ctx context.Context) ([]*models.UserNode, error)
	EnsureProvisioned(ctx context.Context, un *models.UserNode) error
	EnsureDeprovisioned(ctx context.Context, un *models.UserNode) error
	EntitlementCounts(ctx context.Context) (active int, expired int, err error)
}

// Monitor ticks at a fixed interval and reconciles every user whose
// confirmed remote state disagrees with their entitlement. One user's
// failure never blocks the rest; a whole-tick failure backs off for one
// extra interval.
type Monitor struct {
	reconciler Reconciler
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     logging.Logger

	now       func() time.Time
	lastStats time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(reconciler Reconciler, interval time.Duration, m *metrics.Metrics, logger logging.Logger) *Monitor {
	return &Monitor{
		reconciler: reconciler,
		interval:   interval,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the loop and blocks until it exits.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	delay := m.interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-timer.C:
		}

		if err := m.tick(ctx); err != nil {
			m.metrics.ReconcileErrors.Inc()
			m.logger.Error(ctx, "reconciliation tick failed", "err", err)
			delay = 2 * m.interval
		} else {
			delay = m.interval
		}
		timer.Reset(delay)
	}
}

// tick runs one reconciliation pass. A panic in the pass is contained and
// reported as a tick error.
func (m *Monitor) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in reconciliation: %v", r)
		}
	}()

	m.metrics.ReconcileTicks.Inc()

	toProvision, err := m.reconciler.ProvisionCandidates(ctx)
	if err != nil {
		return fmt.Errorf("listing provision candidates: %w", err)
	}
	for _, un := range toProvision {
		if err := m.reconciler.EnsureProvisioned(ctx, un); err != nil {
			m.metrics.RemoteCallErrors.WithLabelValues("provision").Inc()
			m.logger.Warn(ctx, "provisioning failed, will retry",
				"email", un.User.Email, "node", un.Node.Name, "err", err)
			continue
		}
		m.metrics.Provisioned.Inc()
	}

	toDeprovision, err := m.reconciler.DeprovisionCandidates(ctx)
	if err != nil {
		return fmt.Errorf("listing deprovision candidates: %w", err)
	}
	for _, un := range toDeprovision {
		if err := m.reconciler.EnsureDeprovisioned(ctx, un); err != nil {
			m.metrics.RemoteCallErrors.WithLabelValues("deprovision").Inc()
			m.logger.Warn(ctx, "deprovisioning failed, will retry",
				"email", un.User.Email, "node", un.Node.Name, "err", err)
			continue
		}
		m.metrics.Deprovisioned.Inc()
	}

	m.maybeLogStats(ctx)
	return nil
}

func (m *Monitor) maybeLogStats(ctx context.Context) {
	now := m.now()
	if now.Sub(m.lastStats) < statsInterval {
		return
	}
	m.lastStats = now

	active, expired, err := m.reconciler.EntitlementCounts(ctx)
	if err != nil {
		m.logger.Warn(ctx, "user count query failed", "err", err)
		return
	}
	m.metrics.ActiveUsers.Set(float64(active))
	m.metrics.ExpiredUsers.Set(float64(expired))
	m.logger.Info(ctx, "user stats", "active", active, "expired", expired)
}
