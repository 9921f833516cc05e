package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/provision"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/activity"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/nodes"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/payments"
	usersrepo "github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/vouchers"
	"github.com/stretchr/testify/require"
)

// newTestDB returns an in-memory database used only for transaction
// bracketing; the fake repositories never touch it.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}
func (l noopLogger) With(...any) logging.Logger          { return l }

// --- fake repositories -----------------------------------------------------

type fakeUsersRepo struct {
	byID   map[int64]*models.User
	nextID int64

	createErr error
	// collisions makes the first N Create calls fail with ErrRoutingCollision.
	collisions int
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[int64]*models.User{}, nextID: 1}
}

func (r *fakeUsersRepo) add(u *models.User) *models.User {
	u.ID = r.nextID
	r.nextID++
	r.byID[u.ID] = u
	return u
}

func (r *fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if r.collisions > 0 {
		r.collisions--
		return nil, usersrepo.ErrRoutingCollision
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	for _, existing := range r.byID {
		if existing.ExternalID == user.ExternalID {
			return nil, common.ErrAlreadyRegistered
		}
	}
	clone := *user
	return r.add(&clone), nil
}

func (r *fakeUsersRepo) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	for _, u := range r.byID {
		if u.ExternalID == externalID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeUsersRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUsersRepo) UpdateEntitlementEnd(ctx context.Context, id int64, end time.Time) error {
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.EntitlementEnd = end
	return nil
}

func (r *fakeUsersRepo) ExtendEntitlement(ctx context.Context, id int64, additional time.Duration, now time.Time) (time.Time, error) {
	u, ok := r.byID[id]
	if !ok {
		return time.Time{}, common.ErrNotFound
	}
	base := u.EntitlementEnd
	if base.Before(now) {
		base = now
	}
	u.EntitlementEnd = base.Add(additional)
	return u.EntitlementEnd, nil
}

func (r *fakeUsersRepo) SetRemoteState(ctx context.Context, id int64, state models.RemoteState) error {
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.RemoteState = state
	return nil
}

func (r *fakeUsersRepo) SetRefusePayment(ctx context.Context, id int64, refuse bool) error {
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.RefusePayment = refuse
	return nil
}

func (r *fakeUsersRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.byID[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeUsersRepo) ListProvisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error) {
	return nil, nil
}

func (r *fakeUsersRepo) ListDeprovisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error) {
	return nil, nil
}

func (r *fakeUsersRepo) CountByEntitlement(ctx context.Context, now time.Time) (int, int, error) {
	active, expired := 0, 0
	for _, u := range r.byID {
		if u.IsEntitled(now) {
			active++
		} else {
			expired++
		}
	}
	return active, expired, nil
}

type fakeNodesRepo struct {
	occupancies []*models.NodeOccupancy
	byID        map[int64]*models.Node
	assigned    map[int64]int
}

func newFakeNodesRepo() *fakeNodesRepo {
	return &fakeNodesRepo{byID: map[int64]*models.Node{}, assigned: map[int64]int{}}
}

func (r *fakeNodesRepo) Create(ctx context.Context, node *models.Node) (*models.Node, error) {
	clone := *node
	clone.ID = int64(len(r.byID) + 1)
	r.byID[clone.ID] = &clone
	return &clone, nil
}

func (r *fakeNodesRepo) GetByID(ctx context.Context, id int64) (*models.Node, error) {
	n, ok := r.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (r *fakeNodesRepo) List(ctx context.Context, onlyEnabled bool) ([]*models.Node, error) {
	var result []*models.Node
	for _, occ := range r.occupancies {
		if !onlyEnabled || occ.Node.Enabled {
			node := occ.Node
			result = append(result, &node)
		}
	}
	return result, nil
}

func (r *fakeNodesRepo) ListEnabledWithOccupancy(ctx context.Context) ([]*models.NodeOccupancy, error) {
	return r.occupancies, nil
}

func (r *fakeNodesRepo) Update(ctx context.Context, node *models.Node) error {
	if _, ok := r.byID[node.ID]; !ok {
		return common.ErrNotFound
	}
	clone := *node
	r.byID[node.ID] = &clone
	return nil
}

func (r *fakeNodesRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.byID[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeNodesRepo) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	n, ok := r.byID[id]
	if !ok {
		return false, common.ErrNotFound
	}
	n.Enabled = !n.Enabled
	return n.Enabled, nil
}

func (r *fakeNodesRepo) CountAssigned(ctx context.Context, id int64) (int, error) {
	return r.assigned[id], nil
}

type fakeVouchersRepo struct {
	byCode      map[string]*models.Voucher
	activations map[[2]int64]bool
	nextID      int64
}

func newFakeVouchersRepo() *fakeVouchersRepo {
	return &fakeVouchersRepo{byCode: map[string]*models.Voucher{}, activations: map[[2]int64]bool{}, nextID: 1}
}

func (r *fakeVouchersRepo) put(v *models.Voucher) *models.Voucher {
	v.ID = r.nextID
	r.nextID++
	r.byCode[v.Code] = v
	return v
}

func (r *fakeVouchersRepo) Create(ctx context.Context, voucher *models.Voucher) (*models.Voucher, error) {
	if _, ok := r.byCode[voucher.Code]; ok {
		return nil, common.ErrDuplicateCode
	}
	clone := *voucher
	clone.Enabled = true
	return r.put(&clone), nil
}

func (r *fakeVouchersRepo) GetEnabledByCode(ctx context.Context, code string) (*models.Voucher, error) {
	v, ok := r.byCode[code]
	if !ok || !v.Enabled {
		return nil, common.ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (r *fakeVouchersRepo) GetByID(ctx context.Context, id int64) (*models.Voucher, error) {
	for _, v := range r.byCode {
		if v.ID == id {
			clone := *v
			return &clone, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeVouchersRepo) List(ctx context.Context, onlyRedeemable bool) ([]*models.Voucher, error) {
	var result []*models.Voucher
	for _, v := range r.byCode {
		if !onlyRedeemable || (v.Enabled && v.Remaining() > 0) {
			clone := *v
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeVouchersRepo) IncrementActivations(ctx context.Context, id int64) (bool, error) {
	for _, v := range r.byCode {
		if v.ID == id {
			if v.Activations >= v.MaxActivations {
				return false, nil
			}
			v.Activations++
			return true, nil
		}
	}
	return false, common.ErrNotFound
}

func (r *fakeVouchersRepo) ActivationExists(ctx context.Context, voucherID, userID int64) (bool, error) {
	return r.activations[[2]int64{voucherID, userID}], nil
}

func (r *fakeVouchersRepo) InsertActivation(ctx context.Context, voucherID, userID int64) error {
	key := [2]int64{voucherID, userID}
	if r.activations[key] {
		return common.ErrAlreadyRedeemed
	}
	r.activations[key] = true
	return nil
}

func (r *fakeVouchersRepo) DeleteActivations(ctx context.Context, voucherID int64) error {
	for key := range r.activations {
		if key[0] == voucherID {
			delete(r.activations, key)
		}
	}
	return nil
}

func (r *fakeVouchersRepo) DeleteActivationsForUser(ctx context.Context, userID int64) error {
	for key := range r.activations {
		if key[1] == userID {
			delete(r.activations, key)
		}
	}
	return nil
}

func (r *fakeVouchersRepo) Delete(ctx context.Context, id int64) error {
	for code, v := range r.byCode {
		if v.ID == id {
			delete(r.byCode, code)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeVouchersRepo) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	for _, v := range r.byCode {
		if v.ID == id {
			v.Enabled = !v.Enabled
			return v.Enabled, nil
		}
	}
	return false, common.ErrNotFound
}

func (r *fakeVouchersRepo) HistoryForUser(ctx context.Context, userID int64) ([]*models.VoucherRedemption, error) {
	return nil, nil
}

type fakeActivityRepo struct {
	entries []*models.ActivityEntry
}

func (r *fakeActivityRepo) Append(ctx context.Context, userID int64, action, details string) error {
	r.entries = append(r.entries, &models.ActivityEntry{UserID: userID, Action: action, Details: details})
	return nil
}

func (r *fakeActivityRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.ActivityEntry, error) {
	var result []*models.ActivityEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *fakeActivityRepo) DeleteForUser(ctx context.Context, userID int64) error {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return nil
}

type fakePaymentsRepo struct {
	byPaymentID map[string]*models.Payment
}

func newFakePaymentsRepo() *fakePaymentsRepo {
	return &fakePaymentsRepo{byPaymentID: map[string]*models.Payment{}}
}

func (r *fakePaymentsRepo) Save(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if existing, ok := r.byPaymentID[payment.PaymentID]; ok {
		existing.Status = payment.Status
		clone := *existing
		return &clone, nil
	}
	clone := *payment
	clone.ID = int64(len(r.byPaymentID) + 1)
	r.byPaymentID[payment.PaymentID] = &clone
	out := clone
	return &out, nil
}

func (r *fakePaymentsRepo) SaveSucceeded(ctx context.Context, payment *models.Payment) (bool, error) {
	if existing, ok := r.byPaymentID[payment.PaymentID]; ok {
		if existing.Status == models.PaymentStatusSucceeded {
			return false, nil
		}
		existing.Status = models.PaymentStatusSucceeded
		return true, nil
	}
	clone := *payment
	clone.Status = models.PaymentStatusSucceeded
	clone.ID = int64(len(r.byPaymentID) + 1)
	r.byPaymentID[payment.PaymentID] = &clone
	return true, nil
}

func (r *fakePaymentsRepo) DeleteForUser(ctx context.Context, userID int64) error {
	for id, p := range r.byPaymentID {
		if p.UserID == userID {
			delete(r.byPaymentID, id)
		}
	}
	return nil
}

func (r *fakePaymentsRepo) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, ok := r.byPaymentID[paymentID]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePaymentsRepo) UpdateStatus(ctx context.Context, paymentID, status string) error {
	p, ok := r.byPaymentID[paymentID]
	if !ok {
		return common.ErrNotFound
	}
	p.Status = status
	return nil
}

type fakeJobsRepo struct {
	jobs        []*models.ChargeJob
	nextID      int64
	scheduleErr error
}

func newFakeJobsRepo() *fakeJobsRepo {
	return &fakeJobsRepo{nextID: 1}
}

func (r *fakeJobsRepo) Schedule(ctx context.Context, job *models.ChargeJob) (*models.ChargeJob, error) {
	if r.scheduleErr != nil {
		return nil, r.scheduleErr
	}
	clone := *job
	clone.ID = r.nextID
	r.nextID++
	r.jobs = append(r.jobs, &clone)
	out := clone
	return &out, nil
}

func (r *fakeJobsRepo) Due(ctx context.Context, now time.Time, limit int) ([]*models.ChargeJob, error) {
	var result []*models.ChargeJob
	for _, j := range r.jobs {
		if !j.RunAt.After(now) {
			clone := *j
			result = append(result, &clone)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (r *fakeJobsRepo) Delete(ctx context.Context, id int64) error {
	for i, j := range r.jobs {
		if j.ID == id {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeJobsRepo) DeleteForUser(ctx context.Context, userID int64) error {
	kept := r.jobs[:0]
	for _, j := range r.jobs {
		if j.UserID != userID {
			kept = append(kept, j)
		}
	}
	r.jobs = kept
	return nil
}

// fakeRepoManager vends the same fake repositories regardless of the handle,
// so code running inside dbx.WithTx sees the same state as code outside.
type fakeRepoManager struct {
	users    *fakeUsersRepo
	nodes    *fakeNodesRepo
	vouchers *fakeVouchersRepo
	activity *fakeActivityRepo
	payments *fakePaymentsRepo
	jobs     *fakeJobsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:    newFakeUsersRepo(),
		nodes:    newFakeNodesRepo(),
		vouchers: newFakeVouchersRepo(),
		activity: &fakeActivityRepo{},
		payments: newFakePaymentsRepo(),
		jobs:     newFakeJobsRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.users }
func (m *fakeRepoManager) Nodes(dbx.DBTX) nodes.Repository                     { return m.nodes }
func (m *fakeRepoManager) Vouchers(dbx.DBTX) vouchers.Repository               { return m.vouchers }
func (m *fakeRepoManager) Activity(dbx.DBTX) activity.Repository               { return m.activity }
func (m *fakeRepoManager) Payments(dbx.DBTX) payments.Repository               { return m.payments }
func (m *fakeRepoManager) Jobs(dbx.DBTX) jobs.Repository                       { return m.jobs }

// --- fake provisioner ------------------------------------------------------

type fakeProvisioner struct {
	// records holds credentials the fake node knows about.
	records map[string]*provision.Record

	addErr    error
	getErr    error
	removeErr error
	removeAck bool

	addCalls    int
	getCalls    int
	removeCalls int
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{records: map[string]*provision.Record{}, removeAck: true}
}

func (p *fakeProvisioner) AddUser(ctx context.Context, node *models.Node, credential, email string) (*provision.Record, error) {
	p.addCalls++
	if p.addErr != nil {
		return nil, p.addErr
	}
	rec := &provision.Record{ID: credential, Email: email, LinkXTLS: "vless://" + credential}
	p.records[credential] = rec
	return rec, nil
}

func (p *fakeProvisioner) GetUser(ctx context.Context, node *models.Node, credential string) (*provision.Record, error) {
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.records[credential], nil
}

func (p *fakeProvisioner) RemoveUser(ctx context.Context, node *models.Node, credential string) (bool, error) {
	p.removeCalls++
	if p.removeErr != nil {
		return false, p.removeErr
	}
	delete(p.records, credential)
	return p.removeAck, nil
}

func (p *fakeProvisioner) ProbeStatus(ctx context.Context, node *models.Node) provision.StatusResult {
	return provision.StatusResult{State: provision.ProbeOnline}
}
