package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/services"
)

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}
func (l noopLogger) With(...any) logging.Logger          { return l }

type fakePayments struct {
	notification *services.ChargeNotification
	refusedUser  int64
	err          error
}

func (f *fakePayments) HandleChargeNotification(ctx context.Context, n *services.ChargeNotification) error {
	f.notification = n
	return f.err
}

func (f *fakePayments) RefuseRecurring(ctx context.Context, userID int64) error {
	f.refusedUser = userID
	return f.err
}

func newTestRouter() (*fakePayments, http.Handler) {
	payments := &fakePayments{}
	router := NewRouter(payments, prometheus.NewRegistry(), noopLogger{})
	return payments, router.Engine()
}

const webhookBody = `{
	"event": "payment.succeeded",
	"object": {
		"id": "pmt-1",
		"status": "succeeded",
		"amount": {"value": "199.00"},
		"metadata": {
			"is_trial": "false",
			"user_id": "42",
			"email": "buyer@example.com",
			"duration_days": "30",
			"next_amount": "249.00"
		}
	}
}`

func TestRouter_Webhook(t *testing.T) {
	t.Run("parses payload into notification", func(t *testing.T) {
		payments, engine := newTestRouter()

		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(webhookBody))
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		n := payments.notification
		require.NotNil(t, n)
		assert.Equal(t, "pmt-1", n.PaymentID)
		assert.Equal(t, "succeeded", n.Status)
		assert.Equal(t, 199.0, n.Amount)
		assert.Equal(t, int64(42), n.UserID)
		assert.Equal(t, 30, n.DurationDays)
		assert.Equal(t, 249.0, n.NextAmount)
		assert.False(t, n.IsTrial)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, engine := newTestRouter()

		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparsable metadata", func(t *testing.T) {
		payments, engine := newTestRouter()

		body := strings.Replace(webhookBody, `"user_id": "42"`, `"user_id": "abc"`, 1)
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, payments.notification)
	})

	t.Run("processing failure returns 500 for redelivery", func(t *testing.T) {
		payments, engine := newTestRouter()
		payments.err = errors.New("db down")

		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(webhookBody))
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRouter_RefuseRecurring(t *testing.T) {
	t.Run("valid user id", func(t *testing.T) {
		payments, engine := newTestRouter()

		req := httptest.NewRequest(http.MethodGet, "/api/payments/refuse-recurrent/42", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(42), payments.refusedUser)
	})

	t.Run("malformed user id", func(t *testing.T) {
		_, engine := newTestRouter()

		req := httptest.NewRequest(http.MethodGet, "/api/payments/refuse-recurrent/abc", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	_, engine := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	_, engine := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
