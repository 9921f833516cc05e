package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/services"
)

func chargeReq() services.ChargeRequest {
	return services.ChargeRequest{
		PaymentMethodRef: "pmt-1",
		Amount:           199,
		Email:            "buyer@example.com",
		UserID:           42,
		DurationDays:     30,
	}
}

func TestClient_CreateRecurringCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("posts charge and returns payment id", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(map[string]string{"id": "pmt-2", "status": "pending"})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok", time.Second)
		paymentID, err := client.CreateRecurringCharge(ctx, chargeReq())
		require.NoError(t, err)
		assert.Equal(t, "pmt-2", paymentID)

		assert.Equal(t, "pmt-1", got["payment_method_id"])
		amount := got["amount"].(map[string]any)
		assert.Equal(t, "199.00", amount["value"])
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", "tok", 200*time.Millisecond)
		_, err := client.CreateRecurringCharge(ctx, chargeReq())
		assert.ErrorIs(t, err, common.ErrRemoteUnavailable)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok", time.Second)
		_, err := client.CreateRecurringCharge(ctx, chargeReq())
		assert.ErrorIs(t, err, common.ErrRemoteProtocol)
	})

	t.Run("missing payment id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"pending"}`))
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok", time.Second)
		_, err := client.CreateRecurringCharge(ctx, chargeReq())
		assert.ErrorIs(t, err, common.ErrRemoteProtocol)
	})
}
