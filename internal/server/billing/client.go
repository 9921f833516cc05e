// Package billing is the HTTP client for the external payment processor's
// recurring charge API.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/services"
)

// Client posts recurring charge requests to the processor. It implements
// services.Processor.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	PaymentMethodID string            `json:"payment_method_id"`
	Amount          chargeAmount      `json:"amount"`
	Capture         bool              `json:"capture"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata"`
}

type chargeAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateRecurringCharge charges a previously saved payment method and
// returns the processor's payment id. The charge outcome itself arrives
// later via webhook.
func (c *Client) CreateRecurringCharge(ctx context.Context, req services.ChargeRequest) (string, error) {
	body := chargeRequest{
		PaymentMethodID: req.PaymentMethodRef,
		Amount:          chargeAmount{Value: strconv.FormatFloat(req.Amount, 'f', 2, 64), Currency: "RUB"},
		Capture:         true,
		Description:     fmt.Sprintf("Subscription renewal, %d days", req.DurationDays),
		Metadata: map[string]string{
			"user_id":       strconv.FormatInt(req.UserID, 10),
			"email":         req.Email,
			"duration_days": strconv.Itoa(req.DurationDays),
		},
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	// Lets the processor deduplicate retried requests.
	httpReq.Header.Set("Idempotence-Key", req.PaymentMethodRef+"-"+strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: processor returned %d", common.ErrRemoteProtocol, resp.StatusCode)
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrRemoteProtocol, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: response missing payment id", common.ErrRemoteProtocol)
	}
	return out.ID, nil
}
