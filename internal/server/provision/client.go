// Package provision implements the thin HTTP client for a node's
// provisioning API. All calls are bounded by the configured timeout and
// report failures as values; retry policy belongs to the caller (normally
// the next reconciliation tick).
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

const (
	apiTokenHeader = "X-API-Token"

	// Transport profile requested for created clients.
	defaultFlow = "xtls-rprx-vision"
)

// Record is a node's view of one provisioned client. The link fields carry
// ready-to-use connection descriptors; not every node fills every field.
type Record struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	LinkXTLS string `json:"link_xtls"`
	LinkWS   string `json:"link_ws"`
	Link     string `json:"link"`
}

// ConnectionLink returns the preferred connection descriptor, or "" if the
// record carries none.
func (r *Record) ConnectionLink() string {
	switch {
	case r.LinkXTLS != "":
		return r.LinkXTLS
	case r.LinkWS != "":
		return r.LinkWS
	default:
		return r.Link
	}
}

// ProbeState classifies the outcome of a status probe.
type ProbeState string

const (
	ProbeOnline        ProbeState = "online"
	ProbeUnreachable   ProbeState = "unreachable"
	ProbeTimeout       ProbeState = "timeout"
	ProbeProtocolError ProbeState = "protocol_error"
)

// StatusResult is the tagged result of a status probe. Probing never returns
// an error: every failure mode is folded into the State field.
type StatusResult struct {
	State   ProbeState
	Payload json.RawMessage // set when State == ProbeOnline
	Code    int             // HTTP status, set when State == ProbeProtocolError
}

type Client struct {
	http    *http.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// ProbeStatus issues a bounded read call to the node's status endpoint and
// classifies the outcome.
func (c *Client) ProbeStatus(ctx context.Context, node *models.Node) StatusResult {
	req, err := c.newRequest(ctx, http.MethodGet, node, "/status", nil)
	if err != nil {
		return StatusResult{State: ProbeUnreachable}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return StatusResult{State: ProbeTimeout}
		}
		return StatusResult{State: ProbeUnreachable}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{State: ProbeProtocolError, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusResult{State: ProbeUnreachable}
	}
	return StatusResult{State: ProbeOnline, Payload: body}
}

// AddUser asks the node to create a client identity for the given credential
// and routing email. The call is idempotent on the node side: re-adding an
// existing credential returns the existing record.
func (c *Client) AddUser(ctx context.Context, node *models.Node, credential, email string) (*Record, error) {
	payload, err := json.Marshal(map[string]string{
		"id":    credential,
		"email": email,
		"flow":  defaultFlow,
	})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, node, "/clients", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", common.ErrRemoteProtocol, resp.StatusCode)
	}

	record := &Record{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteProtocol, err)
	}
	return record, nil
}

// GetUser looks up a client on the node. Absence is a valid negative result
// reported as (nil, nil); only transport and protocol failures are errors.
func (c *Client) GetUser(ctx context.Context, node *models.Node, credential string) (*Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, node, "/clients/"+credential, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", common.ErrRemoteProtocol, resp.StatusCode)
	}

	record := &Record{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteProtocol, err)
	}
	return record, nil
}

// RemoveUser asks the node to delete a client. The bool reports whether the
// node acknowledged the deletion; an already-absent client counts as
// acknowledged.
func (c *Client) RemoveUser(ctx context.Context, node *models.Node, credential string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, node, "/clients/"+credential, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNoContent,
		resp.StatusCode == http.StatusNotFound:
		return true, nil
	default:
		return false, fmt.Errorf("%w: status %d", common.ErrRemoteProtocol, resp.StatusCode)
	}
}

func (c *Client) newRequest(ctx context.Context, method string, node *models.Node, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, node.APIURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiTokenHeader, node.APIToken)
	return req, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
