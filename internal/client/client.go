// Package client talks to a relay node's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/modlnet/modl/internal/api"
	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/template"
	"github.com/modlnet/modl/internal/util"
)

// DefaultBaseURL matches the node's default listen address.
const DefaultBaseURL = "http://127.0.0.1:8645"

// APIError is a non-2xx response. Code and Kind are set when the node
// rejected the request on ledger grounds.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Kind       string
	RetryAfter *time.Time
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// retryable reports whether a status is worth trying again.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// Client calls one node. It is safe for concurrent use.
type Client struct {
	baseURL    string
	adminToken string
	address    common.Address
	httpClient *http.Client
	retry      *util.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithAdminToken sets the bearer token for /v1/admin routes.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// WithAddress names the account requests are made for, which selects the
// node's rate limit tier.
func WithAddress(addr common.Address) Option {
	return func(c *Client) { c.address = addr }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for idempotent requests. Nil disables
// retries.
func WithRetry(cfg *util.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for the node at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: util.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the node URL.
func (c *Client) BaseURL() string { return c.baseURL }

// do performs a request and decodes the JSON response into out. GETs are
// retried on transport errors, 429 and 5xx; everything else is sent once
// since a relay that reached the ledger must not be resubmitted.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	attempt := func() error { return c.once(ctx, method, path, payload, out) }
	if method != http.MethodGet || c.retry == nil {
		return attempt()
	}
	return util.Retry(ctx, c.retry, attempt).LastError
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return util.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.address != (common.Address{}) {
		req.Header.Set(api.AddressHeader, c.address.Hex())
	}
	if c.adminToken != "" && strings.HasPrefix(path, "/v1/admin/") {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Code = errResp.Code
			apiErr.Kind = errResp.Kind
			apiErr.RetryAfter = errResp.RetryAfter
		}
		if retryable(resp.StatusCode) {
			return apiErr
		}
		return util.Permanent(apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return util.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return unwrap(c.do(ctx, http.MethodGet, path, nil, out))
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return unwrap(c.do(ctx, http.MethodPost, path, body, out))
}

// unwrap strips the retry marker so callers see the APIError itself.
func unwrap(err error) error {
	if err == nil || !util.IsPermanent(err) {
		return err
	}
	return errors.Unwrap(err)
}

// Health returns the node's health check response. A degraded node still
// answers 200; an unhealthy one is reported as a 503 APIError.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the node summary.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get(ctx, "/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelayConfig returns what a request must carry to be relayed.
func (c *Client) RelayConfig(ctx context.Context) (*api.RelayConfigResponse, error) {
	var resp api.RelayConfigResponse
	if err := c.get(ctx, "/v1/relay/config", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Nonce returns the next forwarder nonce for addr.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var resp api.NonceResponse
	if err := c.get(ctx, "/v1/relay/nonce/"+addr.Hex(), &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

// Relay submits a signed request.
func (c *Client) Relay(ctx context.Context, body *api.RelayBody) (*api.RelayResponse, error) {
	var resp api.RelayResponse
	if err := c.post(ctx, "/v1/relay", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send builds, signs and relays call for signer using the node's current
// configuration and the signer's next nonce.
func (c *Client) Send(ctx context.Context, signer *Signer, call Call) (*api.RelayResponse, error) {
	cfg, err := c.RelayConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relay config: %w", err)
	}
	nonce, err := c.Nonce(ctx, signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	req := signer.Build(cfg, nonce, call)
	sig, err := signer.Sign(cfg.DomainSeparator, req)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return c.Relay(ctx, &api.RelayBody{Request: *req, Signature: sig})
}

// HubBalance returns acct's deposit at the relay hub.
func (c *Client) HubBalance(ctx context.Context, acct common.Address) (*big.Int, error) {
	var resp api.BalanceResponse
	if err := c.get(ctx, "/v1/hub/balance/"+acct.Hex(), &resp); err != nil {
		return nil, err
	}
	return resp.Balance, nil
}

// Stake returns a relay manager's stake.
func (c *Client) Stake(ctx context.Context, manager common.Address) (*api.StakeResponse, error) {
	var resp api.StakeResponse
	if err := c.get(ctx, "/v1/stake/"+manager.Hex(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tier returns addr's tier standing.
func (c *Client) Tier(ctx context.Context, addr common.Address) (*api.TierResponse, error) {
	var resp api.TierResponse
	if err := c.get(ctx, "/v1/tier/"+addr.Hex(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PaymasterAccount returns addr's paymaster deposit.
func (c *Client) PaymasterAccount(ctx context.Context, addr common.Address) (*api.PaymasterAccountResponse, error) {
	var resp api.PaymasterAccountResponse
	if err := c.get(ctx, "/v1/paymaster/"+addr.Hex(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditTemplates lists the templates with at least one audit.
func (c *Client) AuditTemplates(ctx context.Context) ([]common.Hash, error) {
	var resp struct {
		Templates []common.Hash `json:"templates"`
	}
	if err := c.get(ctx, "/v1/audits", &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// Audits lists a template's audits.
func (c *Client) Audits(ctx context.Context, templateID common.Hash) ([]audit.Audit, error) {
	var resp api.AuditsResponse
	if err := c.get(ctx, "/v1/audits/"+templateID.Hex(), &resp); err != nil {
		return nil, err
	}
	return resp.Audits, nil
}

// Audit returns one audit.
func (c *Client) Audit(ctx context.Context, templateID common.Hash, index int) (*audit.Audit, error) {
	var resp audit.Audit
	if err := c.get(ctx, "/v1/audits/"+templateID.Hex()+"/"+strconv.Itoa(index), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Templates lists the template catalog.
func (c *Client) Templates(ctx context.Context) ([]template.Template, error) {
	var resp api.TemplatesResponse
	if err := c.get(ctx, "/v1/templates", &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// Template returns one catalog entry.
func (c *Client) Template(ctx context.Context, id common.Hash) (*template.Template, error) {
	var resp template.Template
	if err := c.get(ctx, "/v1/templates/"+id.Hex(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Projects lists owner's projects with their modules.
func (c *Client) Projects(ctx context.Context, owner common.Address) ([]api.ProjectView, error) {
	var resp api.ProjectsResponse
	if err := c.get(ctx, "/v1/projects/"+owner.Hex(), &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// Event is one logged ledger event. Data is left encoded since its shape
// depends on Name.
type Event struct {
	Block uint64          `json:"block"`
	Time  time.Time       `json:"time"`
	Index int             `json:"index"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventPage is one page of the event log.
type EventPage struct {
	Events []Event `json:"events"`
	Next   int     `json:"next"`
}

// Events returns up to limit events starting at index from. A limit of
// zero uses the node's default page size.
func (c *Client) Events(ctx context.Context, from, limit int) (*EventPage, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page EventPage
	if err := c.get(ctx, "/v1/events?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AdvanceTime moves the node's clock forward and returns the new time.
func (c *Client) AdvanceTime(ctx context.Context, d time.Duration) (time.Time, error) {
	var resp struct {
		Now time.Time `json:"now"`
	}
	if err := c.post(ctx, "/v1/admin/time/advance", api.AdvanceTimeBody{Duration: d.String()}, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Now, nil
}

// SweepRevenue moves the paymaster's revenue to the fee manager.
func (c *Client) SweepRevenue(ctx context.Context) (*big.Int, error) {
	var resp struct {
		Swept *big.Int `json:"swept"`
	}
	if err := c.post(ctx, "/v1/admin/revenue/sweep", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Swept, nil
}

// Metrics returns the node's request and relay counters.
func (c *Client) Metrics(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.get(ctx, "/v1/admin/metrics", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
