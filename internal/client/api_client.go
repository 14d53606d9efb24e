// Package client talks to a bondings daemon over its HTTP API, signing
// write requests with the caller's wallet.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/ledger"
	"github.com/bondings/bondings/internal/policy"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// APIClient communicates with the bondings HTTP API. Reads are anonymous;
// writes need a signer.
type APIClient struct {
	baseURL    string
	signer     AuthSigner
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL. signer may be nil for
// read-only use.
func NewAPIClient(baseURL string, signer AuthSigner) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		signer:  signer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do performs an HTTP request and decodes the JSON response into out.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any, signed bool) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		if c.signer == nil {
			return fmt.Errorf("%s %s requires a wallet", method, path)
		}
		addr, sig, msg, err := SignAuth(c.signer, time.Now())
		if err != nil {
			return err
		}
		req.Header.Set(api.HeaderWalletAddress, addr)
		req.Header.Set(api.HeaderWalletSignature, sig)
		req.Header.Set(api.HeaderWalletMessage, msg)
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
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Code = errResp.Code
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Health checks that the daemon is serving.
func (c *APIClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, false)
}

// List returns every bonding in launch order.
func (c *APIClient) List(ctx context.Context) ([]*ledger.Bonding, error) {
	var resp struct {
		Bondings []*ledger.Bonding `json:"bondings"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/bondings", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Bondings, nil
}

// Bonding returns one bonding by name.
func (c *APIClient) Bonding(ctx context.Context, name string) (*ledger.Bonding, error) {
	var b ledger.Bonding
	if err := c.do(ctx, http.MethodGet, "/v1/bondings/"+url.PathEscape(name), nil, &b, false); err != nil {
		return nil, err
	}
	return &b, nil
}

// Share returns account's balance of name.
func (c *APIClient) Share(ctx context.Context, name string, account common.Address) (*api.ShareResponse, error) {
	var resp api.ShareResponse
	path := "/v1/bondings/" + url.PathEscape(name) + "/shares/" + account.Hex()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Quote prices a trade of amount shares against name's current supply.
func (c *APIClient) Quote(ctx context.Context, name string, side ledger.Side, amount uint64) (*ledger.Quote, error) {
	q := url.Values{}
	q.Set("side", string(side))
	q.Set("amount", strconv.FormatUint(amount, 10))

	var resp ledger.Quote
	path := "/v1/bondings/" + url.PathEscape(name) + "/quote?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Launch registers a bonding. The signature comes from the trusted signer.
func (c *APIClient) Launch(ctx context.Context, req *api.LaunchRequest) (*api.LaunchResponse, error) {
	var resp api.LaunchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/bondings", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Buy purchases amount shares, paying at most maxPaymentIn (nil for no bound).
func (c *APIClient) Buy(ctx context.Context, name string, amount uint64, maxPaymentIn *big.Int) (*ledger.Receipt, error) {
	return c.trade(ctx, name, "buy", amount, maxPaymentIn)
}

// Sell redeems amount shares for at least minPaymentOut (nil for no bound).
func (c *APIClient) Sell(ctx context.Context, name string, amount uint64, minPaymentOut *big.Int) (*ledger.Receipt, error) {
	return c.trade(ctx, name, "sell", amount, minPaymentOut)
}

func (c *APIClient) trade(ctx context.Context, name, side string, amount uint64, limit *big.Int) (*ledger.Receipt, error) {
	var rc ledger.Receipt
	path := "/v1/bondings/" + url.PathEscape(name) + "/" + side
	if err := c.do(ctx, http.MethodPost, path, api.TradeRequest{Amount: amount, Limit: limit}, &rc, true); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Transfer moves shares to another account. Only allowed in stage 3.
func (c *APIClient) Transfer(ctx context.Context, name string, to common.Address, amount uint64) (*api.TransferResponse, error) {
	var resp api.TransferResponse
	path := "/v1/bondings/" + url.PathEscape(name) + "/transfer"
	if err := c.do(ctx, http.MethodPost, path, api.TransferRequest{To: to.Hex(), Amount: amount}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retrieve settles a stage 3 bonding. Operators only.
func (c *APIClient) Retrieve(ctx context.Context, name string) (*ledger.Settlement, error) {
	var st ledger.Settlement
	path := "/v1/bondings/" + url.PathEscape(name) + "/retrieve"
	if err := c.do(ctx, http.MethodPost, path, nil, &st, true); err != nil {
		return nil, err
	}
	return &st, nil
}

// Policy returns the current admin policy.
func (c *APIClient) Policy(ctx context.Context) (*policy.Policy, error) {
	var p policy.Policy
	if err := c.do(ctx, http.MethodGet, "/v1/admin/policy", nil, &p, false); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePolicy applies an admin patch and returns the resulting policy.
func (c *APIClient) UpdatePolicy(ctx context.Context, req *api.PolicyUpdateRequest) (*policy.Policy, error) {
	var p policy.Policy
	if err := c.do(ctx, http.MethodPost, "/v1/admin/policy", req, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetOperator grants or revokes settlement rights.
func (c *APIClient) SetOperator(ctx context.Context, operator common.Address, enabled bool) ([]common.Address, error) {
	var resp struct {
		Operators []common.Address `json:"operators"`
	}
	req := api.OperatorRequest{Operator: operator.Hex(), Enabled: enabled}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/operators", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Operators, nil
}
