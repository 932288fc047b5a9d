package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CustodyClient talks to an external custody service over HTTP. The
// service moves tokens between accounts and reports balances.
type CustodyClient struct {
	baseURL    string
	httpClient *http.Client
}

// Ensure CustodyClient implements AssetCustody
var _ AssetCustody = (*CustodyClient)(nil)

// NewCustodyClient creates a client for the custody service at baseURL.
func NewCustodyClient(baseURL string) *CustodyClient {
	return &CustodyClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transferRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type transferResponse struct {
	Error string `json:"error,omitempty"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// PullFrom moves amount of token from owner into the engine's custody.
func (c *CustodyClient) PullFrom(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	return c.transfer(ctx, "/pull", token, owner, amount)
}

// PushTo moves amount of token from the engine's custody to recipient.
func (c *CustodyClient) PushTo(ctx context.Context, token, recipient common.Address, amount *big.Int) error {
	return c.transfer(ctx, "/push", token, recipient, amount)
}

// ApproveSpender allows spender to draw up to amount of token from the
// engine's custody.
func (c *CustodyClient) ApproveSpender(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return c.transfer(ctx, "/approve", token, spender, amount)
}

// BalanceOf reports the token balance held for account.
func (c *CustodyClient) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	req := transferRequest{
		Token:   token.Hex(),
		Account: account.Hex(),
	}

	var resp balanceResponse
	if err := c.post(ctx, "/balance", req, &resp); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("custody: bad balance response: %q", resp.Balance)
	}
	return balance, nil
}

func (c *CustodyClient) transfer(ctx context.Context, path string, token, account common.Address, amount *big.Int) error {
	req := transferRequest{
		Token:   token.Hex(),
		Account: account.Hex(),
		Amount:  amount.String(),
	}

	var resp transferResponse
	if err := c.post(ctx, path, req, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("custody: %s rejected: %s", path, resp.Error)
	}
	return nil
}

func (c *CustodyClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("custody: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("custody: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("custody: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("custody: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("custody: %s returned %d: %s", path, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("custody: decode response: %w", err)
	}
	return nil
}
