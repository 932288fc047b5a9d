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

// Exchange is the swap collaborator. A Swap either delivers at least
// amountOutMin of tokenOut to the recipient or fails entirely; the
// engine treats any error as all-or-nothing.
type Exchange interface {
	Quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) ([]*big.Int, error)
	Swap(ctx context.Context, amountIn, amountOutMin *big.Int, tokenIn, tokenOut common.Address, recipient common.Address, deadline int64) (*big.Int, error)
}

// AssetCustody is the asset-transfer collaborator. Every operation
// reports failure explicitly; a failure aborts the enclosing engine
// operation.
type AssetCustody interface {
	PullFrom(ctx context.Context, token, owner common.Address, amount *big.Int) error
	PushTo(ctx context.Context, token, recipient common.Address, amount *big.Int) error
	ApproveSpender(ctx context.Context, token, spender common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// RouterClient talks to an external swap-router service over HTTP.
type RouterClient struct {
	baseURL    string
	httpClient *http.Client
}

// Ensure RouterClient implements Exchange
var _ Exchange = (*RouterClient)(nil)

// NewRouterClient creates a client for the swap router at baseURL.
func NewRouterClient(baseURL string) *RouterClient {
	return &RouterClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type quoteRequest struct {
	AmountIn string `json:"amount_in"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
}

type quoteResponse struct {
	AmountsOut []string `json:"amounts_out"`
}

type swapRequest struct {
	AmountIn     string `json:"amount_in"`
	AmountOutMin string `json:"amount_out_min"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	Recipient    string `json:"recipient"`
	Deadline     int64  `json:"deadline"`
}

type swapResponse struct {
	AmountOut string `json:"amount_out"`
	Error     string `json:"error,omitempty"`
}

// Quote returns the router's estimated output path amounts; the last
// element is the estimated output.
func (c *RouterClient) Quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) ([]*big.Int, error) {
	req := quoteRequest{
		AmountIn: amountIn.String(),
		TokenIn:  tokenIn.Hex(),
		TokenOut: tokenOut.Hex(),
	}

	var resp quoteResponse
	if err := c.post(ctx, "/quote", req, &resp); err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, 0, len(resp.AmountsOut))
	for _, raw := range resp.AmountsOut {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("router: bad amount in quote response: %q", raw)
		}
		amounts = append(amounts, v)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("router: empty quote response")
	}
	return amounts, nil
}

// Swap executes a swap through the router.
func (c *RouterClient) Swap(ctx context.Context, amountIn, amountOutMin *big.Int, tokenIn, tokenOut common.Address, recipient common.Address, deadline int64) (*big.Int, error) {
	req := swapRequest{
		AmountIn:     amountIn.String(),
		AmountOutMin: amountOutMin.String(),
		TokenIn:      tokenIn.Hex(),
		TokenOut:     tokenOut.Hex(),
		Recipient:    recipient.Hex(),
		Deadline:     deadline,
	}

	var resp swapResponse
	if err := c.post(ctx, "/swap", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("router: swap rejected: %s", resp.Error)
	}

	out, ok := new(big.Int).SetString(resp.AmountOut, 10)
	if !ok {
		return nil, fmt.Errorf("router: bad amount in swap response: %q", resp.AmountOut)
	}
	return out, nil
}

func (c *RouterClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("router: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("router: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("router: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("router: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("router: %s returned %d: %s", path, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("router: decode response: %w", err)
	}
	return nil
}
