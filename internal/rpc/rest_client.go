package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	defaultScheme = "http://"
	apiV1Path     = "api/v1"
)

// Client talks to the REST API of a node.
type Client struct {
	BaseUrl    *url.URL
	HttpClient http.Client
}

// ClientError is a non-success response of the node.
type ClientError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *ClientError) Error() string {
	if e.Response.Reason != "" {
		return fmt.Sprintf("status %d: %s (%s)", e.StatusCode, e.Response.Error, e.Response.Reason)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Response.Error)
}

func NewClient(baseUrl string) (*Client, error) {
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = defaultScheme + baseUrl
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("error parsing node URL (%s): %w", baseUrl, err)
	}
	return &Client{BaseUrl: u.JoinPath(apiV1Path), HttpClient: http.Client{Timeout: time.Minute}}, nil
}

func (c *Client) GetAccount(ctx context.Context, addr types.Address) (*AccountResponse, error) {
	res := &AccountResponse{}
	if err := c.get(ctx, c.BaseUrl.JoinPath("accounts", addr.String()), res); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return res, nil
}

func (c *Client) GetTip(ctx context.Context) (*TipResponse, error) {
	res := &TipResponse{}
	if err := c.get(ctx, c.BaseUrl.JoinPath("tip"), res); err != nil {
		return nil, fmt.Errorf("get tip: %w", err)
	}
	return res, nil
}

// GetBlock returns the block with given hash.
func (c *Client) GetBlock(ctx context.Context, hash crypto.Hash) (*types.Block, error) {
	return c.getBlock(ctx, c.BaseUrl.JoinPath("blocks", hash.String()))
}

func (c *Client) GetBlockByHeight(ctx context.Context, height uint64) (*types.Block, error) {
	return c.getBlock(ctx, c.BaseUrl.JoinPath("blocks", "height", strconv.FormatUint(height, 10)))
}

// SubmitTransaction posts the transaction in canonical encoding, the node
// returns the transaction hash when it was added to the pool.
func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction) (crypto.Hash, error) {
	data, err := tx.Bytes()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("encoding transaction: %w", err)
	}
	rsp, err := c.do(ctx, http.MethodPost, c.BaseUrl.JoinPath("transactions"), data)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("submit transaction: %w", err)
	}
	defer rsp.Body.Close()
	res := &TxResponse{}
	if err := json.NewDecoder(rsp.Body).Decode(res); err != nil {
		return crypto.Hash{}, fmt.Errorf("decoding response: %w", err)
	}
	return crypto.HashFromString(res.TxHash)
}

func (c *Client) getBlock(ctx context.Context, u *url.URL) (*types.Block, error) {
	rsp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading block: %w", err)
	}
	return types.DecodeBlock(data)
}

func (c *Client) get(ctx context.Context, u *url.URL, res any) error {
	rsp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if err := json.NewDecoder(rsp.Body).Decode(res); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// do sends the request, a response with status other than 2xx is returned
// as ClientError.
func (c *Client) do(ctx context.Context, method string, u *url.URL, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set(headerContentType, applicationCBOR)
	}
	rsp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", u, err)
	}
	if rsp.StatusCode >= 200 && rsp.StatusCode < 300 {
		return rsp, nil
	}
	defer rsp.Body.Close()
	e := &ClientError{StatusCode: rsp.StatusCode}
	if err := json.NewDecoder(rsp.Body).Decode(&e.Response); err != nil {
		e.Response.Error = http.StatusText(rsp.StatusCode)
	}
	return nil, e
}
