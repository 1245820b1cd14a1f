package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"frizo/position_engine/internal/api"
	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
	"frizo/position_engine/internal/version"
	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

// APIError is a non-2xx response. It unwraps to the engine sentinel named
// by Code, so errors.Is works across the wire.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("HTTP %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return common.FromCode(e.Code)
}

// Client talks to a positiond instance.
type Client struct {
	http  *resty.Client
	owner string
}

type Option func(*Client)

// WithOwner sends owner as the caller identity on every request.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithRetries sets how many times a failed read is retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.http.SetRetryCount(n) }
}

// isRetryableResp retries transport failures and overload responses, and
// only for GETs; position writes are not idempotent.
func isRetryableResp(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}

	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("User-Agent", version.UserAgent()).
			SetHeader("Content-Type", "application/json").
			SetRetryCount(defaultRetryAttempts-1).
			SetRetryWaitTime(defaultRetryBaseDelay).
			SetRetryMaxWaitTime(defaultRetryMaxDelay).
			AddRetryCondition(isRetryableResp),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if c.owner != "" {
		req.SetHeader(api.OwnerHeader, c.owner)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: string(raw)}
		var body struct {
			Error string `json:"error"`
			Code  int    `json:"code"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			apiErr.Message, apiErr.Code = body.Error, body.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// ========================================================
// Users

func (c *Client) CreateUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	var out margin.UserAccount
	err := c.do(ctx, http.MethodPost, "/api/v1/users", api.CreateUserRequest{Owner: owner}, &out)
	return &out, err
}

func (c *Client) ListUsers(ctx context.Context) ([]margin.UserAccount, error) {
	var out []margin.UserAccount
	err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, &out)
	return out, err
}

func (c *Client) GetUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	var out margin.UserAccount
	err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(owner), nil, &out)
	return &out, err
}

func (c *Client) UserPnL(ctx context.Context, owner string) (*engine.UserPnL, error) {
	var out engine.UserPnL
	err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(owner)+"/pnl", nil, &out)
	return &out, err
}

func (c *Client) Deposit(ctx context.Context, owner string, amount uint64) (*margin.UserAccount, error) {
	var out margin.UserAccount
	err := c.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(owner)+"/deposit", api.AmountRequest{Amount: amount}, &out)
	return &out, err
}

func (c *Client) Withdraw(ctx context.Context, owner string, amount uint64) (*margin.UserAccount, error) {
	var out margin.UserAccount
	err := c.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(owner)+"/withdraw", api.AmountRequest{Amount: amount}, &out)
	return &out, err
}

// ========================================================
// Positions

func (c *Client) OpenPosition(ctx context.Context, req engine.OpenRequest) (*engine.OpenResult, error) {
	var out engine.OpenResult
	err := c.do(ctx, http.MethodPost, "/api/v1/positions", req, &out)
	return &out, err
}

func (c *Client) ListPositions(ctx context.Context, filter store.Filter) ([]position.Position, error) {
	q := url.Values{}
	if filter.Owner != "" {
		q.Set("owner", filter.Owner)
	}
	if filter.Symbol != "" {
		q.Set("symbol", filter.Symbol)
	}
	if filter.OpenOnly {
		q.Set("open", strconv.FormatBool(true))
	}
	path := "/api/v1/positions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []position.Position
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	var out position.Position
	err := c.do(ctx, http.MethodGet, "/api/v1/positions/"+url.PathEscape(id), nil, &out)
	return &out, err
}

func (c *Client) ModifyPosition(ctx context.Context, id string, sizeDelta, marginDelta int64) (*engine.ModifyResult, error) {
	var out engine.ModifyResult
	body := api.ModifyBody{SizeDelta: sizeDelta, MarginDelta: marginDelta}
	err := c.do(ctx, http.MethodPost, "/api/v1/positions/"+url.PathEscape(id)+"/modify", body, &out)
	return &out, err
}

func (c *Client) ClosePosition(ctx context.Context, id string, exitPrice uint64) (*engine.SettleResult, error) {
	var out engine.SettleResult
	err := c.do(ctx, http.MethodPost, "/api/v1/positions/"+url.PathEscape(id)+"/close", api.CloseBody{ExitPrice: exitPrice}, &out)
	return &out, err
}

func (c *Client) LiquidatePosition(ctx context.Context, id string, price uint64) (*engine.SettleResult, error) {
	var out engine.SettleResult
	err := c.do(ctx, http.MethodPost, "/api/v1/positions/"+url.PathEscape(id)+"/liquidate", api.LiquidateBody{Price: price}, &out)
	return &out, err
}

func (c *Client) UpdateMarkPrice(ctx context.Context, symbol string, price uint64) (*api.MarkResponse, error) {
	var out api.MarkResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/marks", api.MarkRequest{Symbol: symbol, Price: price}, &out)
	return &out, err
}

// ========================================================
// System

func (c *Client) Metrics(ctx context.Context) (*engine.Metrics, error) {
	var out engine.Metrics
	err := c.do(ctx, http.MethodGet, "/api/v1/metrics", nil, &out)
	return &out, err
}

func (c *Client) Tiers(ctx context.Context) ([]margin.LeverageTier, error) {
	var out []margin.LeverageTier
	err := c.do(ctx, http.MethodGet, "/api/v1/tiers", nil, &out)
	return out, err
}

func (c *Client) Version(ctx context.Context) (*version.BuildInfo, error) {
	var out version.BuildInfo
	err := c.do(ctx, http.MethodGet, "/version", nil, &out)
	return &out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
