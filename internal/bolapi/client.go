package bolapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

const acceptHeader = "application/vnd.retailer.v9+json"

const (
	defaultPageSize    = 50
	defaultMaxPages    = 1000
	defaultPageDelay   = 1 * time.Second
	defaultDetailDelay = 250 * time.Millisecond
)

// Client fetches orders from the retailer API one page at a time, applying
// the retry policy to every call. All I/O is blocking and sequential.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenProvider
	policy      RetryPolicy
	pageSize    int
	maxPages    int
	pageDelay   time.Duration
	detailDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

type ClientOption func(*Client)

func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

func WithPageSize(n int) ClientOption {
	return func(c *Client) { c.pageSize = n }
}

func WithMaxPages(n int) ClientOption {
	return func(c *Client) { c.maxPages = n }
}

func WithPageDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.pageDelay = d }
}

func WithDetailDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.detailDelay = d }
}

// WithSleep replaces the wait function, so tests can observe backoff
// without waiting it out.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

func NewClient(baseURL string, tokens TokenProvider, httpClient *http.Client, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		tokens:      tokens,
		policy:      DefaultRetryPolicy(),
		pageSize:    defaultPageSize,
		maxPages:    defaultMaxPages,
		pageDelay:   defaultPageDelay,
		detailDelay: defaultDetailDelay,
		sleep:       sleepContext,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ordersPage struct {
	Orders []domain.Order `json:"orders"`
}

// FetchOrders pages through all orders whose latest-change-date matches
// date (YYYY-MM-DD). Pagination stops on an empty or short page, or at the
// page ceiling; hitting the ceiling is logged, not an error.
func (c *Client) FetchOrders(ctx context.Context, date string) ([]domain.Order, error) {
	var all []domain.Order

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("latest-change-date", date)
		q.Set("fulfilment-method", "ALL")
		q.Set("status", "ALL")
		q.Set("page", strconv.Itoa(page))
		q.Set("page-size", strconv.Itoa(c.pageSize))

		var resp ordersPage
		if err := c.getJSON(ctx, c.baseURL+"/orders?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", page, err)
		}

		c.logger.Info("orders page fetched", "date", date, "page", page, "count", len(resp.Orders))
		all = append(all, resp.Orders...)

		if len(resp.Orders) < c.pageSize {
			break
		}
		if page >= c.maxPages {
			c.logger.Warn("page ceiling reached, stopping pagination", "date", date, "max_pages", c.maxPages)
			break
		}

		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	return all, nil
}

// FetchOrderDetail fetches a single order, including its full item list,
// by order id.
func (c *Client) FetchOrderDetail(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	if err := c.getJSON(ctx, c.baseURL+"/orders/"+url.PathEscape(orderID), &order); err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return &order, nil
}

// FetchOrderDetails fetches each id in turn with a short courtesy delay
// between calls. Callers pass deduplicated ids.
func (c *Client) FetchOrderDetails(ctx context.Context, orderIDs []string) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(orderIDs))
	for i, id := range orderIDs {
		if i > 0 {
			if err := c.sleep(ctx, c.detailDelay); err != nil {
				return nil, err
			}
		}
		order, err := c.FetchOrderDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// getJSON performs one logical GET with retry, token refresh on 401 and the
// policy's backoff. A second 401 right after a fresh token means the
// credentials themselves are bad.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	attempt := 1
	refreshed := false

	for {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		status, body, reqErr := c.doRequest(ctx, rawURL, token)
		if reqErr == nil && status >= 200 && status < 300 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		outcome := c.policy.Decide(status, reqErr, attempt)
		switch outcome.Action {
		case ActionRetry:
			c.logger.Warn("retrying request",
				"url", rawURL, "status", status, "attempt", attempt, "wait", outcome.Delay, "error", reqErr)
			if err := c.sleep(ctx, outcome.Delay); err != nil {
				return err
			}
			attempt++

		case ActionRefreshToken:
			if refreshed {
				return &AuthError{Reason: "request rejected with 401 after token refresh", Status: status, Body: string(body)}
			}
			c.logger.Info("token rejected, refreshing", "url", rawURL)
			if _, err := c.tokens.Refresh(ctx); err != nil {
				return err
			}
			refreshed = true

		case ActionFail:
			if outcome.Err != nil {
				return outcome.Err
			}
			return &APIError{Status: status, Body: string(body)}
		}
	}
}

func (c *Client) doRequest(ctx context.Context, rawURL, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
