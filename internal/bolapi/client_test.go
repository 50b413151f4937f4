package bolapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/bolsync/internal/domain"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshes int
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.token = "fresh"
	return f.token, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func pageOfOrders(n int, prefix string) []domain.Order {
	orders := make([]domain.Order, n)
	for i := range orders {
		orders[i] = domain.Order{OrderID: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return orders
}

func writeOrders(w http.ResponseWriter, orders []domain.Order) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"orders": orders})
}

func newTestClient(t *testing.T, server *httptest.Server, opts ...ClientOption) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	all := append([]ClientOption{WithSleep(rec.sleep)}, opts...)
	client := NewClient(server.URL, &fakeTokens{token: "tok"}, server.Client(), discardLogger(), all...)
	return client, rec
}

func TestClient_FetchOrders(t *testing.T) {
	t.Run("stops on a short page", func(t *testing.T) {
		var pagesSeen []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			pagesSeen = append(pagesSeen, page)

			if got := r.URL.Query().Get("latest-change-date"); got != "2025-09-02" {
				t.Errorf("expected latest-change-date 2025-09-02, got %s", got)
			}
			if got := r.URL.Query().Get("status"); got != "ALL" {
				t.Errorf("expected status ALL, got %s", got)
			}
			if got := r.URL.Query().Get("fulfilment-method"); got != "ALL" {
				t.Errorf("expected fulfilment-method ALL, got %s", got)
			}
			if got := r.Header.Get("Accept"); got != acceptHeader {
				t.Errorf("unexpected accept header: %s", got)
			}

			if page == "1" {
				writeOrders(w, pageOfOrders(50, "p1"))
				return
			}
			writeOrders(w, pageOfOrders(20, "p2"))
		}))
		defer server.Close()

		client, _ := newTestClient(t, server)

		orders, err := client.FetchOrders(context.Background(), "2025-09-02")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 70 {
			t.Errorf("expected 70 orders, got %d", len(orders))
		}
		if len(pagesSeen) != 2 {
			t.Errorf("expected exactly 2 page requests, got %v", pagesSeen)
		}
	})

	t.Run("empty first page yields zero orders and a single request", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			writeOrders(w, nil)
		}))
		defer server.Close()

		client, _ := newTestClient(t, server)

		orders, err := client.FetchOrders(context.Background(), "2025-09-02")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 0 {
			t.Errorf("expected no orders, got %d", len(orders))
		}
		if requests != 1 {
			t.Errorf("expected 1 request, got %d", requests)
		}
	})

	t.Run("stops at the page ceiling without error", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			writeOrders(w, pageOfOrders(50, "full"))
		}))
		defer server.Close()

		client, _ := newTestClient(t, server, WithMaxPages(3))

		orders, err := client.FetchOrders(context.Background(), "2025-09-02")
		if err != nil {
			t.Fatalf("expected ceiling to be non-fatal, got %v", err)
		}
		if requests != 3 {
			t.Errorf("expected 3 requests, got %d", requests)
		}
		if len(orders) != 150 {
			t.Errorf("expected 150 orders, got %d", len(orders))
		}
	})

	t.Run("429 follows the linear backoff then fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, rec := newTestClient(t, server)

		_, err := client.FetchOrders(context.Background(), "2025-09-02")
		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) {
			t.Fatalf("expected *RateLimitError, got %v", err)
		}

		want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}
		if len(rec.delays) != len(want) {
			t.Fatalf("expected %d waits, got %v", len(want), rec.delays)
		}
		for i, d := range want {
			if rec.delays[i] != d {
				t.Errorf("wait %d: expected %v, got %v", i, d, rec.delays[i])
			}
		}
	})

	t.Run("401 refreshes the token and retries without consuming budget", func(t *testing.T) {
		tokens := &fakeTokens{token: "stale"}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeOrders(w, pageOfOrders(1, "ok"))
		}))
		defer server.Close()

		rec := &sleepRecorder{}
		client := NewClient(server.URL, tokens, server.Client(), discardLogger(), WithSleep(rec.sleep))

		orders, err := client.FetchOrders(context.Background(), "2025-09-02")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
		if tokens.refreshes != 1 {
			t.Errorf("expected 1 refresh, got %d", tokens.refreshes)
		}
		if len(rec.delays) != 0 {
			t.Errorf("refresh must not consume backoff budget, got waits %v", rec.delays)
		}
	})

	t.Run("second 401 after a fresh token is an auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client, _ := newTestClient(t, server)

		_, err := client.FetchOrders(context.Background(), "2025-09-02")
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected *AuthError, got %v", err)
		}
	})

	t.Run("other client errors fail immediately with the body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"bad date"}`))
		}))
		defer server.Close()

		client, rec := newTestClient(t, server)

		_, err := client.FetchOrders(context.Background(), "not-a-date")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.Status != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", apiErr.Status)
		}
		if apiErr.Body != `{"detail":"bad date"}` {
			t.Errorf("unexpected body: %s", apiErr.Body)
		}
		if len(rec.delays) != 0 {
			t.Errorf("expected no retries, got waits %v", rec.delays)
		}
	})

	t.Run("5xx is retried within the budget", func(t *testing.T) {
		failures := 2
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if failures > 0 {
				failures--
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeOrders(w, pageOfOrders(1, "ok"))
		}))
		defer server.Close()

		client, rec := newTestClient(t, server)

		orders, err := client.FetchOrders(context.Background(), "2025-09-02")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
		if len(rec.delays) != 2 {
			t.Errorf("expected 2 backoff waits, got %v", rec.delays)
		}
	})
}

func TestClient_FetchOrderDetails(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/orders/"):]
		requested = append(requested, id)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.Order{
			OrderID:    id,
			OrderItems: []domain.OrderItem{{OrderItemID: id + "-item"}},
		})
	}))
	defer server.Close()

	client, rec := newTestClient(t, server, WithDetailDelay(250*time.Millisecond))

	orders, err := client.FetchOrderDetails(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[1].OrderID != "B" || len(orders[1].OrderItems) != 1 {
		t.Errorf("unexpected order detail: %+v", orders[1])
	}
	if len(requested) != 3 {
		t.Errorf("expected 3 detail requests, got %v", requested)
	}
	// Courtesy delay between calls, not before the first.
	if len(rec.delays) != 2 {
		t.Errorf("expected 2 inter-call delays, got %v", rec.delays)
	}
}
