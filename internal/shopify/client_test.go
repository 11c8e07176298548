package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(&config.ShopifyConfig{
		APIVersion: "2024-07",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	c.baseURL = srv.URL
	return c
}

func TestFetchSalesSnapshot_BucketsByAge(t *testing.T) {
	now := time.Now()
	orders := map[string]interface{}{
		"orders": []map[string]interface{}{
			{
				"created_at": now.Add(-24 * time.Hour),
				"line_items": []map[string]interface{}{
					{"product_id": 111, "quantity": 2},
					{"product_id": 999, "quantity": 5}, // 其他商品，忽略
				},
			},
			{
				"created_at": now.Add(-5 * 24 * time.Hour),
				"line_items": []map[string]interface{}{
					{"product_id": 111, "quantity": 1},
				},
			},
			{
				"created_at": now.Add(-12 * 24 * time.Hour),
				"line_items": []map[string]interface{}{
					{"product_id": 111, "quantity": 3},
				},
			},
		},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/orders.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Shopify-Access-Token") != "tok" {
			t.Error("missing access token header")
		}
		_ = json.NewEncoder(w).Encode(orders)
	}))

	snap, err := c.FetchSalesSnapshot(context.Background(), Credentials{Domain: "acme.myshopify.com", Token: "tok"}, 111)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}

	if snap.Sales3d != 2 {
		t.Errorf("sales 3d = %v, want 2", snap.Sales3d)
	}
	if snap.Sales7d != 3 {
		t.Errorf("sales 7d = %v, want 3", snap.Sales7d)
	}
	if snap.Sales10d != 3 {
		t.Errorf("sales 10d = %v, want 3", snap.Sales10d)
	}
	if snap.Sales14d != 6 {
		t.Errorf("sales 14d = %v, want 6", snap.Sales14d)
	}
}

func TestAddTags_MergesWithoutDuplicates(t *testing.T) {
	var gotTags string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"product": {"id": 111, "tags": "summer, LOSER", "variants": []}}`)
		case http.MethodPut:
			var body struct {
				Product struct {
					Tags string `json:"tags"`
				} `json:"product"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotTags = body.Product.Tags
			fmt.Fprint(w, `{"product": {}}`)
		}
	}))

	err := c.AddTags(context.Background(), Credentials{Domain: "acme.myshopify.com", Token: "tok"}, 111, "WINNER", "LOSER")
	if err != nil {
		t.Fatalf("add tags: %v", err)
	}

	if gotTags != "summer, LOSER, WINNER" {
		t.Errorf("tags = %q, want merged without duplicates", gotTags)
	}
}

func TestSetInventoryZero_UpdatesEveryVariant(t *testing.T) {
	var puts atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			fmt.Fprint(w, `{"product": {"id": 111, "variants": [{"id": 1}, {"id": 2}]}}`)
		case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/variants/"):
			puts.Add(1)
			fmt.Fprint(w, `{"variant": {}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	err := c.SetInventoryZero(context.Background(), Credentials{Domain: "acme.myshopify.com", Token: "tok"}, 111)
	if err != nil {
		t.Fatalf("set inventory zero: %v", err)
	}
	if puts.Load() != 2 {
		t.Errorf("expected 2 variant updates, got %d", puts.Load())
	}
}

func TestDo_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"orders": []}`)
	}))

	_, err := c.FetchSalesSnapshot(context.Background(), Credentials{Domain: "acme.myshopify.com", Token: "tok"}, 1)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestDo_FailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchSalesSnapshot(context.Background(), Credentials{Domain: "acme.myshopify.com", Token: "tok"}, 1)
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls.Load())
	}
}
