package adplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

func newTestREST(t *testing.T, handler http.Handler) *restClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return newRESTClient(model.PlatformPinterest, srv.URL, "tok", 2*time.Second, nil, logger)
}

func TestFetchMetric(t *testing.T) {
	c := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/campaigns/pin-1/metrics" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("metric") != "spend" || q.Get("days") != "7" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Error("missing bearer token")
		}
		fmt.Fprint(w, `{"value": 123.45}`)
	}))

	v, err := c.FetchMetric(context.Background(), "pin-1", model.MetricSpend, 7)
	if err != nil {
		t.Fatalf("fetch metric: %v", err)
	}
	if v != 123.45 {
		t.Errorf("value = %v, want 123.45", v)
	}
}

func TestUpdateBudgetAndStatus(t *testing.T) {
	var budgets []float64
	var statuses []string
	c := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if b, ok := body["daily_budget"].(float64); ok {
			budgets = append(budgets, b)
		}
		if s, ok := body["status"].(string); ok {
			statuses = append(statuses, s)
		}
		fmt.Fprint(w, `{}`)
	}))

	if err := c.UpdateBudget(context.Background(), "pin-1", 88.5); err != nil {
		t.Fatalf("update budget: %v", err)
	}
	if err := c.UpdateStatus(context.Background(), "pin-1", model.CampaignPaused); err != nil {
		t.Fatalf("update status: %v", err)
	}

	if len(budgets) != 1 || budgets[0] != 88.5 {
		t.Errorf("budgets = %v", budgets)
	}
	if len(statuses) != 1 || statuses[0] != "paused" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestCreateCampaign(t *testing.T) {
	c := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/campaigns" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "winner scale" {
			t.Errorf("name = %v", body["name"])
		}
		if body["status"] != "active" {
			t.Errorf("new campaign must start active, got %v", body["status"])
		}
		fmt.Fprint(w, `{"id": "pin-new-9"}`)
	}))

	id, err := c.CreateCampaign(context.Background(), CampaignSpec{
		Name:        "winner scale",
		DailyBudget: 50,
		Headline:    "h",
		AdCopy:      "a",
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if id != "pin-new-9" {
		t.Errorf("id = %s", id)
	}
}

func TestFetchMetric_ErrorStatus(t *testing.T) {
	c := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if _, err := c.FetchMetric(context.Background(), "pin-1", model.MetricROAS, 7); err == nil {
		t.Error("expected error on 502")
	}
}

func TestRegistry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pin := newRESTClient(model.PlatformPinterest, "http://x", "t", time.Second, nil, logger)
	meta := newRESTClient(model.PlatformMeta, "http://y", "t", time.Second, nil, logger)

	r := NewRegistry(pin, meta)

	got, err := r.Get(model.PlatformPinterest)
	if err != nil || got.Platform() != model.PlatformPinterest {
		t.Fatalf("get pinterest: %v", err)
	}
	if _, err := r.Get(model.PlatformGoogle); err == nil {
		t.Error("expected error for unconfigured platform")
	}
	if len(r.Platforms()) != 2 {
		t.Errorf("platforms = %v", r.Platforms())
	}
}
