package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/services"
)

func testSerperConfig(endpoint string) config.SerperConfig {
	return config.SerperConfig{
		APIKey:            "test-key",
		Endpoint:          endpoint,
		Country:           "us",
		Language:          "en",
		RequestsPerMinute: 60,
		Timeout:           5 * time.Second,
		MaxRetries:        0,
	}
}

func TestSerperSearchDecodesResponse(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			t.Errorf("Missing API key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"organic": [
				{"title": "First", "link": "https://example.com/1", "snippet": "s1", "position": 1},
				{"title": "Second", "link": "https://example.com/2", "snippet": "s2", "position": 2}
			],
			"knowledgeGraph": {"title": "Topic", "type": "Thing", "description": "desc"},
			"relatedSearches": [{"query": "related one"}, {"query": ""}]
		}`))
	}))
	defer server.Close()

	service, err := services.NewSerperService(testSerperConfig(server.URL), newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSerperService failed: %v", err)
	}

	payload, err := service.Search(context.Background(), "test query", &services.SearchHints{NumResults: 7})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(payload.Organic) != 2 {
		t.Fatalf("Expected 2 organic results, got %d", len(payload.Organic))
	}
	if payload.Organic[0].Title != "First" {
		t.Errorf("Unexpected first result: %+v", payload.Organic[0])
	}
	if payload.KnowledgeGraph == nil || payload.KnowledgeGraph.Title != "Topic" {
		t.Errorf("Knowledge graph not decoded: %+v", payload.KnowledgeGraph)
	}
	if len(payload.RelatedSearches) != 1 || payload.RelatedSearches[0] != "related one" {
		t.Errorf("Related searches should drop empty entries, got %v", payload.RelatedSearches)
	}

	if gotBody["q"] != "test query" {
		t.Errorf("Expected query in request body, got %v", gotBody["q"])
	}
	if gotBody["num"] != float64(7) {
		t.Errorf("Expected num hint forwarded, got %v", gotBody["num"])
	}
	if gotBody["gl"] != "us" {
		t.Errorf("Expected default country forwarded, got %v", gotBody["gl"])
	}
}

func TestSerperSearchRejectsEmptyQuery(t *testing.T) {
	service, err := services.NewSerperService(testSerperConfig("http://localhost:0"), newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSerperService failed: %v", err)
	}

	_, err = service.Search(context.Background(), "   ", nil)
	if err == nil {
		t.Fatal("Expected error for empty query")
	}
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestSerperSearchBudgetRejects(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"organic": []}`))
	}))
	defer server.Close()

	cfg := testSerperConfig(server.URL)
	cfg.RequestsPerMinute = 1

	service, err := services.NewSerperService(cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSerperService failed: %v", err)
	}

	if _, err := service.Search(context.Background(), "first", nil); err != nil {
		t.Fatalf("First search should pass the budget, got %v", err)
	}

	_, err = service.Search(context.Background(), "second", nil)
	if err == nil {
		t.Fatal("Expected budget rejection for second search")
	}
	if !models.IsRateLimited(err) {
		t.Errorf("Expected rate-limited error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Rejected search should not reach the backend, got %d calls", calls)
	}
}

func TestSerperSearchUpstreamRateLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := testSerperConfig(server.URL)
	cfg.MaxRetries = 3

	service, err := services.NewSerperService(cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSerperService failed: %v", err)
	}

	_, err = service.Search(context.Background(), "query", nil)
	if err == nil {
		t.Fatal("Expected error for upstream 429")
	}
	if !models.IsRateLimited(err) {
		t.Errorf("Expected rate-limited error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Upstream rate limit should not be retried, got %d calls", calls)
	}
}

func TestSerperSearchRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"organic": [{"title": "t", "link": "https://example.com", "snippet": "s", "position": 1}]}`))
	}))
	defer server.Close()

	cfg := testSerperConfig(server.URL)
	cfg.MaxRetries = 2

	service, err := services.NewSerperService(cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewSerperService failed: %v", err)
	}

	payload, err := service.Search(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Search should recover on retry, got %v", err)
	}
	if len(payload.Organic) != 1 {
		t.Errorf("Expected 1 organic result, got %d", len(payload.Organic))
	}
	if calls != 2 {
		t.Errorf("Expected 2 backend calls, got %d", calls)
	}
}

func TestSerperServiceRequiresAPIKey(t *testing.T) {
	cfg := testSerperConfig("http://localhost:0")
	cfg.APIKey = ""

	if _, err := services.NewSerperService(cfg, newTestLogger(t)); err == nil {
		t.Fatal("Expected error when API key missing")
	}
}
