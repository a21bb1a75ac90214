package models_test

import (
	"testing"

	"horizon-research-engine/internal/models"
)

func TestNewResearchRequestDefaults(t *testing.T) {
	req, err := models.NewResearchRequest("  why do cats purr  ", "", 0)
	if err != nil {
		t.Fatalf("NewResearchRequest failed: %v", err)
	}

	if req.Query != "why do cats purr" {
		t.Errorf("Query should be trimmed, got %q", req.Query)
	}
	if req.Depth != models.DepthStandard {
		t.Errorf("Empty depth should default to standard, got %s", req.Depth)
	}
	if req.MaxSources != 10 {
		t.Errorf("Zero max sources should default to 10, got %d", req.MaxSources)
	}
}

func TestNewResearchRequestEmptyQuery(t *testing.T) {
	_, err := models.NewResearchRequest("   ", "standard", 5)
	if err == nil {
		t.Fatal("Expected error for empty query")
	}
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestNewResearchRequestInvalidDepth(t *testing.T) {
	_, err := models.NewResearchRequest("query", "exhaustive", 5)
	if err == nil {
		t.Fatal("Expected error for unknown depth")
	}
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestNewResearchRequestNegativeMaxSources(t *testing.T) {
	_, err := models.NewResearchRequest("query", "basic", -1)
	if err == nil {
		t.Fatal("Expected error for negative max sources")
	}
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestDefaultDepthProfiles(t *testing.T) {
	profiles := models.DefaultDepthProfiles()

	for _, depth := range []models.ResearchDepth{models.DepthBasic, models.DepthStandard, models.DepthDeep} {
		profile, ok := profiles[depth]
		if !ok {
			t.Fatalf("Missing profile for depth %s", depth)
		}
		if profile.MaxSubQueries <= 0 || profile.MaxIterations <= 0 || profile.MaxSearchesPerSubQuery <= 0 {
			t.Errorf("Profile %s has non-positive budgets: %+v", depth, profile)
		}
	}

	basic := profiles[models.DepthBasic]
	deep := profiles[models.DepthDeep]
	if deep.MaxSubQueries <= basic.MaxSubQueries {
		t.Error("Deep profile should allow more sub-queries than basic")
	}
	if deep.MaxIterations <= basic.MaxIterations {
		t.Error("Deep profile should allow more iterations than basic")
	}
	if deep.SynthesisTemperature >= basic.SynthesisTemperature {
		t.Error("Deep synthesis should run colder than basic")
	}
}

func TestBuildResult(t *testing.T) {
	req, err := models.NewResearchRequest("solid state battery timeline", "basic", 5)
	if err != nil {
		t.Fatalf("NewResearchRequest failed: %v", err)
	}

	state := models.NewResearchState(req)
	state = models.MergeSubQueries(state, []models.SubQueryPair{
		{Query: "solid state battery production 2026", Rationale: "timeline"},
		{Query: "solid state battery cost per kwh", Rationale: "economics"},
	})
	state = models.FoldSearchResult(state, "solid state battery production 2026", models.SearchPayload{
		Organic: []models.OrganicResult{
			{Title: "Factory news", Link: "https://example.com/factory", Snippet: "production begins"},
		},
	})

	result := models.BuildResult("the answer [1]", state)

	if result.Answer != "the answer [1]" {
		t.Errorf("Unexpected answer: %q", result.Answer)
	}
	if result.SubQueriesGenerated != 2 {
		t.Errorf("Expected 2 sub-queries generated, got %d", result.SubQueriesGenerated)
	}
	if result.SubQueriesCompleted != 1 {
		t.Errorf("Expected 1 sub-query completed, got %d", result.SubQueriesCompleted)
	}
	if result.SearchesPerformed != 1 {
		t.Errorf("Expected 1 search performed, got %d", result.SearchesPerformed)
	}
	if len(result.Citations) != 1 {
		t.Errorf("Expected 1 citation, got %d", len(result.Citations))
	}
}

func TestEngineErrorMetadataCopy(t *testing.T) {
	base := models.NewValidationError("TEST_CODE", "test message")
	withMeta := base.WithMetadata("key", "value")

	if base.Metadata != nil {
		t.Error("WithMetadata should not mutate the original error")
	}
	if withMeta.Metadata["key"] != "value" {
		t.Errorf("Expected metadata to carry the key, got %v", withMeta.Metadata)
	}
}

func TestWrapExternalErrorPreservesEngineError(t *testing.T) {
	original := models.NewRateLimitError("UPSTREAM_LIMIT", "limited")
	wrapped := models.WrapExternalError("SERPER", original)

	if wrapped.Code != "UPSTREAM_LIMIT" {
		t.Errorf("Existing engine error should pass through, got code %s", wrapped.Code)
	}
	if !models.IsRateLimited(wrapped) {
		t.Error("Wrapped error should keep its rate-limited kind")
	}
}
