package models_test

import (
	"math"
	"testing"

	"horizon-research-engine/internal/models"
)

func newTestState(t *testing.T) models.ResearchState {
	t.Helper()

	req, err := models.NewResearchRequest("impact of heat pumps on grid demand", "standard", 0)
	if err != nil {
		t.Fatalf("NewResearchRequest failed: %v", err)
	}
	return models.NewResearchState(req)
}

func TestMergeSubQueriesSkipsEmptyAndKnown(t *testing.T) {
	state := newTestState(t)

	pairs := []models.SubQueryPair{
		{Query: "heat pump adoption rates europe", Rationale: "sizing the fleet"},
		{Query: "", Rationale: "should be dropped"},
		{Query: "heat pump adoption rates europe", Rationale: "duplicate"},
		{Query: "winter peak demand heat pumps", Rationale: "grid impact"},
	}

	state = models.MergeSubQueries(state, pairs)

	if len(state.SubQueries) != 2 {
		t.Fatalf("Expected 2 sub-queries, got %d", len(state.SubQueries))
	}
	if len(state.Pending) != 2 {
		t.Fatalf("Expected 2 pending queries, got %d", len(state.Pending))
	}
	if state.Pending[0] != "heat pump adoption rates europe" {
		t.Errorf("Pending queue should be FIFO, got head %q", state.Pending[0])
	}
	for _, sq := range state.SubQueries {
		if sq.Status != models.SubQueryStatusPending {
			t.Errorf("New sub-query %q should be pending, got %s", sq.Query, sq.Status)
		}
		if sq.ID == "" {
			t.Errorf("Sub-query %q should have an ID", sq.Query)
		}
	}
}

func TestMergeSubQueriesIdempotent(t *testing.T) {
	state := newTestState(t)

	pairs := []models.SubQueryPair{
		{Query: "heat pump adoption rates europe", Rationale: "sizing"},
	}

	once := models.MergeSubQueries(state, pairs)
	twice := models.MergeSubQueries(once, pairs)

	if len(twice.SubQueries) != len(once.SubQueries) {
		t.Errorf("Re-merging the same pairs grew sub-queries from %d to %d", len(once.SubQueries), len(twice.SubQueries))
	}
	if len(twice.Pending) != len(once.Pending) {
		t.Errorf("Re-merging the same pairs grew pending from %d to %d", len(once.Pending), len(twice.Pending))
	}
}

func TestMergeSubQueriesDoesNotMutateInput(t *testing.T) {
	state := newTestState(t)
	state = models.MergeSubQueries(state, []models.SubQueryPair{
		{Query: "first query", Rationale: "r1"},
	})

	next := models.MergeSubQueries(state, []models.SubQueryPair{
		{Query: "second query", Rationale: "r2"},
	})

	if len(state.SubQueries) != 1 || len(state.Pending) != 1 {
		t.Errorf("Original state was mutated: %d sub-queries, %d pending", len(state.SubQueries), len(state.Pending))
	}
	if len(next.SubQueries) != 2 {
		t.Errorf("Expected 2 sub-queries in new state, got %d", len(next.SubQueries))
	}
}

func TestFoldSearchResultCompletesSubQuery(t *testing.T) {
	state := newTestState(t)
	state = models.MergeSubQueries(state, []models.SubQueryPair{
		{Query: "winter peak demand heat pumps", Rationale: "grid impact"},
		{Query: "heat pump cop cold climate", Rationale: "efficiency"},
	})

	payload := models.SearchPayload{
		Organic: []models.OrganicResult{
			{Title: "Grid study", Link: "https://example.com/grid", Snippet: "Peak demand rises.", Position: 1},
			{Title: "COP analysis", Link: "https://example.com/cop", Snippet: "Efficiency drops below freezing.", Position: 2},
		},
	}

	state = models.FoldSearchResult(state, "winter peak demand heat pumps", payload)

	if len(state.SearchResults) != 1 {
		t.Fatalf("Expected 1 search result, got %d", len(state.SearchResults))
	}
	if !state.Completed["winter peak demand heat pumps"] {
		t.Error("Folded query should be marked completed")
	}
	if len(state.Pending) != 1 || state.Pending[0] != "heat pump cop cold climate" {
		t.Errorf("Pending queue should only hold the unsearched query, got %v", state.Pending)
	}
	if state.SubQueries[0].Status != models.SubQueryStatusCompleted {
		t.Errorf("Matching sub-query should be completed, got %s", state.SubQueries[0].Status)
	}
	if state.SubQueries[1].Status != models.SubQueryStatusPending {
		t.Errorf("Unsearched sub-query should stay pending, got %s", state.SubQueries[1].Status)
	}
	if len(state.Citations) != 2 {
		t.Errorf("Expected 2 citations, got %d", len(state.Citations))
	}
}

func TestFoldSearchResultUntrackedQuery(t *testing.T) {
	state := newTestState(t)

	payload := models.SearchPayload{
		Organic: []models.OrganicResult{
			{Title: "Result", Link: "https://example.com/a", Snippet: "snippet"},
		},
	}

	state = models.FoldSearchResult(state, "follow-up query from decision policy", payload)

	if len(state.SearchResults) != 1 {
		t.Fatalf("Expected 1 search result, got %d", len(state.SearchResults))
	}
	if !state.Completed["follow-up query from decision policy"] {
		t.Error("Untracked query should still be recorded as completed")
	}
	if len(state.Citations) != 1 {
		t.Errorf("Expected 1 citation, got %d", len(state.Citations))
	}
}

func TestExtractCitationsScoringAndNumbering(t *testing.T) {
	payload := models.SearchPayload{
		Organic: []models.OrganicResult{
			{Title: "First", Link: "https://example.com/1", Snippet: "a"},
			{Title: "", Link: "https://example.com/skipped", Snippet: "missing title"},
			{Title: "Third", Link: "https://example.com/3", Snippet: "c"},
		},
	}

	citations := models.ExtractCitations(payload, 4)

	if len(citations) != 2 {
		t.Fatalf("Expected 2 citations, got %d", len(citations))
	}
	if citations[0].ID != "cite-5" || citations[1].ID != "cite-6" {
		t.Errorf("Citation IDs should continue from start index, got %s, %s", citations[0].ID, citations[1].ID)
	}
	if math.Abs(citations[0].RelevanceScore-1.0) > 1e-9 {
		t.Errorf("Expected relevance 1.0 for first entry, got %f", citations[0].RelevanceScore)
	}
	// Scoring follows the entry's list position, not the citation count, so
	// the skipped entry still costs a decay step.
	if math.Abs(citations[1].RelevanceScore-0.8) > 1e-9 {
		t.Errorf("Expected relevance 0.8 for third entry, got %f", citations[1].RelevanceScore)
	}
}

func TestExtractCitationsScoreGoesNegative(t *testing.T) {
	organic := make([]models.OrganicResult, 12)
	for i := range organic {
		organic[i] = models.OrganicResult{
			Title:   "Result",
			Link:    "https://example.com/page",
			Snippet: "snippet",
		}
	}

	citations := models.ExtractCitations(models.SearchPayload{Organic: organic}, 0)

	if len(citations) != 12 {
		t.Fatalf("Expected 12 citations, got %d", len(citations))
	}
	last := citations[11].RelevanceScore
	if last >= 0 {
		t.Errorf("Entry past position ten should score negative, got %f", last)
	}
	if math.Abs(last-(-0.1)) > 1e-9 {
		t.Errorf("Expected relevance -0.1 for twelfth entry, got %f", last)
	}
}

func TestMarkCompleteOnce(t *testing.T) {
	state := newTestState(t)

	state = models.MarkComplete(state, models.CompletionAgentDecided)
	state = models.MarkComplete(state, models.CompletionIterationBudget)

	if state.Status != models.ResearchStatusComplete {
		t.Fatalf("Expected complete status, got %s", state.Status)
	}
	if state.CompletionReason != models.CompletionAgentDecided {
		t.Errorf("Second MarkComplete should not overwrite the reason, got %s", state.CompletionReason)
	}
}
