package models

import (
	"fmt"
	"time"
)

// Pure transforms over ResearchState. Each function copies the fields it
// touches and returns a new value; callers replace their state wholesale.

// KnownQueries is the dedup key set for sub-query merging: every query text
// tracked anywhere in the state.
func (s ResearchState) KnownQueries() map[string]bool {
	known := make(map[string]bool, len(s.SubQueries)+len(s.Pending)+len(s.Completed))
	for _, sq := range s.SubQueries {
		known[sq.Query] = true
	}
	for _, q := range s.Pending {
		known[q] = true
	}
	for q := range s.Completed {
		known[q] = true
	}
	return known
}

func (s ResearchState) HasPending() bool {
	return len(s.Pending) > 0
}

// PeekPending returns the head of the FIFO pending queue.
func (s ResearchState) PeekPending() (string, bool) {
	if len(s.Pending) == 0 {
		return "", false
	}
	return s.Pending[0], true
}

// MergeSubQueries appends each pair whose query text is not already tracked,
// as a fresh pending SubQuery. Merging the same pairs twice is a no-op.
func MergeSubQueries(state ResearchState, pairs []SubQueryPair) ResearchState {
	known := state.KnownQueries()

	subQueries := cloneSubQueries(state.SubQueries)
	pending := cloneStrings(state.Pending)

	for _, pair := range pairs {
		if pair.Query == "" || known[pair.Query] {
			continue
		}
		known[pair.Query] = true
		subQueries = append(subQueries, SubQuery{
			ID:        GenerateResearchID(),
			Query:     pair.Query,
			Rationale: pair.Rationale,
			Status:    SubQueryStatusPending,
		})
		pending = append(pending, pair.Query)
	}

	next := state
	next.SubQueries = subQueries
	next.Pending = pending
	return next
}

// FoldSearchResult appends one executed search and its derived citations,
// flips the matching sub-query to completed and drops it from the pending
// queue. The query need not be a tracked sub-query (decision-policy searches
// fold the same way).
func FoldSearchResult(state ResearchState, query string, payload SearchPayload) ResearchState {
	next := state

	results := make([]SearchResult, len(state.SearchResults), len(state.SearchResults)+1)
	copy(results, state.SearchResults)
	next.SearchResults = append(results, SearchResult{
		Query:     query,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	subQueries := cloneSubQueries(state.SubQueries)
	for i := range subQueries {
		if subQueries[i].Query == query {
			subQueries[i].Status = SubQueryStatusCompleted
		}
	}
	next.SubQueries = subQueries

	pending := make([]string, 0, len(state.Pending))
	for _, q := range state.Pending {
		if q != query {
			pending = append(pending, q)
		}
	}
	next.Pending = pending

	completed := make(map[string]bool, len(state.Completed)+1)
	for q := range state.Completed {
		completed[q] = true
	}
	completed[query] = true
	next.Completed = completed

	citations := make([]Citation, len(state.Citations), len(state.Citations)+len(payload.Organic))
	copy(citations, state.Citations)
	next.Citations = append(citations, ExtractCitations(payload, len(state.Citations))...)

	return next
}

// ExtractCitations derives one citation per organic entry carrying a title
// and link. Relevance decays 0.1 per list position; entries past position ten
// go negative and are kept anyway, matching the established scoring behavior.
func ExtractCitations(payload SearchPayload, startIndex int) []Citation {
	var citations []Citation
	for i, entry := range payload.Organic {
		if entry.Title == "" || entry.Link == "" {
			continue
		}
		citations = append(citations, Citation{
			ID:             fmt.Sprintf("cite-%d", startIndex+len(citations)+1),
			Title:          entry.Title,
			URL:            entry.Link,
			Snippet:        entry.Snippet,
			RelevanceScore: 1.0 - 0.1*float64(i),
		})
	}
	return citations
}

// MarkComplete transitions in_progress to complete exactly once. A state that
// is already complete is returned unchanged, reason included.
func MarkComplete(state ResearchState, reason CompletionReason) ResearchState {
	if state.Status == ResearchStatusComplete {
		return state
	}
	next := state
	next.Status = ResearchStatusComplete
	next.CompletionReason = reason
	return next
}

func cloneSubQueries(in []SubQuery) []SubQuery {
	out := make([]SubQuery, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
