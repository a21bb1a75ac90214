package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ResearchDepth string

const (
	DepthBasic    ResearchDepth = "basic"
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

// DepthProfile bounds one research run: fan-out, search budget, loop budget
// and the sampling temperatures for each class of model call. Deeper profiles
// run colder decisions and synthesis while keeping decomposition exploratory.
type DepthProfile struct {
	MaxSubQueries          int
	MaxSearchesPerSubQuery int
	MaxIterations          int

	DecisionTemperature      float32
	DecompositionTemperature float32
	SynthesisTemperature     float32

	SynthesisMaxTokens int32
	EnrichTopSources   int
}

// DefaultDepthProfiles returns the static per-depth resource table. The map is
// built fresh on every call; callers treat their copy as read-only.
func DefaultDepthProfiles() map[ResearchDepth]DepthProfile {
	return map[ResearchDepth]DepthProfile{
		DepthBasic: {
			MaxSubQueries:            3,
			MaxSearchesPerSubQuery:   1,
			MaxIterations:            8,
			DecisionTemperature:      0.3,
			DecompositionTemperature: 0.7,
			SynthesisTemperature:     0.4,
			SynthesisMaxTokens:       2048,
			EnrichTopSources:         0,
		},
		DepthStandard: {
			MaxSubQueries:            5,
			MaxSearchesPerSubQuery:   2,
			MaxIterations:            12,
			DecisionTemperature:      0.2,
			DecompositionTemperature: 0.7,
			SynthesisTemperature:     0.3,
			SynthesisMaxTokens:       4096,
			EnrichTopSources:         0,
		},
		DepthDeep: {
			MaxSubQueries:            8,
			MaxSearchesPerSubQuery:   3,
			MaxIterations:            20,
			DecisionTemperature:      0.1,
			DecompositionTemperature: 0.6,
			SynthesisTemperature:     0.2,
			SynthesisMaxTokens:       8192,
			EnrichTopSources:         3,
		},
	}
}

// ResearchRequest is immutable once built: created at entry, never mutated.
type ResearchRequest struct {
	Query      string        `json:"query"`
	Depth      ResearchDepth `json:"depth"`
	MaxSources int           `json:"max_sources"`
}

// NewResearchRequest validates raw inputs before any state exists. An empty
// depth falls back to standard and a zero maxSources to 10; anything else
// invalid is rejected outright.
func NewResearchRequest(query, depth string, maxSources int) (ResearchRequest, error) {
	if strings.TrimSpace(query) == "" {
		return ResearchRequest{}, NewValidationError("EMPTY_QUERY", "research query must not be empty")
	}

	parsedDepth := DepthStandard
	if depth != "" {
		switch ResearchDepth(depth) {
		case DepthBasic, DepthStandard, DepthDeep:
			parsedDepth = ResearchDepth(depth)
		default:
			return ResearchRequest{}, NewValidationError("INVALID_DEPTH", "depth must be one of basic, standard, deep").
				WithMetadata("depth", depth)
		}
	}

	if maxSources < 0 {
		return ResearchRequest{}, NewValidationError("INVALID_MAX_SOURCES", "max sources must be positive").
			WithMetadata("max_sources", maxSources)
	}
	if maxSources == 0 {
		maxSources = 10
	}

	return ResearchRequest{
		Query:      strings.TrimSpace(query),
		Depth:      parsedDepth,
		MaxSources: maxSources,
	}, nil
}

type SubQueryStatus string

const (
	SubQueryStatusPending   SubQueryStatus = "pending"
	SubQueryStatusCompleted SubQueryStatus = "completed"
	SubQueryStatusFailed    SubQueryStatus = "failed"
)

type SubQuery struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Rationale string         `json:"rationale"`
	Status    SubQueryStatus `json:"status"`
}

// SubQueryPair is the decomposer's raw output before the state machine
// assigns identifiers and pending status.
type SubQueryPair struct {
	Query     string `json:"query"`
	Rationale string `json:"rationale"`
}

type OrganicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

type KnowledgeGraph struct {
	Title       string            `json:"title"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type RelatedQuestion struct {
	Question string `json:"question"`
	Snippet  string `json:"snippet"`
	Title    string `json:"title"`
	Link     string `json:"link"`
}

type SearchPayload struct {
	Organic         []OrganicResult   `json:"organic"`
	KnowledgeGraph  *KnowledgeGraph   `json:"knowledgeGraph,omitempty"`
	PeopleAlsoAsk   []RelatedQuestion `json:"peopleAlsoAsk,omitempty"`
	RelatedSearches []string          `json:"relatedSearches,omitempty"`
}

// SearchResult is append-only: one record per executed search call.
type SearchResult struct {
	Query     string        `json:"query"`
	Payload   SearchPayload `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
}

type Citation struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

type DecisionAction string

const (
	ActionSearch    DecisionAction = "search"
	ActionDecompose DecisionAction = "decompose"
	ActionComplete  DecisionAction = "complete"
)

// AgentDecision is transient: produced by the decision policy, consumed
// immediately by the state machine.
type AgentDecision struct {
	Action    DecisionAction `json:"action"`
	Query     string         `json:"query,omitempty"`
	Rationale string         `json:"rationale"`
}

type ResearchStatus string

const (
	ResearchStatusInProgress ResearchStatus = "in_progress"
	ResearchStatusComplete   ResearchStatus = "complete"
)

// CompletionReason records how a run reached complete. It feeds logging and
// telemetry only; the result artifact does not carry it.
type CompletionReason string

const (
	CompletionAgentDecided    CompletionReason = "agent_decided"
	CompletionIterationBudget CompletionReason = "iteration_budget"
	CompletionSearchBudget    CompletionReason = "search_budget"
	CompletionPartialFailure  CompletionReason = "partial_failure"
)

// ResearchState is the aggregate threaded through the control loop as a value.
// Every transform in state.go returns a fresh copy; no component keeps a
// long-lived mutable handle.
type ResearchState struct {
	ID            string
	OriginalQuery string
	Depth         ResearchDepth
	MaxSources    int

	SubQueries    []SubQuery
	SearchResults []SearchResult
	Completed     map[string]bool
	Pending       []string
	Citations     []Citation

	Status           ResearchStatus
	CompletionReason CompletionReason
}

func NewResearchState(req ResearchRequest) ResearchState {
	return ResearchState{
		ID:            uuid.New().String(),
		OriginalQuery: req.Query,
		Depth:         req.Depth,
		MaxSources:    req.MaxSources,
		Completed:     map[string]bool{},
		Status:        ResearchStatusInProgress,
	}
}

type ResearchResult struct {
	Answer              string     `json:"answer"`
	Citations           []Citation `json:"citations"`
	SubQueriesGenerated int        `json:"sub_queries_generated"`
	SubQueriesCompleted int        `json:"sub_queries_completed"`
	SearchesPerformed   int        `json:"searches_performed"`
}

// BuildResult assembles the terminal artifact from the final state. The
// citation list is passed through as accumulated, duplicates included.
func BuildResult(answer string, state ResearchState) *ResearchResult {
	return &ResearchResult{
		Answer:              answer,
		Citations:           state.Citations,
		SubQueriesGenerated: len(state.SubQueries),
		SubQueriesCompleted: len(state.Completed),
		SearchesPerformed:   len(state.SearchResults),
	}
}

func GenerateResearchID() string {
	return uuid.New().String()
}
