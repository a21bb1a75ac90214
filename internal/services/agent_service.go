package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"
)

const (
	decompositionFallbackRationale = "direct search of the original question (decomposition output unusable)"
	decisionFallbackRationale      = "deterministic fallback (decision output unusable)"

	maxSnippetsPerDecision = 3
	maxSnippetLength       = 200
	maxSourcesPerSynthesis = 5
)

// AgentService hosts the three model-backed policies of the engine: query
// decomposition, next-action decisions and final synthesis. Decomposition
// and decisions never fail; synthesis failures propagate.
type AgentService struct {
	llm      LanguageModel
	profiles map[models.ResearchDepth]models.DepthProfile
	logger   *logger.Logger
}

func NewAgentService(llm LanguageModel, profiles map[models.ResearchDepth]models.DepthProfile, log *logger.Logger) *AgentService {
	return &AgentService{
		llm:      llm,
		profiles: profiles,
		logger:   log,
	}
}

func (service *AgentService) profileFor(depth models.ResearchDepth) models.DepthProfile {
	if profile, ok := service.profiles[depth]; ok {
		return profile
	}
	return service.profiles[models.DepthStandard]
}

// DecomposeQuery expands one research query into at most the profile's
// sub-query budget. Any model or parse failure degrades to a single-element
// list carrying the original query verbatim.
func (service *AgentService) DecomposeQuery(ctx context.Context, query string, depth models.ResearchDepth) []models.SubQueryPair {
	startTime := time.Now()
	profile := service.profileFor(depth)

	prompt := service.buildDecompositionPrompt(query, profile.MaxSubQueries)

	response, err := service.llm.Complete(ctx, prompt, GenerationOptions{
		Temperature:     profile.DecompositionTemperature,
		MaxOutputTokens: 1024,
		SystemRole:      "You are an expert research planner who breaks broad questions into focused search queries.",
	})

	var pairs []models.SubQueryPair
	if err != nil {
		service.logger.WithError(err).Warn("Decomposition call failed, using original query", "query", query)
	} else {
		pairs, err = service.parseSubQueryPairs(response)
		if err != nil {
			service.logger.WithError(err).Warn("Failed to parse decomposition response, using original query", "query", query)
		}
	}

	if len(pairs) > profile.MaxSubQueries {
		pairs = pairs[:profile.MaxSubQueries]
	}

	if len(pairs) == 0 {
		pairs = []models.SubQueryPair{{
			Query:     query,
			Rationale: decompositionFallbackRationale,
		}}
	}

	service.logger.LogAgent("", "decomposer", "decompose_query", time.Since(startTime), map[string]interface{}{
		"query":           query,
		"sub_query_count": len(pairs),
		"max_sub_queries": profile.MaxSubQueries,
		"used_fallback":   err != nil,
		"depth":           string(depth),
	}, nil)

	return pairs
}

func (service *AgentService) buildDecompositionPrompt(query string, count int) string {
	return fmt.Sprintf(`You are a research planning agent. Break the research question below into focused web search queries.

Research Question:
"%s"

Instructions:
1. Produce at most %d sub-queries, each answerable by a single web search.
2. Cover distinct aspects of the question; do not produce near-duplicates.
3. For each sub-query, explain in one sentence why it helps answer the question.

Response Format (JSON only, no markdown, no additional text):
[
  {"query": "first focused search query", "rationale": "why this query helps"},
  {"query": "second focused search query", "rationale": "why this query helps"}
]`, query, count)
}

func (service *AgentService) parseSubQueryPairs(response string) ([]models.SubQueryPair, error) {
	response = stripCodeFences(response)
	if response == "" {
		return nil, fmt.Errorf("empty decomposition response")
	}

	var parsed []models.SubQueryPair
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	pairs := make([]models.SubQueryPair, 0, len(parsed))
	for _, pair := range parsed {
		pair.Query = strings.TrimSpace(pair.Query)
		if pair.Query == "" {
			continue
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

// DecideNextAction chooses the next loop action from the accumulated state.
// It always returns a usable decision: validation failures collapse to a
// deterministic fallback that never repeats work already done.
func (service *AgentService) DecideNextAction(ctx context.Context, state models.ResearchState, depth models.ResearchDepth) models.AgentDecision {
	startTime := time.Now()
	profile := service.profileFor(depth)

	prompt := service.buildDecisionPrompt(state)

	response, err := service.llm.Complete(ctx, prompt, GenerationOptions{
		Temperature:     profile.DecisionTemperature,
		MaxOutputTokens: 512,
		SystemRole:      "You are a research coordinator deciding the next step of an ongoing investigation.",
	})

	var decision models.AgentDecision
	parseFailed := false
	if err != nil {
		service.logger.WithError(err).Warn("Decision call failed, using fallback", "research_id", state.ID)
		parseFailed = true
	} else {
		decision, err = service.parseDecision(response)
		if err != nil {
			service.logger.WithError(err).Warn("Failed to parse decision response, using fallback", "research_id", state.ID)
			parseFailed = true
		}
	}

	if parseFailed {
		decision = fallbackDecision(state)
	}

	service.logger.LogAgent(state.ID, "decision_policy", "decide_next_action", time.Since(startTime), map[string]interface{}{
		"action":        string(decision.Action),
		"query":         decision.Query,
		"used_fallback": parseFailed,
		"depth":         string(depth),
	}, nil)

	return decision
}

func (service *AgentService) buildDecisionPrompt(state models.ResearchState) string {
	completed := make([]string, 0, len(state.SearchResults))
	for _, result := range state.SearchResults {
		completed = append(completed, result.Query)
	}

	pending := strings.Join(state.Pending, "\n- ")
	if pending == "" {
		pending = "(none)"
	} else {
		pending = "- " + pending
	}

	completedList := strings.Join(completed, "\n- ")
	if completedList == "" {
		completedList = "(none)"
	} else {
		completedList = "- " + completedList
	}

	return fmt.Sprintf(`You are coordinating a web research session.

Original Research Question:
"%s"

Searches Completed:
%s

Pending Sub-Queries:
%s

Findings So Far:
%s

Decide the single next action:
- "search" if one more targeted search would materially improve the answer (provide the query)
- "decompose" if the question needs to be broken down further into new sub-queries
- "complete" if the accumulated findings are sufficient to answer the question

Response Format (JSON only, no markdown, no additional text):
{"action": "search" | "decompose" | "complete", "query": "required only for search", "rationale": "one sentence explaining the choice"}`,
		state.OriginalQuery, completedList, pending, summarizeFindings(state))
}

// summarizeFindings renders a bounded digest of search results so the
// decision prompt stays small regardless of how much evidence accumulated.
func summarizeFindings(state models.ResearchState) string {
	if len(state.SearchResults) == 0 {
		return "(no results yet)"
	}

	var builder strings.Builder
	for _, result := range state.SearchResults {
		builder.WriteString(fmt.Sprintf("Query: %s\n", result.Query))
		for i, entry := range result.Payload.Organic {
			if i >= maxSnippetsPerDecision {
				break
			}
			snippet := entry.Snippet
			if len(snippet) > maxSnippetLength {
				snippet = snippet[:maxSnippetLength] + "..."
			}
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", entry.Title, snippet))
		}
	}
	return builder.String()
}

func (service *AgentService) parseDecision(response string) (models.AgentDecision, error) {
	response = stripCodeFences(response)
	if response == "" {
		return models.AgentDecision{}, fmt.Errorf("empty decision response")
	}

	var decision models.AgentDecision
	if err := json.Unmarshal([]byte(response), &decision); err != nil {
		return models.AgentDecision{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	switch decision.Action {
	case models.ActionSearch:
		if strings.TrimSpace(decision.Query) == "" {
			return models.AgentDecision{}, fmt.Errorf("search action missing query")
		}
	case models.ActionDecompose, models.ActionComplete:
	default:
		return models.AgentDecision{}, fmt.Errorf("unknown action: %q", decision.Action)
	}

	decision.Query = strings.TrimSpace(decision.Query)
	return decision, nil
}

// fallbackDecision is deterministic: with any evidence at hand it completes,
// otherwise it searches the first pending sub-query or the original question.
func fallbackDecision(state models.ResearchState) models.AgentDecision {
	if len(state.SearchResults) > 0 {
		return models.AgentDecision{
			Action:    models.ActionComplete,
			Rationale: decisionFallbackRationale,
		}
	}

	if next, ok := state.PeekPending(); ok {
		return models.AgentDecision{
			Action:    models.ActionSearch,
			Query:     next,
			Rationale: decisionFallbackRationale,
		}
	}

	return models.AgentDecision{
		Action:    models.ActionSearch,
		Query:     state.OriginalQuery,
		Rationale: decisionFallbackRationale,
	}
}

// Synthesize turns the accumulated evidence into the final cited answer.
// There is no degraded mode here: a failure after a successful loop is a
// reportable engine failure.
func (service *AgentService) Synthesize(ctx context.Context, state models.ResearchState, pageContent map[string]string, depth models.ResearchDepth) (string, error) {
	startTime := time.Now()
	profile := service.profileFor(depth)

	prompt := service.buildSynthesisPrompt(state, pageContent)

	answer, err := service.llm.Complete(ctx, prompt, GenerationOptions{
		Temperature:     profile.SynthesisTemperature,
		MaxOutputTokens: profile.SynthesisMaxTokens,
		SystemRole:      "You are an expert research writer producing accurate, well-cited answers.",
	})

	duration := time.Since(startTime)
	if err != nil {
		service.logger.LogAgent(state.ID, "synthesizer", "synthesize_answer", duration, map[string]interface{}{
			"search_count": len(state.SearchResults),
		}, err)
		return "", models.WrapExternalError("SYNTHESIS", err)
	}

	service.logger.LogAgent(state.ID, "synthesizer", "synthesize_answer", duration, map[string]interface{}{
		"search_count":  len(state.SearchResults),
		"answer_length": len(answer),
	}, nil)

	return answer, nil
}

func (service *AgentService) buildSynthesisPrompt(state models.ResearchState, pageContent map[string]string) string {
	rationales := make(map[string]string, len(state.SubQueries))
	for _, sq := range state.SubQueries {
		rationales[sq.Query] = sq.Rationale
	}

	var evidence strings.Builder
	citationIndex := 0
	for _, result := range state.SearchResults {
		evidence.WriteString(fmt.Sprintf("Sub-Query: %s\n", result.Query))
		if rationale := rationales[result.Query]; rationale != "" {
			evidence.WriteString(fmt.Sprintf("Rationale: %s\n", rationale))
		}
		for i, entry := range result.Payload.Organic {
			if i >= maxSourcesPerSynthesis {
				break
			}
			citationIndex++
			evidence.WriteString(fmt.Sprintf("[%d] %s (%s)\n    %s\n", citationIndex, entry.Title, entry.Link, entry.Snippet))
			if content, ok := pageContent[entry.Link]; ok && content != "" {
				evidence.WriteString(fmt.Sprintf("    Extract: %s\n", content))
			}
		}
		evidence.WriteString("\n")
	}

	return fmt.Sprintf(`You are a research synthesis agent. Write a single comprehensive answer to the research question using only the evidence below.

Research Question:
"%s"

Evidence:
%s

Instructions:
1. Answer the question directly and completely, synthesizing across all sub-queries.
2. Cite sources inline using their bracketed numbers, e.g. [1], [3].
3. Include specific facts, figures, names and dates found in the evidence.
4. Do not speculate beyond the evidence; note open questions where the evidence is thin.
5. Keep the tone objective and professional.

Return only the final answer text.`, state.OriginalQuery, evidence.String())
}

func stripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
	}
	return strings.TrimSpace(response)
}
