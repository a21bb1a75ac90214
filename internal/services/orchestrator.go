package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"
)

// Orchestrator owns the research control loop: it seeds the initial
// decomposition, drains pending sub-queries through the search port,
// consults the decision policy when nothing is pending, and hands the
// final state to the synthesizer exactly once.
type Orchestrator struct {
	search    SearchProvider
	agent     *AgentService
	llm       LanguageModel
	telemetry TelemetrySink
	enricher  *EnrichmentService

	profiles map[models.ResearchDepth]models.DepthProfile
	config   config.Config
	logger   *logger.Logger

	activeResearch sync.Map // research_id -> models.ResearchRequest
	startTime      time.Time
}

type researchExecutor struct {
	orchestrator *Orchestrator
	profile      models.DepthProfile
	logger       *logger.Logger
}

func NewOrchestrator(
	search SearchProvider,
	agent *AgentService,
	llm LanguageModel,
	telemetry TelemetrySink,
	enricher *EnrichmentService,
	cfg config.Config,
	log *logger.Logger) *Orchestrator {

	orchestrator := &Orchestrator{
		search:    search,
		agent:     agent,
		llm:       llm,
		telemetry: telemetry,
		enricher:  enricher,
		profiles:  models.DefaultDepthProfiles(),
		config:    cfg,
		logger:    log,
		startTime: time.Now(),
	}

	log.Info("Orchestrator Initialized Successfully",
		"depth_profiles", len(orchestrator.profiles),
		"enrichment_enabled", enricher != nil)

	return orchestrator
}

// ExecuteResearch is the engine entry point: it runs the bounded loop for one
// request and always either returns a synthesized result or a single
// normalized research-failed error.
func (orchestrator *Orchestrator) ExecuteResearch(ctx context.Context, req models.ResearchRequest) (*models.ResearchResult, error) {
	startTime := time.Now()

	profile, ok := orchestrator.profiles[req.Depth]
	if !ok {
		return nil, models.NewValidationError("INVALID_DEPTH", "no depth profile configured").
			WithMetadata("depth", string(req.Depth))
	}

	state := models.NewResearchState(req)

	orchestrator.activeResearch.Store(state.ID, req)
	defer orchestrator.activeResearch.Delete(state.ID)

	orchestrator.logger.LogResearch(state.ID, "research_started", 0, nil)
	orchestrator.publishEvent(ctx, state.ID, EventOperationStarted, "Research started", map[string]interface{}{
		"query":       req.Query,
		"depth":       string(req.Depth),
		"max_sources": req.MaxSources,
	})

	executor := &researchExecutor{
		orchestrator: orchestrator,
		profile:      profile,
		logger:       orchestrator.logger,
	}

	finalState, err := executor.runLoop(ctx, state)
	if err != nil {
		duration := time.Since(startTime)
		orchestrator.logger.LogResearch(state.ID, "research_failed", duration, err)
		orchestrator.publishEvent(ctx, state.ID, EventExecutionIssue, "Research failed without evidence", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, models.NewResearchFailedError("research could not gather any evidence").WithCause(err)
	}

	var pageContent map[string]string
	if orchestrator.enricher != nil && profile.EnrichTopSources > 0 {
		pageContent = orchestrator.enricher.EnrichCitations(ctx, finalState.Citations, profile.EnrichTopSources)
	}

	answer, err := orchestrator.agent.Synthesize(ctx, finalState, pageContent, req.Depth)
	if err != nil {
		duration := time.Since(startTime)
		orchestrator.logger.LogResearch(state.ID, "synthesis_failed", duration, err)
		orchestrator.publishEvent(ctx, state.ID, EventExecutionIssue, "Synthesis failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, models.NewResearchFailedError("answer synthesis failed").WithCause(err)
	}

	orchestrator.publishEvent(ctx, state.ID, EventSynthesisCompleted, "Synthesis completed", map[string]interface{}{
		"answer_length": len(answer),
	})

	result := models.BuildResult(answer, finalState)

	duration := time.Since(startTime)
	orchestrator.logger.LogResearch(state.ID, "research_completed", duration, nil)
	orchestrator.publishEvent(ctx, state.ID, EventOperationCompleted, "Research completed", map[string]interface{}{
		"completion_reason":     string(finalState.CompletionReason),
		"searches_performed":    result.SearchesPerformed,
		"sub_queries_generated": result.SubQueriesGenerated,
		"citations":             len(result.Citations),
	})

	return result, nil
}

// runLoop advances the state machine one step per iteration until the state
// is complete or the depth profile's iteration budget runs out. A step error
// with evidence in hand degrades to forced completion; without evidence it is
// fatal.
func (executor *researchExecutor) runLoop(ctx context.Context, state models.ResearchState) (models.ResearchState, error) {
	for iteration := 1; iteration <= executor.profile.MaxIterations; iteration++ {
		if state.Status == models.ResearchStatusComplete {
			break
		}

		nextState, err := executor.step(ctx, state)
		if err != nil {
			if len(state.SearchResults) > 0 {
				executor.logger.WithError(err).Warn("Research step failed, completing with partial evidence",
					"research_id", state.ID,
					"iteration", iteration,
					"searches_performed", len(state.SearchResults))
				executor.orchestrator.publishEvent(ctx, state.ID, EventExecutionIssue, "Step failed, degrading to partial evidence", map[string]interface{}{
					"iteration": iteration,
					"error":     err.Error(),
				})
				state = models.MarkComplete(state, models.CompletionPartialFailure)
				break
			}
			return state, err
		}

		state = nextState
	}

	if state.Status != models.ResearchStatusComplete {
		executor.logger.Info("Iteration budget exhausted, forcing completion",
			"research_id", state.ID,
			"max_iterations", executor.profile.MaxIterations)
		state = models.MarkComplete(state, models.CompletionIterationBudget)
	}

	return state, nil
}

func (executor *researchExecutor) step(ctx context.Context, state models.ResearchState) (models.ResearchState, error) {
	switch {
	case len(state.SubQueries) == 0:
		return executor.decompose(ctx, state)
	case state.HasPending():
		query, _ := state.PeekPending()
		return executor.executeSearch(ctx, state, query)
	default:
		return executor.decide(ctx, state)
	}
}

func (executor *researchExecutor) decompose(ctx context.Context, state models.ResearchState) (models.ResearchState, error) {
	pairs := executor.orchestrator.agent.DecomposeQuery(ctx, state.OriginalQuery, state.Depth)

	before := len(state.SubQueries)
	state = models.MergeSubQueries(state, pairs)

	executor.orchestrator.publishEvent(ctx, state.ID, EventDecompositionCompleted, "Decomposition completed", map[string]interface{}{
		"new_sub_queries":   len(state.SubQueries) - before,
		"total_sub_queries": len(state.SubQueries),
	})

	return state, nil
}

func (executor *researchExecutor) executeSearch(ctx context.Context, state models.ResearchState, query string) (models.ResearchState, error) {
	payload, err := executor.orchestrator.search.Search(ctx, query, &SearchHints{
		NumResults: state.MaxSources,
	})
	if err != nil {
		return state, err
	}

	citationsBefore := len(state.Citations)
	state = models.FoldSearchResult(state, query, *payload)

	executor.orchestrator.publishEvent(ctx, state.ID, EventSearchExecuted, "Search executed", map[string]interface{}{
		"query":         query,
		"organic_count": len(payload.Organic),
	})
	executor.orchestrator.publishEvent(ctx, state.ID, EventSourcesProcessed, "Sources processed", map[string]interface{}{
		"citations_added": len(state.Citations) - citationsBefore,
		"citations_total": len(state.Citations),
	})

	return state, nil
}

func (executor *researchExecutor) decide(ctx context.Context, state models.ResearchState) (models.ResearchState, error) {
	decision := executor.orchestrator.agent.DecideNextAction(ctx, state, state.Depth)

	switch decision.Action {
	case models.ActionSearch:
		// The decision policy may re-search a query it already covered;
		// the per-sub-query search cap keeps that from looping until the
		// iteration budget burns down.
		if executor.searchCount(state, decision.Query) >= executor.profile.MaxSearchesPerSubQuery {
			executor.logger.Info("Search budget for query exhausted, completing",
				"research_id", state.ID,
				"query", decision.Query)
			return models.MarkComplete(state, models.CompletionSearchBudget), nil
		}
		return executor.executeSearch(ctx, state, decision.Query)

	case models.ActionDecompose:
		// Decomposition always re-targets the original question, not a
		// narrower follow-up topic.
		return executor.decompose(ctx, state)

	case models.ActionComplete:
		return models.MarkComplete(state, models.CompletionAgentDecided), nil

	default:
		return state, models.NewInternalError("INVALID_DECISION", "decision policy produced an unknown action").
			WithMetadata("action", string(decision.Action))
	}
}

func (executor *researchExecutor) searchCount(state models.ResearchState, query string) int {
	count := 0
	for _, result := range state.SearchResults {
		if result.Query == query {
			count++
		}
	}
	return count
}

// publishEvent is fire-and-forget: a telemetry failure is logged and never
// affects the research run.
func (orchestrator *Orchestrator) publishEvent(ctx context.Context, researchID, eventType, message string, data map[string]interface{}) {
	event := &TelemetryEvent{
		ResearchID: researchID,
		Type:       eventType,
		Message:    message,
		Data:       data,
		Timestamp:  time.Now(),
	}

	if err := orchestrator.telemetry.Publish(ctx, event); err != nil {
		orchestrator.logger.WithError(err).Error("Failed to publish telemetry event",
			"event_type", eventType,
			"research_id", researchID)
	}
}

func (orchestrator *Orchestrator) GetActiveResearchCount() int {
	count := 0
	orchestrator.activeResearch.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (orchestrator *Orchestrator) HealthCheck(ctx context.Context) error {
	services := map[string]func() error{
		"search":    func() error { return orchestrator.search.HealthCheck(ctx) },
		"llm":       func() error { return orchestrator.llm.HealthCheck(ctx) },
		"telemetry": func() error { return orchestrator.telemetry.HealthCheck(ctx) },
	}

	for serviceName, healthCheck := range services {
		if err := healthCheck(); err != nil {
			return fmt.Errorf("service %s health check failed: %w", serviceName, err)
		}
	}

	return nil
}

func (orchestrator *Orchestrator) GetStats() map[string]interface{} {
	uptime := time.Since(orchestrator.startTime)

	return map[string]interface{}{
		"service":            "research_orchestrator",
		"uptime_seconds":     uptime.Seconds(),
		"active_research":    orchestrator.GetActiveResearchCount(),
		"depth_profiles":     len(orchestrator.profiles),
		"supported_depths":   []string{"basic", "standard", "deep"},
		"enrichment_enabled": orchestrator.enricher != nil,
	}
}

func (orchestrator *Orchestrator) Close() error {
	orchestrator.logger.Info("Orchestrator shutting down")

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			activeCount := orchestrator.GetActiveResearchCount()
			if activeCount > 0 {
				orchestrator.logger.Warn("Timeout waiting for research runs to complete", "active_research", activeCount)
			}
			return nil
		case <-ticker.C:
			if orchestrator.GetActiveResearchCount() == 0 {
				orchestrator.logger.Info("All research runs completed, orchestrator closed")
				return nil
			}
		}
	}
}
