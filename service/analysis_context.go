package service

import (
	"context"
	"fmt"
	"sort"

	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
)

// ReferenceSource looks up statute and case-law text for agent prompts
type ReferenceSource interface {
	SearchByTopic(ctx context.Context, topics []string, query string, limit int) ([]models.LegalReference, error)
}

// ContextBuilder assembles the AnalysisContext handed to each agent
type ContextBuilder struct {
	catalog        *models.AgentCatalog
	cases          repository.CaseStore
	runs           repository.RunStore
	references     ReferenceSource
	referenceLimit int
	logger         logger.Logger
}

// NewContextBuilder creates a context builder. references may be nil.
func NewContextBuilder(
	catalog *models.AgentCatalog,
	cases repository.CaseStore,
	runs repository.RunStore,
	references ReferenceSource,
	referenceLimit int,
	l logger.Logger,
) *ContextBuilder {
	if l == nil {
		l = logger.NewNop()
	}
	if referenceLimit <= 0 {
		referenceLimit = 8
	}
	return &ContextBuilder{
		catalog:        catalog,
		cases:          cases,
		runs:           runs,
		references:     references,
		referenceLimit: referenceLimit,
		logger:         l,
	}
}

// ForAgent builds the context for a non-aggregator agent: case materials, references
// for the agent's topics, and the latest completed output of every agent ordered before it.
func (b *ContextBuilder) ForAgent(ctx context.Context, c *models.Case, agent models.AgentDefinition) (AnalysisContext, error) {
	actx := baseContext(c)

	volumes, err := b.cases.ListVolumes(ctx, c.ID)
	if err != nil {
		return actx, fmt.Errorf("failed to load volumes: %w", err)
	}
	for _, v := range volumes {
		actx.Volumes = append(actx.Volumes, VolumeExcerpt{
			ID:        v.ID,
			Title:     v.Title,
			PageCount: v.PageCount,
			Text:      v.Text,
		})
	}

	actx.References = b.lookupReferences(ctx, c, agent)

	latest, err := b.runs.LatestRunsByCase(ctx, c.ID)
	if err != nil {
		return actx, fmt.Errorf("failed to load prior runs: %w", err)
	}
	for _, run := range b.completedInOrder(latest) {
		def, _ := b.catalog.Lookup(run.AgentID)
		if def.IsAggregator() || def.Order >= agent.Order {
			continue
		}
		actx.PriorOutputs = append(actx.PriorOutputs, priorOutput(run, def))
	}
	return actx, nil
}

// ForAggregator builds the synthesis context from the chosen source runs and the registry
func (b *ContextBuilder) ForAggregator(c *models.Case, sources []*models.AgentAnalysisRun, registry []*models.EvidenceItem) AnalysisContext {
	actx := baseContext(c)
	for _, run := range b.completedInOrder(sources) {
		def, _ := b.catalog.Lookup(run.AgentID)
		actx.PriorOutputs = append(actx.PriorOutputs, priorOutput(run, def))
	}
	actx.Evidence = registry
	return actx
}

func (b *ContextBuilder) lookupReferences(ctx context.Context, c *models.Case, agent models.AgentDefinition) []models.LegalReference {
	if b.references == nil || len(agent.ReferenceTopics) == 0 {
		return nil
	}
	refs, err := b.references.SearchByTopic(ctx, agent.ReferenceTopics, c.LegalQuestion, b.referenceLimit)
	if err != nil {
		b.logger.Warn("analysis_context", "reference lookup failed, continuing without references", map[string]interface{}{
			"case":  c.ID.String(),
			"agent": string(agent.ID),
			"error": err.Error(),
		})
		return nil
	}
	return refs
}

// completedInOrder keeps completed runs of known agents, sorted by catalog order
func (b *ContextBuilder) completedInOrder(runs []*models.AgentAnalysisRun) []*models.AgentAnalysisRun {
	out := make([]*models.AgentAnalysisRun, 0, len(runs))
	for _, run := range runs {
		if run.Status != models.RunStatusCompleted {
			continue
		}
		if _, ok := b.catalog.Lookup(run.AgentID); !ok {
			continue
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := b.catalog.Lookup(out[i].AgentID)
		c, _ := b.catalog.Lookup(out[j].AgentID)
		return a.Order < c.Order
	})
	return out
}

func baseContext(c *models.Case) AnalysisContext {
	actx := AnalysisContext{
		CaseTitle:     c.Title,
		Facts:         c.Facts,
		LegalQuestion: c.LegalQuestion,
	}
	if c.CaseNumber != nil {
		actx.CaseNumber = *c.CaseNumber
	}
	return actx
}

func priorOutput(run *models.AgentAnalysisRun, def models.AgentDefinition) PriorOutput {
	p := PriorOutput{
		RunID:     run.ID,
		AgentID:   run.AgentID,
		AgentName: def.Name,
		Result:    run.Result,
		Findings:  run.Findings,
	}
	if run.Summary != nil {
		p.Summary = *run.Summary
	}
	return p
}
