package models

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// AgentID identifies one analysis agent in the catalog
type AgentID string

const (
	AgentEvidenceCollector     AgentID = "evidence_collector"
	AgentEvidenceAdmissibility AgentID = "evidence_admissibility"
	AgentChargeQualification   AgentID = "charge_qualification"
	AgentProceduralViolations  AgentID = "procedural_violations"
	AgentSubstantiveViolations AgentID = "substantive_violations"
	AgentDefenseStrategy       AgentID = "defense_strategy"
	AgentProsecutionWeaknesses AgentID = "prosecution_weaknesses"
	AgentRightsViolations      AgentID = "rights_violations"
	AgentAggregator            AgentID = "aggregator"
)

// AgentRole groups agents by the kind of output they produce
type AgentRole string

const (
	RoleExtraction AgentRole = "extraction"
	RoleViolations AgentRole = "violations"
	RoleStrategy   AgentRole = "strategy"
	RoleSynthesis  AgentRole = "synthesis"
)

// EvidenceRole describes how an agent's findings relate to the evidence registry
type EvidenceRole string

const (
	EvidenceCollects   EvidenceRole = "collects"
	EvidenceAssesses   EvidenceRole = "assesses"
	EvidenceReferences EvidenceRole = "references"
)

// DescribesEvidence reports whether the agent's evidence descriptors may add registry items
func (r EvidenceRole) DescribesEvidence() bool {
	return r == EvidenceCollects || r == EvidenceAssesses
}

// AgentDefinition is one immutable catalog entry
type AgentDefinition struct {
	ID              AgentID      `json:"id" yaml:"id"`
	Order           int          `json:"order" yaml:"order"`
	Name            string       `json:"name" yaml:"name"`
	Description     string       `json:"description" yaml:"description"`
	Role            AgentRole    `json:"role" yaml:"role"`
	EvidenceRole    EvidenceRole `json:"evidence_role" yaml:"evidence_role"`
	ReferenceTopics []string     `json:"reference_topics" yaml:"reference_topics"`
	Instructions    string       `json:"-" yaml:"instructions"`
}

// IsAggregator reports whether the definition is the synthesis agent
func (d AgentDefinition) IsAggregator() bool {
	return d.ID == AgentAggregator
}

// AgentCatalog is the ordered list of agent definitions
type AgentCatalog struct {
	agents []AgentDefinition
	byID   map[AgentID]AgentDefinition
}

//go:embed catalog.yaml
var catalogYAML []byte

var defaultCatalog = mustLoadCatalog(catalogYAML)

// DefaultCatalog returns the catalog embedded in the binary
func DefaultCatalog() *AgentCatalog {
	return defaultCatalog
}

func mustLoadCatalog(data []byte) *AgentCatalog {
	c, err := ParseCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("models: invalid embedded agent catalog: %v", err))
	}
	return c
}

var requiredAgents = []AgentID{
	AgentEvidenceCollector,
	AgentEvidenceAdmissibility,
	AgentChargeQualification,
	AgentProceduralViolations,
	AgentSubstantiveViolations,
	AgentDefenseStrategy,
	AgentProsecutionWeaknesses,
	AgentRightsViolations,
	AgentAggregator,
}

// ParseCatalog decodes and validates a YAML catalog document
func ParseCatalog(data []byte) (*AgentCatalog, error) {
	var doc struct {
		Agents []AgentDefinition `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewAgentCatalog(doc.Agents)
}

// NewAgentCatalog validates the definitions and sorts them by execution order
func NewAgentCatalog(defs []AgentDefinition) (*AgentCatalog, error) {
	byID := make(map[AgentID]AgentDefinition, len(defs))
	orders := make(map[int]AgentID, len(defs))
	for _, def := range defs {
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %q", def.ID)
		}
		if other, dup := orders[def.Order]; dup {
			return nil, fmt.Errorf("agents %q and %q share order %d", other, def.ID, def.Order)
		}
		byID[def.ID] = def
		orders[def.Order] = def.ID
	}
	for _, id := range requiredAgents {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("missing agent %q", id)
		}
	}
	if len(byID) != len(requiredAgents) {
		return nil, fmt.Errorf("expected %d agents, got %d", len(requiredAgents), len(byID))
	}

	sorted := make([]AgentDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	if !sorted[len(sorted)-1].IsAggregator() {
		return nil, fmt.Errorf("aggregator must run last")
	}

	return &AgentCatalog{agents: sorted, byID: byID}, nil
}

// Agents returns the definitions in execution order
func (c *AgentCatalog) Agents() []AgentDefinition {
	out := make([]AgentDefinition, len(c.agents))
	copy(out, c.agents)
	return out
}

// AnalysisAgents returns every agent except the aggregator, in execution order
func (c *AgentCatalog) AnalysisAgents() []AgentDefinition {
	out := make([]AgentDefinition, 0, len(c.agents)-1)
	for _, def := range c.agents {
		if !def.IsAggregator() {
			out = append(out, def)
		}
	}
	return out
}

// Lookup returns the definition for an agent id
func (c *AgentCatalog) Lookup(id AgentID) (AgentDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}
