package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
)

// AnalysisInvoker sends one agent's prompt to the inference service.
// Implementations must honor ctx cancellation and deadlines.
type AnalysisInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvocationResult, error)
}

// InvokeRequest is the input for a single agent invocation
type InvokeRequest struct {
	Agent   models.AgentDefinition
	CaseID  uuid.UUID
	Context AnalysisContext
}

// VolumeExcerpt is the slice of a case volume handed to an agent
type VolumeExcerpt struct {
	ID        uuid.UUID
	Title     string
	PageCount *int
	Text      string
}

// PriorOutput is a completed upstream run made visible to later agents
type PriorOutput struct {
	RunID     uuid.UUID
	AgentID   models.AgentID
	AgentName string
	Summary   string
	Result    string
	Findings  models.Findings
}

// AnalysisContext is everything an agent sees about a case
type AnalysisContext struct {
	CaseTitle     string
	CaseNumber    string
	Facts         string
	LegalQuestion string
	Volumes       []VolumeExcerpt
	References    []models.LegalReference
	PriorOutputs  []PriorOutput
	Evidence      []*models.EvidenceItem
}

// StructuredOutput is the JSON document agents are asked to return
type StructuredOutput struct {
	Summary   string                 `json:"summary"`
	Analysis  string                 `json:"analysis"`
	Findings  models.Findings        `json:"findings"`
	Citations []string               `json:"citations"`
	Sections  *models.ReportSections `json:"sections,omitempty"`
}

// ParsedOutput is the tagged result of interpreting raw model text.
// Structured is set only when Kind is OutputStructured; ParseError only for OutputParseFailed.
type ParsedOutput struct {
	Kind       models.OutputKind
	Structured *StructuredOutput
	Raw        string
	ParseError string
}

// InvocationResult is what an invoker returns on success
type InvocationResult struct {
	ResultText string
	Summary    *string
	Output     ParsedOutput
	Findings   models.Findings
	Citations  []string
	TokensUsed int
}

// NewInvocationResult interprets raw model text into an invocation result
func NewInvocationResult(raw string, tokensUsed int) *InvocationResult {
	out := ParseAgentOutput(raw)
	result := &InvocationResult{
		ResultText: strings.TrimSpace(raw),
		Output:     out,
		Findings:   make(models.Findings, 0),
		Citations:  []string{},
		TokensUsed: tokensUsed,
	}

	if out.Kind != models.OutputStructured {
		return result
	}

	s := out.Structured
	if s.Analysis != "" {
		result.ResultText = s.Analysis
	} else if s.Sections != nil && s.Sections.FullReport != "" {
		result.ResultText = s.Sections.FullReport
	}
	if summary := strings.TrimSpace(s.Summary); summary != "" {
		result.Summary = &summary
	}
	if s.Findings != nil {
		result.Findings = s.Findings
	}
	if s.Citations != nil {
		result.Citations = s.Citations
	}
	return result
}

// ParseAgentOutput classifies model text as structured JSON, plain prose, or malformed JSON.
// Code fences around JSON are tolerated.
func ParseAgentOutput(raw string) ParsedOutput {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ParsedOutput{Kind: models.OutputRawText, Raw: raw}
	}
	if !strings.HasPrefix(text, "{") {
		return ParsedOutput{Kind: models.OutputRawText, Raw: raw}
	}

	var out StructuredOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return ParsedOutput{Kind: models.OutputParseFailed, Raw: raw, ParseError: err.Error()}
	}

	for i := range out.Findings {
		f := &out.Findings[i]
		f.Severity = models.NormalizeSeverity(models.Severity(strings.ToLower(string(f.Severity))))
		f.Title = strings.TrimSpace(f.Title)
		if f.Evidence != nil {
			f.Evidence.Admissibility = models.AdmissibilityStatus(strings.ToLower(string(f.Evidence.Admissibility)))
			if f.Evidence.Admissibility != "" && !f.Evidence.Admissibility.Valid() {
				f.Evidence.Admissibility = ""
			}
		}
	}
	return ParsedOutput{Kind: models.OutputStructured, Structured: &out, Raw: raw}
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = ""
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

const (
	maxPromptChars      = 120000
	maxVolumeChars      = 40000
	maxPriorResultChars = 6000
)

// BuildPrompt renders the user prompt for an agent. The agent's instructions go in the system instruction.
func BuildPrompt(req InvokeRequest) string {
	c := req.Context
	var b strings.Builder

	fmt.Fprintf(&b, "CASE: %s\n", c.CaseTitle)
	if c.CaseNumber != "" {
		fmt.Fprintf(&b, "CASE NUMBER: %s\n", c.CaseNumber)
	}
	fmt.Fprintf(&b, "\nFACTS:\n%s\n", orNone(c.Facts))
	fmt.Fprintf(&b, "\nLEGAL QUESTION:\n%s\n", orNone(c.LegalQuestion))

	if len(c.Volumes) > 0 {
		b.WriteString("\nCASE MATERIALS:\n")
		for _, v := range c.Volumes {
			fmt.Fprintf(&b, "\n--- VOLUME %s: %s", v.ID, v.Title)
			if v.PageCount != nil {
				fmt.Fprintf(&b, " (%d pages)", *v.PageCount)
			}
			b.WriteString(" ---\n")
			b.WriteString(truncate(v.Text, maxVolumeChars))
			b.WriteString("\n")
		}
	}

	if len(c.References) > 0 {
		b.WriteString("\nLEGAL REFERENCES:\n")
		for i, ref := range c.References {
			citation := ref.SourceDocument
			if ref.Citation != nil && *ref.Citation != "" {
				citation = *ref.Citation
			}
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, citation, ref.Text)
		}
	}

	if len(c.PriorOutputs) > 0 {
		b.WriteString("\nPRIOR AGENT OUTPUTS:\n")
		for _, p := range c.PriorOutputs {
			fmt.Fprintf(&b, "\n=== %s (run %s) ===\n", p.AgentName, p.RunID)
			if p.Summary != "" {
				fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
			}
			for _, f := range p.Findings {
				fmt.Fprintf(&b, "- [%s] %s", f.Severity, f.Title)
				if f.Description != "" {
					fmt.Fprintf(&b, ": %s", f.Description)
				}
				b.WriteString("\n")
			}
			if p.Result != "" {
				b.WriteString(truncate(p.Result, maxPriorResultChars))
				b.WriteString("\n")
			}
		}
	}

	if len(c.Evidence) > 0 {
		b.WriteString("\nEVIDENCE REGISTRY:\n")
		for _, item := range c.Evidence {
			key := ""
			if item.Key != nil {
				key = *item.Key
			}
			fmt.Fprintf(&b, "#%d [%s] %s %s: %s\n", item.Sequence, item.Admissibility, key, item.Type, item.Description)
		}
	}

	b.WriteString("\n")
	b.WriteString(outputContract(req.Agent))

	return truncate(b.String(), maxPromptChars)
}

func outputContract(agent models.AgentDefinition) string {
	if agent.IsAggregator() {
		return `Respond with a single JSON object:
{"summary": string, "analysis": string, "citations": [string],
 "sections": {"executive_summary": string, "evidence_summary": string, "violations_summary": string,
  "defense_strategy": string, "prosecution_weaknesses": string, "recommendations": string, "full_report": string}}`
	}
	return `Respond with a single JSON object:
{"summary": string, "analysis": string, "citations": [string],
 "findings": [{"severity": "critical|high|medium|low|info", "title": string, "description": string,
  "legal_basis": [string], "evidence_refs": [string], "page_refs": [int],
  "evidence": {"key": string, "volume_id": string, "type": string, "description": string,
   "admissibility": "admissible|inadmissible|questionable|pending_review"}}]}
Use the same evidence key whenever you refer to the same piece of evidence.`
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[Content truncated due to length...]"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none provided)"
	}
	return s
}
