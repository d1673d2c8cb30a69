package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"caseanalysis-backend/models"
	"caseanalysis-backend/service"

	"github.com/gin-gonic/gin"
)

// AnalysisHandler handles agent runs, the evidence registry and aggregated reports
type AnalysisHandler struct {
	orchestrator *service.Orchestrator
	caseService  *service.CaseService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(orchestrator *service.Orchestrator, caseService *service.CaseService) *AnalysisHandler {
	return &AnalysisHandler{
		orchestrator: orchestrator,
		caseService:  caseService,
	}
}

// ListAgents handles GET /api/agents
func (h *AnalysisHandler) ListAgents(c *gin.Context) {
	respondOK(c, http.StatusOK, h.orchestrator.Catalog().Agents())
}

// RunAgent handles POST /api/cases/:id/agents/:agent/run.
// It blocks until the run is recorded; a failed run is still a 200 with status "failed".
func (h *AnalysisHandler) RunAgent(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	agentID := models.AgentID(c.Param("agent"))

	run, err := h.orchestrator.RunSingleAgent(c.Request.Context(), caseID, agentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, run)
}

// StartAnalysis handles POST /api/cases/:id/analysis.
// With ?wait=true it runs the pipeline inline and returns the result.
func (h *AnalysisHandler) StartAnalysis(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}

	if c.Query("wait") == "true" {
		result, err := h.orchestrator.RunAllAgents(c.Request.Context(), caseID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, result)
		return
	}

	ticket, err := h.orchestrator.StartAllAgents(caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, ticket)
}

// CancelAnalysis handles DELETE /api/cases/:id/analysis
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	if !h.orchestrator.CancelPipeline(caseID) {
		respondError(c, http.StatusNotFound, "NOT_RUNNING", "No analysis is running for this case")
		return
	}
	respondOK(c, http.StatusAccepted, gin.H{"case_id": caseID, "cancelling": true})
}

// GetProgress handles GET /api/cases/:id/analysis/progress
func (h *AnalysisHandler) GetProgress(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	progress, running := h.orchestrator.Progress(caseID)
	if !running {
		respondOK(c, http.StatusOK, gin.H{"case_id": caseID, "running": false})
		return
	}
	respondOK(c, http.StatusOK, gin.H{"case_id": caseID, "running": true, "progress": progress})
}

// ListRuns handles GET /api/cases/:id/runs
func (h *AnalysisHandler) ListRuns(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	runs, err := h.orchestrator.LoadRuns(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/:id
func (h *AnalysisHandler) GetRun(c *gin.Context) {
	runID, ok := parseID(c, "id", "run")
	if !ok {
		return
	}
	run, err := h.orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, run)
}

// ListEvidence handles GET /api/cases/:id/evidence
func (h *AnalysisHandler) ListEvidence(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	items, err := h.orchestrator.LoadEvidenceRegistry(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if items == nil {
		items = []*models.EvidenceItem{}
	}
	respondOK(c, http.StatusOK, items)
}

// OverrideAdmissibilityRequest represents a practitioner's admissibility decision
type OverrideAdmissibilityRequest struct {
	Status models.AdmissibilityStatus `json:"status" binding:"required"`
	Note   string                     `json:"note"`
}

// OverrideAdmissibility handles PUT /api/cases/:id/evidence/:itemId/admissibility
func (h *AnalysisHandler) OverrideAdmissibility(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId", "evidence item")
	if !ok {
		return
	}
	var req OverrideAdmissibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	item, err := h.orchestrator.OverrideAdmissibility(c.Request.Context(), service.OverrideAdmissibilityRequest{
		CaseID: caseID,
		ItemID: itemID,
		Status: req.Status,
		Note:   req.Note,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, item)
}

// GenerateReport handles POST /api/cases/:id/report
func (h *AnalysisHandler) GenerateReport(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}

	res, err := h.orchestrator.GenerateAggregatedReport(c.Request.Context(), caseID)
	if err != nil {
		var insufficient *service.InsufficientInputError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error": gin.H{
					"code":      "INSUFFICIENT_INPUT",
					"message":   err.Error(),
					"completed": insufficient.Completed,
					"required":  insufficient.Required,
				},
			})
			return
		}
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, res)
}

// GetReport handles GET /api/cases/:id/report.
// ?format=markdown downloads the rendered report.
func (h *AnalysisHandler) GetReport(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	report, err := h.orchestrator.LoadAggregatedReport(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if c.Query("format") != "markdown" {
		respondOK(c, http.StatusOK, report)
		return
	}
	found, err := h.caseService.GetCase(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"report-%s.md\"", report.ID))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.RenderReportMarkdown(found, report)))
}

// ListReports handles GET /api/cases/:id/reports
func (h *AnalysisHandler) ListReports(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	reports, err := h.orchestrator.LoadReportHistory(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if reports == nil {
		reports = []*models.AggregatedReport{}
	}
	respondOK(c, http.StatusOK, reports)
}
