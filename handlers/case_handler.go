package handlers

import (
	"net/http"
	"strconv"

	"caseanalysis-backend/models"
	"caseanalysis-backend/service"

	"github.com/gin-gonic/gin"
)

// CaseHandler handles HTTP requests for cases and their volumes
type CaseHandler struct {
	caseService *service.CaseService
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(caseService *service.CaseService) *CaseHandler {
	return &CaseHandler{caseService: caseService}
}

// CreateCaseRequest represents the request body for creating a case
type CreateCaseRequest struct {
	Title         string  `json:"title" binding:"required"`
	CaseNumber    *string `json:"case_number"`
	Facts         string  `json:"facts"`
	LegalQuestion string  `json:"legal_question"`
}

// CreateCase handles POST /api/cases
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	created, err := h.caseService.CreateCase(c.Request.Context(), service.CreateCaseRequest{
		Title:         req.Title,
		CaseNumber:    req.CaseNumber,
		Facts:         req.Facts,
		LegalQuestion: req.LegalQuestion,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, created)
}

// GetCase handles GET /api/cases/:id
func (h *CaseHandler) GetCase(c *gin.Context) {
	id, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	found, err := h.caseService.GetCase(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, found)
}

// ListCases handles GET /api/cases
func (h *CaseHandler) ListCases(c *gin.Context) {
	req := service.ListCasesRequest{}
	if status := c.Query("status"); status != "" {
		s := models.CaseStatus(status)
		req.Status = &s
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a number")
			return
		}
		req.Limit = n
	}
	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a number")
			return
		}
		req.Offset = n
	}

	cases, err := h.caseService.ListCases(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if cases == nil {
		cases = []*models.Case{}
	}
	respondOK(c, http.StatusOK, cases)
}

// UpdateCaseRequest represents the request body for updating a case.
// Omitted fields are left unchanged.
type UpdateCaseRequest struct {
	Title         *string            `json:"title"`
	CaseNumber    *string            `json:"case_number"`
	Facts         *string            `json:"facts"`
	LegalQuestion *string            `json:"legal_question"`
	Status        *models.CaseStatus `json:"status"`
}

// UpdateCase handles PUT /api/cases/:id
func (h *CaseHandler) UpdateCase(c *gin.Context) {
	id, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	var req UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	updated, err := h.caseService.UpdateCase(c.Request.Context(), service.UpdateCaseRequest{
		ID:            id,
		Title:         req.Title,
		CaseNumber:    req.CaseNumber,
		Facts:         req.Facts,
		LegalQuestion: req.LegalQuestion,
		Status:        req.Status,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, updated)
}

// DeleteCase handles DELETE /api/cases/:id
func (h *CaseHandler) DeleteCase(c *gin.Context) {
	id, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	if err := h.caseService.DeleteCase(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": id})
}

// AddVolumeRequest represents the request body for adding a volume
type AddVolumeRequest struct {
	Title     string `json:"title" binding:"required"`
	PageCount *int   `json:"page_count"`
	Text      string `json:"text"`
}

// AddVolume handles POST /api/cases/:id/volumes
func (h *CaseHandler) AddVolume(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	var req AddVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	volume, err := h.caseService.AddVolume(c.Request.Context(), service.AddVolumeRequest{
		CaseID:    caseID,
		Title:     req.Title,
		PageCount: req.PageCount,
		Text:      req.Text,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, volume)
}

// ListVolumes handles GET /api/cases/:id/volumes
func (h *CaseHandler) ListVolumes(c *gin.Context) {
	caseID, ok := parseID(c, "id", "case")
	if !ok {
		return
	}
	volumes, err := h.caseService.ListVolumes(c.Request.Context(), caseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if volumes == nil {
		volumes = []*models.CaseVolume{}
	}
	respondOK(c, http.StatusOK, volumes)
}

// UpdateVolumeRequest represents the request body for renaming a volume or fixing its page count
type UpdateVolumeRequest struct {
	Title     *string `json:"title"`
	PageCount *int    `json:"page_count"`
}

// UpdateVolume handles PUT /api/volumes/:id
func (h *CaseHandler) UpdateVolume(c *gin.Context) {
	id, ok := parseID(c, "id", "volume")
	if !ok {
		return
	}
	var req UpdateVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	volume, err := h.caseService.UpdateVolume(c.Request.Context(), service.UpdateVolumeRequest{
		ID:        id,
		Title:     req.Title,
		PageCount: req.PageCount,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, volume)
}

// SetVolumeTextRequest carries recognized text for a volume
type SetVolumeTextRequest struct {
	Text      string `json:"text" binding:"required"`
	PageCount *int   `json:"page_count"`
}

// SetVolumeText handles PUT /api/volumes/:id/text
func (h *CaseHandler) SetVolumeText(c *gin.Context) {
	id, ok := parseID(c, "id", "volume")
	if !ok {
		return
	}
	var req SetVolumeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	volume, err := h.caseService.SetVolumeText(c.Request.Context(), service.SetVolumeTextRequest{
		ID:        id,
		Text:      req.Text,
		PageCount: req.PageCount,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, volume)
}

// DeleteVolume handles DELETE /api/volumes/:id
func (h *CaseHandler) DeleteVolume(c *gin.Context) {
	id, ok := parseID(c, "id", "volume")
	if !ok {
		return
	}
	if err := h.caseService.DeleteVolume(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": id})
}
