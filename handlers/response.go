package handlers

import (
	"errors"
	"net/http"

	"caseanalysis-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// parseID reads a uuid path parameter and writes a 400 when it is malformed
func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+what+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service sentinels to HTTP statuses
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCaseNotFound),
		errors.Is(err, service.ErrVolumeNotFound),
		errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, service.ErrRunNotFound),
		errors.Is(err, service.ErrReportNotFound),
		errors.Is(err, service.ErrEvidenceItemNotFound),
		errors.Is(err, service.ErrUnknownAgent):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, service.ErrCaseBusy):
		respondError(c, http.StatusConflict, "CASE_BUSY", err.Error())
	case errors.Is(err, service.ErrInsufficientInput):
		respondError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_INPUT", err.Error())
	case errors.Is(err, service.ErrAggregatorFailed):
		respondError(c, http.StatusBadGateway, "AGGREGATOR_FAILED", err.Error())
	case errors.Is(err, service.ErrInvalidAdmissibility),
		errors.Is(err, service.ErrMissingRequiredData):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
