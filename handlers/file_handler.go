package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"caseanalysis-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FileHandler handles HTTP requests for case source files
type FileHandler struct {
	caseService      *service.CaseService
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewFileHandler creates a new file handler
func NewFileHandler(caseService *service.CaseService) *FileHandler {
	return &FileHandler{
		caseService: caseService,
		maxFileSize: 50 * 1024 * 1024, // 50MB
		allowedMimeTypes: map[string]bool{
			"application/pdf": true,
			"image/png":       true,
			"image/jpeg":      true,
			"image/tiff":      true,
		},
	}
}

// UploadFile handles POST /api/files/upload.
// Form fields: file, case_id, and optionally volume_id.
func (h *FileHandler) UploadFile(c *gin.Context) {
	caseID, err := uuid.Parse(c.PostForm("case_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CASE_ID", "Invalid case_id format")
		return
	}

	var volumeID *uuid.UUID
	if raw := c.PostForm("volume_id"); raw != "" {
		vid, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_VOLUME_ID", "Invalid volume_id format")
			return
		}
		volumeID = &vid
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	// Multipart clients often send application/octet-stream; let the service infer from the name then
	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	if mimeType != "" && !h.allowedMimeTypes[mimeType] && !strings.HasPrefix(mimeType, "text/") {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE", "File type not allowed. Allowed types: PDF, TXT, PNG, JPEG, TIFF")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	res, err := h.caseService.UploadSource(c.Request.Context(), service.UploadSourceRequest{
		CaseID:   caseID,
		VolumeID: volumeID,
		Filename: fileHeader.Filename,
		MimeType: mimeType,
		Size:     fileHeader.Size,
		Data:     file,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, gin.H{
		"id":         res.File.ID,
		"filename":   res.File.Filename,
		"mime_type":  res.File.MimeType,
		"size":       res.File.Size,
		"created_at": res.File.CreatedAt,
		"volume":     res.Volume,
	})
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	id, ok := parseID(c, "id", "file")
	if !ok {
		return
	}

	file, reader, err := h.caseService.OpenSource(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Filename))
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, reader, nil)
}
