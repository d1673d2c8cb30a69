package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/storage"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	// maxInlineText caps how much of an uploaded text file becomes volume text
	maxInlineText = 8 << 20
)

// CaseService handles business logic for cases, volumes and source files
type CaseService struct {
	cases   repository.CaseStore
	files   repository.FileStore
	storage storage.Storage
	logger  logger.Logger
}

// CaseServiceOption is a functional option for CaseService
type CaseServiceOption func(*CaseService)

// WithCaseStore sets the case repository
func WithCaseStore(store repository.CaseStore) CaseServiceOption {
	return func(s *CaseService) {
		s.cases = store
	}
}

// WithFileStore sets the file metadata repository
func WithFileStore(store repository.FileStore) CaseServiceOption {
	return func(s *CaseService) {
		s.files = store
	}
}

// WithStorage sets the object storage for uploaded sources
func WithStorage(st storage.Storage) CaseServiceOption {
	return func(s *CaseService) {
		s.storage = st
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) CaseServiceOption {
	return func(s *CaseService) {
		s.logger = l
	}
}

// NewCaseService creates a new case service
func NewCaseService(opts ...CaseServiceOption) *CaseService {
	s := &CaseService{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCaseRequest represents a request to create a case
type CreateCaseRequest struct {
	Title         string
	CaseNumber    *string
	Facts         string
	LegalQuestion string
}

// CreateCase creates a new open case
func (s *CaseService) CreateCase(ctx context.Context, req CreateCaseRequest) (*models.Case, error) {
	if s.cases == nil {
		return nil, errors.New("case repository not set")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrMissingRequiredData)
	}

	c := &models.Case{
		ID:            uuid.New(),
		Title:         title,
		CaseNumber:    trimmedOrNil(req.CaseNumber),
		Facts:         req.Facts,
		LegalQuestion: req.LegalQuestion,
		Status:        models.CaseStatusOpen,
	}
	if err := s.cases.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCase retrieves a case by ID
func (s *CaseService) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	if s.cases == nil {
		return nil, errors.New("case repository not set")
	}
	c, err := s.cases.GetCase(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCaseNotFound
	}
	return c, err
}

// UpdateCaseRequest carries the fields to change; nil fields are left alone
type UpdateCaseRequest struct {
	ID            uuid.UUID
	Title         *string
	CaseNumber    *string
	Facts         *string
	LegalQuestion *string
	Status        *models.CaseStatus
}

// UpdateCase applies a partial update
func (s *CaseService) UpdateCase(ctx context.Context, req UpdateCaseRequest) (*models.Case, error) {
	c, err := s.GetCase(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrMissingRequiredData)
		}
		c.Title = title
	}
	if req.CaseNumber != nil {
		c.CaseNumber = trimmedOrNil(req.CaseNumber)
	}
	if req.Facts != nil {
		c.Facts = *req.Facts
	}
	if req.LegalQuestion != nil {
		c.LegalQuestion = *req.LegalQuestion
	}
	if req.Status != nil {
		switch *req.Status {
		case models.CaseStatusOpen, models.CaseStatusArchived:
			c.Status = *req.Status
		default:
			return nil, fmt.Errorf("%w: invalid case status %q", ErrMissingRequiredData, *req.Status)
		}
	}

	if err := s.cases.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCasesRequest represents a request to list cases
type ListCasesRequest struct {
	Status *models.CaseStatus
	Limit  int
	Offset int
}

// ListCases lists cases, newest first
func (s *CaseService) ListCases(ctx context.Context, req ListCasesRequest) ([]*models.Case, error) {
	if s.cases == nil {
		return nil, errors.New("case repository not set")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	cases, err := s.cases.ListCases(ctx, req.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []*models.Case{}
	}
	return cases, nil
}

// DeleteCase removes a case with its volumes, runs, registry and reports
func (s *CaseService) DeleteCase(ctx context.Context, id uuid.UUID) error {
	if s.cases == nil {
		return errors.New("case repository not set")
	}
	err := s.cases.DeleteCase(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCaseNotFound
	}
	return err
}

// AddVolumeRequest represents a request to add source material to a case
type AddVolumeRequest struct {
	CaseID       uuid.UUID
	Title        string
	PageCount    *int
	Text         string
	SourceFileID *uuid.UUID
}

// AddVolume adds a volume; a volume with text counts as already recognized
func (s *CaseService) AddVolume(ctx context.Context, req AddVolumeRequest) (*models.CaseVolume, error) {
	if _, err := s.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: volume title is required", ErrMissingRequiredData)
	}

	v := &models.CaseVolume{
		ID:           uuid.New(),
		CaseID:       req.CaseID,
		Title:        title,
		PageCount:    req.PageCount,
		Text:         req.Text,
		OCRCompleted: strings.TrimSpace(req.Text) != "",
		SourceFileID: req.SourceFileID,
	}
	if err := s.cases.CreateVolume(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ListVolumes returns the volumes of a case
func (s *CaseService) ListVolumes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseVolume, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	volumes, err := s.cases.ListVolumes(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if volumes == nil {
		volumes = []*models.CaseVolume{}
	}
	return volumes, nil
}

// GetVolume retrieves a volume by ID
func (s *CaseService) GetVolume(ctx context.Context, id uuid.UUID) (*models.CaseVolume, error) {
	if s.cases == nil {
		return nil, errors.New("case repository not set")
	}
	v, err := s.cases.GetVolume(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrVolumeNotFound
	}
	return v, err
}

// UpdateVolumeRequest carries volume metadata changes
type UpdateVolumeRequest struct {
	ID        uuid.UUID
	Title     *string
	PageCount *int
}

// UpdateVolume changes volume metadata
func (s *CaseService) UpdateVolume(ctx context.Context, req UpdateVolumeRequest) (*models.CaseVolume, error) {
	v, err := s.GetVolume(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: volume title is required", ErrMissingRequiredData)
		}
		v.Title = title
	}
	if req.PageCount != nil {
		v.PageCount = req.PageCount
	}
	if err := s.cases.UpdateVolume(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetVolumeTextRequest stores recognized text for a volume
type SetVolumeTextRequest struct {
	ID        uuid.UUID
	Text      string
	PageCount *int
}

// SetVolumeText stores recognized text and marks recognition complete
func (s *CaseService) SetVolumeText(ctx context.Context, req SetVolumeTextRequest) (*models.CaseVolume, error) {
	v, err := s.GetVolume(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	v.Text = req.Text
	v.OCRCompleted = true
	if req.PageCount != nil {
		v.PageCount = req.PageCount
	}
	if err := s.cases.UpdateVolume(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVolume removes a volume
func (s *CaseService) DeleteVolume(ctx context.Context, id uuid.UUID) error {
	if s.cases == nil {
		return errors.New("case repository not set")
	}
	err := s.cases.DeleteVolume(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrVolumeNotFound
	}
	return err
}

// UploadSourceRequest represents an uploaded scan or text export of case material
type UploadSourceRequest struct {
	CaseID   uuid.UUID
	VolumeID *uuid.UUID
	Filename string
	MimeType string
	Size     int64
	Data     io.Reader
}

// UploadSourceResult holds the stored file and the volume it feeds
type UploadSourceResult struct {
	File   *models.File
	Volume *models.CaseVolume
}

// UploadSource stores the file and attaches it to a volume, creating one when none is given.
// Plain-text uploads also become the volume text.
func (s *CaseService) UploadSource(ctx context.Context, req UploadSourceRequest) (*UploadSourceResult, error) {
	if s.storage == nil {
		return nil, errors.New("storage not set")
	}
	if s.files == nil {
		return nil, errors.New("file repository not set")
	}
	if _, err := s.GetCase(ctx, req.CaseID); err != nil {
		return nil, err
	}

	var volume *models.CaseVolume
	if req.VolumeID != nil {
		v, err := s.GetVolume(ctx, *req.VolumeID)
		if err != nil {
			return nil, err
		}
		if v.CaseID != req.CaseID {
			return nil, ErrVolumeNotFound
		}
		volume = v
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = storage.ContentType(req.Filename)
	}

	var text bytes.Buffer
	inline := &limitedWriter{buf: &text, limit: maxInlineText}
	data := req.Data
	isText := strings.HasPrefix(mimeType, "text/")
	if isText {
		data = io.TeeReader(req.Data, inline)
	}

	fileID := uuid.New()
	key := storage.VolumeSourceKey(req.CaseID, fileID, req.Filename)
	storagePath, err := s.storage.Upload(ctx, key, mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	extracted := ""
	if isText && utf8.Valid(text.Bytes()) {
		extracted = text.String()
	}
	if inline.truncated {
		s.logger.Warn("case_service", "volume text truncated", map[string]interface{}{
			"case":  req.CaseID.String(),
			"file":  req.Filename,
			"kept":  text.Len(),
			"valid": extracted != "",
		})
	}

	if volume == nil {
		volume, err = s.AddVolume(ctx, AddVolumeRequest{CaseID: req.CaseID, Title: req.Filename})
		if err != nil {
			s.cleanupUpload(ctx, storagePath)
			return nil, err
		}
	}

	file := &models.File{
		ID:          fileID,
		CaseID:      req.CaseID,
		VolumeID:    &volume.ID,
		Filename:    req.Filename,
		MimeType:    mimeType,
		Size:        req.Size,
		StoragePath: storagePath,
	}
	if err := s.files.CreateFile(ctx, file); err != nil {
		s.cleanupUpload(ctx, storagePath)
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	volume.SourceFileID = &file.ID
	if extracted != "" {
		volume.Text = extracted
		volume.OCRCompleted = true
	}
	if err := s.cases.UpdateVolume(ctx, volume); err != nil {
		return nil, err
	}
	return &UploadSourceResult{File: file, Volume: volume}, nil
}

func (s *CaseService) cleanupUpload(ctx context.Context, storagePath string) {
	if err := s.storage.Delete(ctx, storagePath); err != nil {
		s.logger.Warn("case_service", "failed to clean up uploaded file", map[string]interface{}{
			"path":  storagePath,
			"error": err.Error(),
		})
	}
}

// OpenSource returns the file record and a reader over its content
func (s *CaseService) OpenSource(ctx context.Context, id uuid.UUID) (*models.File, io.ReadCloser, error) {
	if s.storage == nil {
		return nil, nil, errors.New("storage not set")
	}
	if s.files == nil {
		return nil, nil, errors.New("file repository not set")
	}
	file, err := s.files.GetFile(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrFileNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.storage.Download(ctx, file.StoragePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, ErrFileNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download file: %w", err)
	}
	return file, reader, nil
}

// limitedWriter keeps the first limit bytes and silently drops the rest
type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

// Write keeps at most limit bytes and never ends the buffer inside a UTF-8 sequence.
func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.truncated {
		return len(p), nil
	}
	room := w.limit - w.buf.Len()
	if len(p) <= room {
		w.buf.Write(p)
		return len(p), nil
	}

	w.truncated = true
	cut := max(room, 0)
	for cut > 0 && !isRuneStart(p[cut]) {
		cut--
	}
	if cut == 0 && !isRuneStart(p[0]) {
		// the rune started in an earlier write
		b := w.buf.Bytes()
		n := len(b)
		for n > 0 && !isRuneStart(b[n-1]) {
			n--
		}
		if n > 0 {
			n--
		}
		w.buf.Truncate(n)
	}
	w.buf.Write(p[:cut])
	return len(p), nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
