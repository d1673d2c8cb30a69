package service

import (
	"errors"
	"fmt"
	"strings"

	"caseanalysis-backend/models"
)

var (
	ErrCaseNotFound         = errors.New("case not found")
	ErrVolumeNotFound       = errors.New("case volume not found")
	ErrFileNotFound         = errors.New("file not found")
	ErrRunNotFound          = errors.New("agent run not found")
	ErrReportNotFound       = errors.New("aggregated report not found")
	ErrEvidenceItemNotFound = errors.New("evidence item not found")
	ErrUnknownAgent         = errors.New("unknown agent")
	ErrCaseBusy             = errors.New("analysis already in progress for case")
	ErrInsufficientInput    = errors.New("insufficient input for aggregated report")
	ErrAggregatorFailed     = errors.New("aggregator run did not complete")
	ErrInvalidAdmissibility = errors.New("invalid admissibility status")
	ErrMissingRequiredData  = errors.New("missing required data")
)

// InsufficientInputError is the refusal returned when report quorum is not met.
// It matches ErrInsufficientInput with errors.Is.
type InsufficientInputError struct {
	Completed []models.AgentID
	Required  int
}

func (e *InsufficientInputError) Error() string {
	names := make([]string, len(e.Completed))
	for i, id := range e.Completed {
		names[i] = string(id)
	}
	detail := "none"
	if len(names) > 0 {
		detail = strings.Join(names, ", ")
	}
	return fmt.Sprintf("insufficient input: %d of %d required agents completed (%s)", len(e.Completed), e.Required, detail)
}

func (e *InsufficientInputError) Is(target error) bool {
	return target == ErrInsufficientInput
}
