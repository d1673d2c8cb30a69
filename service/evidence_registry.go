package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"caseanalysis-backend/events"
	"caseanalysis-backend/logger"
	"caseanalysis-backend/metrics"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"

	"github.com/google/uuid"
)

const (
	practitionerSource   = "practitioner"
	unclassifiedEvidence = "unclassified"
)

// EvidenceRegistry folds agent findings into the per-case evidence registry.
// Merges for one case are serialized; merges for different cases run concurrently.
type EvidenceRegistry struct {
	catalog  *models.AgentCatalog
	evidence repository.EvidenceStore
	cases    repository.CaseStore
	events   events.Publisher
	logger   logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewEvidenceRegistry creates a registry over the given stores
func NewEvidenceRegistry(
	catalog *models.AgentCatalog,
	evidence repository.EvidenceStore,
	cases repository.CaseStore,
	publisher events.Publisher,
	l logger.Logger,
) *EvidenceRegistry {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &EvidenceRegistry{
		catalog:  catalog,
		evidence: evidence,
		cases:    cases,
		events:   publisher,
		logger:   l,
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// MergeResult counts what one merge changed
type MergeResult struct {
	Created int `json:"created"`
	Merged  int `json:"merged"`
	Linked  int `json:"linked"`
}

func (r *EvidenceRegistry) caseLock(caseID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[caseID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[caseID] = l
	}
	return l
}

// registryIndex is the in-memory view of a case registry during one merge
type registryIndex struct {
	items   []*models.EvidenceItem
	byKey   map[string][]*models.EvidenceItem
	created []*models.EvidenceItem
	dirty   map[*models.EvidenceItem]bool
}

func newRegistryIndex(items []*models.EvidenceItem) *registryIndex {
	idx := &registryIndex{
		items: items,
		byKey: make(map[string][]*models.EvidenceItem),
		dirty: make(map[*models.EvidenceItem]bool),
	}
	for _, item := range items {
		if item.Key != nil && *item.Key != "" {
			idx.byKey[*item.Key] = append(idx.byKey[*item.Key], item)
		}
	}
	return idx
}

// find matches by key; volumes must agree when both sides name one
func (idx *registryIndex) find(key string, volumeID *uuid.UUID) *models.EvidenceItem {
	if key == "" {
		return nil
	}
	for _, item := range idx.byKey[key] {
		if volumeID != nil && item.VolumeID != nil && *volumeID != *item.VolumeID {
			continue
		}
		return item
	}
	return nil
}

func (idx *registryIndex) add(item *models.EvidenceItem) {
	idx.items = append(idx.items, item)
	idx.created = append(idx.created, item)
	if item.Key != nil && *item.Key != "" {
		idx.byKey[*item.Key] = append(idx.byKey[*item.Key], item)
	}
}

func (idx *registryIndex) touch(item *models.EvidenceItem) {
	for _, c := range idx.created {
		if c == item {
			return
		}
	}
	idx.dirty[item] = true
}

// alreadyMerged reports whether any item links the finding
func (idx *registryIndex) alreadyMerged(ref models.FindingRef) bool {
	for _, item := range idx.items {
		if item.RelatedFindings.Contains(ref) || item.RelatedViolations.Contains(ref) {
			return true
		}
	}
	return false
}

// MergeRun folds the findings of a completed non-aggregator run into the registry.
// Re-merging the same run changes nothing.
func (r *EvidenceRegistry) MergeRun(ctx context.Context, run *models.AgentAnalysisRun) (*MergeResult, error) {
	result := &MergeResult{}
	if run == nil || run.Status != models.RunStatusCompleted || len(run.Findings) == 0 {
		return result, nil
	}
	def, ok := r.catalog.Lookup(run.AgentID)
	if !ok || def.IsAggregator() {
		return result, nil
	}
	if r.evidence == nil {
		return nil, errors.New("evidence repository not set")
	}

	lock := r.caseLock(run.CaseID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := r.evidence.ListEvidence(ctx, run.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence registry: %w", err)
	}
	volumes, err := r.caseVolumes(ctx, run.CaseID)
	if err != nil {
		return nil, err
	}

	idx := newRegistryIndex(existing)
	now := r.now()

	for i, finding := range run.Findings {
		ref := models.FindingRef{RunID: run.ID, AgentID: run.AgentID, Index: i, Title: finding.Title}
		if idx.alreadyMerged(ref) {
			continue
		}

		descriptorKey := ""
		if ev := finding.Evidence; ev != nil {
			descriptorKey = models.NormalizeEvidenceKey(ev.Key)
			volumeID := volumes.resolve(ev.VolumeID)
			describes := def.EvidenceRole.DescribesEvidence()

			item := idx.find(descriptorKey, volumeID)
			switch {
			case item != nil:
				if describes {
					fillMissing(item, volumeID, ev.Type, ev.Description)
				}
				idx.touch(item)
				result.Merged++
			case describes:
				item = newEvidenceItem(run.CaseID, descriptorKey, volumeID, ev.Type, ev.Description, finding.Title)
				idx.add(item)
				result.Created++
			case descriptorKey != "":
				// referencing agents only point at evidence by key
				item = newEvidenceItem(run.CaseID, descriptorKey, nil, unclassifiedEvidence, "", finding.Title)
				idx.add(item)
				result.Created++
			}

			if item == nil {
				r.logger.Warn("evidence_registry", "ignored unkeyed evidence from referencing agent", map[string]interface{}{
					"run":     run.ID.String(),
					"agent":   string(run.AgentID),
					"finding": i,
				})
			} else {
				if ev.Admissibility.Valid() {
					applyAssessment(item, models.Assessment{
						Source:     string(run.AgentID),
						RunID:      &run.ID,
						Status:     ev.Admissibility,
						Note:       finding.Title,
						AssessedAt: now,
					})
				}
				linkFinding(item, def, ref)
			}
		}

		for _, rawKey := range finding.EvidenceRefs {
			key := models.NormalizeEvidenceKey(rawKey)
			if key == "" || key == descriptorKey {
				continue
			}
			item := idx.find(key, nil)
			if item == nil {
				item = newEvidenceItem(run.CaseID, key, nil, unclassifiedEvidence, "", finding.Title)
				idx.add(item)
				result.Created++
			} else {
				idx.touch(item)
			}
			if linkFinding(item, def, ref) {
				result.Linked++
			}
		}
	}

	for _, item := range idx.created {
		if err := r.evidence.CreateEvidence(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to create evidence item: %w", err)
		}
	}
	for _, item := range idx.items {
		if !idx.dirty[item] {
			continue
		}
		if err := r.evidence.UpdateEvidence(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to update evidence item %s: %w", item.ID, err)
		}
	}

	metrics.RecordEvidenceMerge("created", result.Created)
	metrics.RecordEvidenceMerge("merged", result.Merged)
	metrics.RecordEvidenceMerge("linked", result.Linked)

	if result.Created+result.Merged+result.Linked > 0 {
		r.publish(ctx, run.CaseID, map[string]interface{}{
			"run_id":  run.ID.String(),
			"created": result.Created,
			"merged":  result.Merged,
			"linked":  result.Linked,
		})
	}
	r.logger.Info("evidence_registry", "merged run into registry", map[string]interface{}{
		"case":    run.CaseID.String(),
		"run":     run.ID.String(),
		"agent":   string(run.AgentID),
		"created": result.Created,
		"merged":  result.Merged,
		"linked":  result.Linked,
	})
	return result, nil
}

// OverrideAdmissibilityRequest is a practitioner's explicit status decision
type OverrideAdmissibilityRequest struct {
	CaseID uuid.UUID
	ItemID uuid.UUID
	Status models.AdmissibilityStatus
	Note   string
}

// OverrideAdmissibility sets an item's status regardless of specificity.
// Later agent assessments are recorded but no longer change the status.
func (r *EvidenceRegistry) OverrideAdmissibility(ctx context.Context, req OverrideAdmissibilityRequest) (*models.EvidenceItem, error) {
	if !req.Status.Valid() {
		return nil, ErrInvalidAdmissibility
	}
	if r.evidence == nil {
		return nil, errors.New("evidence repository not set")
	}

	lock := r.caseLock(req.CaseID)
	lock.Lock()
	defer lock.Unlock()

	item, err := r.evidence.GetEvidence(ctx, req.ItemID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && item.CaseID != req.CaseID) {
		return nil, ErrEvidenceItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence item: %w", err)
	}

	previous := item.Admissibility
	item.Admissibility = req.Status
	item.StatusOverridden = true
	item.Assessments = append(item.Assessments, models.Assessment{
		Source:     practitionerSource,
		Status:     req.Status,
		Note:       strings.TrimSpace(req.Note),
		AssessedAt: r.now(),
	})
	item.AppendNote(fmt.Sprintf("practitioner set %s (was %s) %s", req.Status, previous, strings.TrimSpace(req.Note)))

	if err := r.evidence.UpdateEvidence(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update evidence item: %w", err)
	}

	r.publish(ctx, req.CaseID, map[string]interface{}{
		"item_id":       item.ID.String(),
		"admissibility": string(item.Admissibility),
		"overridden":    true,
	})
	return item, nil
}

// List returns the case registry ordered by sequence
func (r *EvidenceRegistry) List(ctx context.Context, caseID uuid.UUID) ([]*models.EvidenceItem, error) {
	if r.evidence == nil {
		return nil, errors.New("evidence repository not set")
	}
	items, err := r.evidence.ListEvidence(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	if items == nil {
		items = []*models.EvidenceItem{}
	}
	return items, nil
}

func (r *EvidenceRegistry) publish(ctx context.Context, caseID uuid.UUID, data map[string]interface{}) {
	event := events.NewCaseEvent(events.TypeRegistryUpdated, caseID.String(), data)
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn("evidence_registry", "failed to publish registry event", map[string]interface{}{
			"case":  caseID.String(),
			"error": err.Error(),
		})
	}
}

// volumeSet resolves agent-supplied volume ids against the case's volumes
type volumeSet map[uuid.UUID]bool

func (r *EvidenceRegistry) caseVolumes(ctx context.Context, caseID uuid.UUID) (volumeSet, error) {
	set := make(volumeSet)
	if r.cases == nil {
		return set, nil
	}
	volumes, err := r.cases.ListVolumes(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case volumes: %w", err)
	}
	for _, v := range volumes {
		set[v.ID] = true
	}
	return set, nil
}

func (s volumeSet) resolve(raw string) *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || !s[id] {
		return nil
	}
	return &id
}

func newEvidenceItem(caseID uuid.UUID, key string, volumeID *uuid.UUID, typ, description, fallback string) *models.EvidenceItem {
	item := &models.EvidenceItem{
		CaseID:            caseID,
		VolumeID:          volumeID,
		Type:              strings.TrimSpace(typ),
		Description:       strings.TrimSpace(description),
		Admissibility:     models.AdmissibilityPendingReview,
		Assessments:       models.Assessments{},
		RelatedFindings:   models.FindingRefs{},
		RelatedViolations: models.FindingRefs{},
	}
	if key != "" {
		item.Key = &key
	}
	if item.Type == "" {
		item.Type = unclassifiedEvidence
	}
	if item.Description == "" {
		item.Description = fallback
	}
	return item
}

func fillMissing(item *models.EvidenceItem, volumeID *uuid.UUID, typ, description string) {
	if item.VolumeID == nil && volumeID != nil {
		item.VolumeID = volumeID
	}
	if (item.Type == "" || item.Type == unclassifiedEvidence) && strings.TrimSpace(typ) != "" {
		item.Type = strings.TrimSpace(typ)
	}
	if item.Description == "" && strings.TrimSpace(description) != "" {
		item.Description = strings.TrimSpace(description)
	}
}

// applyAssessment records an opinion and moves the status only toward a more specific one.
// Equal-specificity disagreements keep the current status and are noted.
func applyAssessment(item *models.EvidenceItem, a models.Assessment) {
	for _, existing := range item.Assessments {
		if existing.RunID != nil && a.RunID != nil && *existing.RunID == *a.RunID && existing.Status == a.Status {
			return
		}
	}
	item.Assessments = append(item.Assessments, a)

	current := item.Admissibility
	switch {
	case a.Status == current:
	case item.StatusOverridden:
		item.AppendNote(fmt.Sprintf("%s assessed %s; practitioner override kept %s", a.Source, a.Status, current))
	case a.Status.Specificity() > current.Specificity():
		item.Admissibility = a.Status
	case a.Status.Specificity() == current.Specificity():
		item.AppendNote(fmt.Sprintf("conflict: %s assessed %s; kept %s", a.Source, a.Status, current))
	default:
		item.AppendNote(fmt.Sprintf("%s assessed %s; kept more specific %s", a.Source, a.Status, current))
	}
}

// linkFinding attaches the finding to the list matching the agent role
func linkFinding(item *models.EvidenceItem, def models.AgentDefinition, ref models.FindingRef) bool {
	if def.Role == models.RoleViolations {
		if item.RelatedViolations.Contains(ref) {
			return false
		}
		item.RelatedViolations = append(item.RelatedViolations, ref)
		return true
	}
	if item.RelatedFindings.Contains(ref) {
		return false
	}
	item.RelatedFindings = append(item.RelatedFindings, ref)
	return true
}
