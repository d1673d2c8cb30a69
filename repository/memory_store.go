package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"caseanalysis-backend/models"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// MemoryStore implements Store in process memory.
// Used for local development without Postgres and as the store behind service tests.
// Records are copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	cache *cache.Cache
	mu    sync.Mutex
	seq   uint64
	now   func() time.Time
}

type memEntry struct {
	seq   uint64
	value interface{}
}

// NewMemoryStore creates an empty store; records never expire
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
		now:   time.Now,
	}
}

func memKey(kind string, id uuid.UUID) string {
	return kind + ":" + id.String()
}

// put stores a value, keeping its insertion sequence when it already exists
func (s *MemoryStore) put(key string, value interface{}) {
	if existing, ok := s.cache.Get(key); ok {
		s.cache.Set(key, memEntry{seq: existing.(memEntry).seq, value: value}, cache.NoExpiration)
		return
	}
	s.seq++
	s.cache.Set(key, memEntry{seq: s.seq, value: value}, cache.NoExpiration)
}

func (s *MemoryStore) get(key string) (interface{}, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return entry.(memEntry).value, true
}

// scan returns the values of one kind ordered by insertion
func (s *MemoryStore) scan(kind string) []interface{} {
	prefix := kind + ":"
	var entries []memEntry
	for key, item := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, item.Object.(memEntry))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	values := make([]interface{}, len(entries))
	for i, e := range entries {
		values[i] = e.value
	}
	return values
}

func (s *MemoryStore) remove(key string) bool {
	if _, ok := s.cache.Get(key); !ok {
		return false
	}
	s.cache.Delete(key)
	return true
}

// Cases

func (s *MemoryStore) CreateCase(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.put(memKey("case", c.ID), &cp)
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, id uuid.UUID) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("case", id))
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v.(*models.Case)
	return &cp, nil
}

func (s *MemoryStore) UpdateCase(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(memKey("case", c.ID)); !ok {
		return ErrNotFound
	}
	c.UpdatedAt = s.now()
	cp := *c
	s.put(memKey("case", c.ID), &cp)
	return nil
}

func (s *MemoryStore) ListCases(_ context.Context, status *models.CaseStatus, limit, offset int) ([]*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Case
	values := s.scan("case")
	for i := len(values) - 1; i >= 0; i-- {
		c := *values[i].(*models.Case)
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, &c)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteCase(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remove(memKey("case", id)) {
		return ErrNotFound
	}
	for _, v := range s.scan("volume") {
		if vol := v.(*models.CaseVolume); vol.CaseID == id {
			s.remove(memKey("volume", vol.ID))
		}
	}
	for _, v := range s.scan("run") {
		if run := v.(*models.AgentAnalysisRun); run.CaseID == id {
			s.remove(memKey("run", run.ID))
		}
	}
	for _, v := range s.scan("evidence") {
		if item := v.(*models.EvidenceItem); item.CaseID == id {
			s.remove(memKey("evidence", item.ID))
		}
	}
	for _, v := range s.scan("report") {
		if report := v.(*models.AggregatedReport); report.CaseID == id {
			s.remove(memKey("report", report.ID))
		}
	}
	return nil
}

// Volumes

func (s *MemoryStore) CreateVolume(_ context.Context, v *models.CaseVolume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(memKey("case", v.CaseID)); !ok {
		return ErrNotFound
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	cp := *v
	s.put(memKey("volume", v.ID), &cp)
	return nil
}

func (s *MemoryStore) GetVolume(_ context.Context, id uuid.UUID) (*models.CaseVolume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("volume", id))
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v.(*models.CaseVolume)
	return &cp, nil
}

func (s *MemoryStore) UpdateVolume(_ context.Context, v *models.CaseVolume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(memKey("volume", v.ID)); !ok {
		return ErrNotFound
	}
	v.UpdatedAt = s.now()
	cp := *v
	s.put(memKey("volume", v.ID), &cp)
	return nil
}

func (s *MemoryStore) ListVolumes(_ context.Context, caseID uuid.UUID) ([]*models.CaseVolume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CaseVolume
	for _, v := range s.scan("volume") {
		if vol := *v.(*models.CaseVolume); vol.CaseID == caseID {
			out = append(out, &vol)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteVolume(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remove(memKey("volume", id)) {
		return ErrNotFound
	}
	return nil
}

// Runs

func cloneRun(run *models.AgentAnalysisRun) *models.AgentAnalysisRun {
	cp := *run
	cp.Findings = append(models.Findings(nil), run.Findings...)
	cp.Citations = append([]string(nil), run.Citations...)
	if cp.Findings == nil {
		cp.Findings = make(models.Findings, 0)
	}
	if cp.Citations == nil {
		cp.Citations = []string{}
	}
	return &cp
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.AgentAnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, exists := s.get(memKey("run", run.ID)); exists {
		return ErrDuplicate
	}
	run.CreatedAt = s.now()
	s.put(memKey("run", run.ID), cloneRun(run))
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, run *models.AgentAnalysisRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("run", run.ID))
	if !ok || v.(*models.AgentAnalysisRun).Status != models.RunStatusRunning {
		return ErrNotFound
	}
	s.put(memKey("run", run.ID), cloneRun(run))
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.AgentAnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("run", id))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(v.(*models.AgentAnalysisRun)), nil
}

func (s *MemoryStore) ListRunsByCase(_ context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.scan("run")
	var out []*models.AgentAnalysisRun
	for i := len(values) - 1; i >= 0; i-- {
		if run := values[i].(*models.AgentAnalysisRun); run.CaseID == caseID {
			out = append(out, cloneRun(run))
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestRunsByCase(ctx context.Context, caseID uuid.UUID) ([]*models.AgentAnalysisRun, error) {
	all, err := s.ListRunsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	seen := make(map[models.AgentID]bool)
	var out []*models.AgentAnalysisRun
	for _, run := range all {
		if seen[run.AgentID] {
			continue
		}
		seen[run.AgentID] = true
		out = append(out, run)
	}
	return out, nil
}

// Evidence

func cloneEvidence(item *models.EvidenceItem) *models.EvidenceItem {
	cp := *item
	cp.Assessments = append(models.Assessments(nil), item.Assessments...)
	cp.RelatedFindings = append(models.FindingRefs(nil), item.RelatedFindings...)
	cp.RelatedViolations = append(models.FindingRefs(nil), item.RelatedViolations...)
	return &cp
}

func (s *MemoryStore) ListEvidence(_ context.Context, caseID uuid.UUID) ([]*models.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.EvidenceItem
	for _, v := range s.scan("evidence") {
		if item := v.(*models.EvidenceItem); item.CaseID == caseID {
			out = append(out, cloneEvidence(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) GetEvidence(_ context.Context, id uuid.UUID) (*models.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("evidence", id))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvidence(v.(*models.EvidenceItem)), nil
}

func (s *MemoryStore) CreateEvidence(_ context.Context, item *models.EvidenceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxSeq := 0
	for _, v := range s.scan("evidence") {
		if existing := v.(*models.EvidenceItem); existing.CaseID == item.CaseID && existing.Sequence > maxSeq {
			maxSeq = existing.Sequence
		}
	}
	item.ID = uuid.New()
	item.Sequence = maxSeq + 1
	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	s.put(memKey("evidence", item.ID), cloneEvidence(item))
	return nil
}

func (s *MemoryStore) UpdateEvidence(_ context.Context, item *models.EvidenceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(memKey("evidence", item.ID)); !ok {
		return ErrNotFound
	}
	item.UpdatedAt = s.now()
	s.put(memKey("evidence", item.ID), cloneEvidence(item))
	return nil
}

// Reports

func cloneReport(report *models.AggregatedReport) *models.AggregatedReport {
	cp := *report
	cp.SourceRunIDs = append(models.RunIDs(nil), report.SourceRunIDs...)
	return &cp
}

func (s *MemoryStore) CreateReport(_ context.Context, report *models.AggregatedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	for _, v := range s.scan("report") {
		existing := v.(*models.AggregatedReport)
		if existing.CaseID == report.CaseID && existing.SupersededAt == nil {
			superseded := cloneReport(existing)
			at := report.GeneratedAt
			superseded.SupersededAt = &at
			s.put(memKey("report", existing.ID), superseded)
		}
	}
	s.put(memKey("report", report.ID), cloneReport(report))
	return nil
}

func (s *MemoryStore) CurrentReport(_ context.Context, caseID uuid.UUID) (*models.AggregatedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.scan("report")
	for i := len(values) - 1; i >= 0; i-- {
		if report := values[i].(*models.AggregatedReport); report.CaseID == caseID && report.SupersededAt == nil {
			return cloneReport(report), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListReports(_ context.Context, caseID uuid.UUID) ([]*models.AggregatedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.scan("report")
	var out []*models.AggregatedReport
	for i := len(values) - 1; i >= 0; i-- {
		if report := values[i].(*models.AggregatedReport); report.CaseID == caseID {
			out = append(out, cloneReport(report))
		}
	}
	return out, nil
}

// Files

func (s *MemoryStore) CreateFile(_ context.Context, file *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.CreatedAt = s.now()
	cp := *file
	s.put(memKey("file", file.ID), &cp)
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, id uuid.UUID) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(memKey("file", id))
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v.(*models.File)
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
