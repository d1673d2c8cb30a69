package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseanalysis-backend/logger"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"
	"caseanalysis-backend/service"
	"caseanalysis-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectorReply = `{"summary":"collected","analysis":"two items","findings":[
	{"severity":"medium","title":"Search protocol","evidence":{"key":"E-1","type":"protocol","description":"Search protocol"}}
]}`

const aggregatorReply = `{"summary":"overall","analysis":"synthesis","findings":[],
	"sections":{"executive_summary":"Evidence is weak","defense_strategy":"Suppress E-1"}}`

type stubInvoker struct {
	failing map[models.AgentID]bool
}

func (s *stubInvoker) Invoke(_ context.Context, req service.InvokeRequest) (*service.InvocationResult, error) {
	if s.failing[req.Agent.ID] {
		return nil, errors.New("invalid argument")
	}
	switch req.Agent.ID {
	case models.AgentEvidenceCollector:
		return service.NewInvocationResult(collectorReply, 10), nil
	case models.AgentAggregator:
		return service.NewInvocationResult(aggregatorReply, 10), nil
	default:
		return service.NewInvocationResult(`{"summary":"ok","analysis":"nothing notable","findings":[]}`, 10), nil
	}
}

type testServer struct {
	router *gin.Engine
	store  *repository.MemoryStore
}

func newTestServer(t *testing.T, inv service.AnalysisInvoker) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	cases := service.NewCaseService(
		service.WithCaseStore(store),
		service.WithFileStore(store),
		service.WithStorage(local),
	)
	orchestrator := service.NewOrchestrator(models.DefaultCatalog(), store, inv, service.OrchestratorConfig{
		RunTimeout: 10 * time.Second,
		Quorum:     3,
	}, service.OrchestratorWithLogger(logger.NewNop()))

	r := gin.New()
	RegisterRoutes(r, NewCaseHandler(cases), NewFileHandler(cases), NewAnalysisHandler(orchestrator, cases))
	return &testServer{router: r, store: store}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) createCase(t *testing.T) models.Case {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/cases", gin.H{
		"title":          "State v. Doe",
		"facts":          "Search without a warrant",
		"legal_question": "Is the evidence admissible",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var c models.Case
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c
}

func TestCaseCRUD(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	c := s.createCase(t)
	assert.Equal(t, models.CaseStatusOpen, c.Status)

	w, env := s.do(t, http.MethodGet, "/api/cases/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	w, env = s.do(t, http.MethodPut, "/api/cases/"+c.ID.String(), gin.H{"status": "archived"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Case
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, models.CaseStatusArchived, updated.Status)

	w, env = s.do(t, http.MethodPut, "/api/cases/"+c.ID.String(), gin.H{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	w, env = s.do(t, http.MethodGet, "/api/cases?status=archived", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Case
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	w, _ = s.do(t, http.MethodDelete, "/api/cases/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(t, http.MethodGet, "/api/cases/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestInvalidIDsAndBodies(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})

	w, env := s.do(t, http.MethodGet, "/api/cases/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", env.Error.Code)
	assert.False(t, env.Success)

	w, env = s.do(t, http.MethodPost, "/api/cases", gin.H{"facts": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	w, _ = s.do(t, http.MethodGet, "/api/cases?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVolumeEndpoints(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	c := s.createCase(t)

	w, env := s.do(t, http.MethodPost, "/api/cases/"+c.ID.String()+"/volumes", gin.H{"title": "Volume 1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var v models.CaseVolume
	require.NoError(t, json.Unmarshal(env.Data, &v))

	w, env = s.do(t, http.MethodPut, "/api/volumes/"+v.ID.String()+"/text", gin.H{"text": "Protocol of search", "page_count": 12})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.True(t, v.OCRCompleted)
	assert.Equal(t, 12, *v.PageCount)

	w, env = s.do(t, http.MethodGet, "/api/cases/"+c.ID.String()+"/volumes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var volumes []models.CaseVolume
	require.NoError(t, json.Unmarshal(env.Data, &volumes))
	assert.Len(t, volumes, 1)

	w, _ = s.do(t, http.MethodDelete, "/api/volumes/"+v.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, "/api/volumes/"+v.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadAndDownloadFile(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	c := s.createCase(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("case_id", c.ID.String()))
	part, err := mw.CreateFormFile("file", "interrogation.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Q: where were you"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var uploaded struct {
		ID     uuid.UUID         `json:"id"`
		Volume models.CaseVolume `json:"volume"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	assert.Equal(t, "Q: where were you", uploaded.Volume.Text)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files/"+uploaded.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Q: where were you", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "interrogation.txt")
}

func TestUploadRequiresCaseID(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("case_id", "nope"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CASE_ID")
}

func TestListAgents(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	w, env := s.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var agents []models.AgentDefinition
	require.NoError(t, json.Unmarshal(env.Data, &agents))
	require.Len(t, agents, 9)
	assert.Equal(t, models.AgentEvidenceCollector, agents[0].ID)
	assert.Equal(t, models.AgentAggregator, agents[8].ID)
}

func TestRunAgentAndEvidenceOverride(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	c := s.createCase(t)
	base := "/api/cases/" + c.ID.String()

	w, env := s.do(t, http.MethodPost, base+"/agents/evidence_collector/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.AgentAnalysisRun
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	w, _ = s.do(t, http.MethodGet, "/api/runs/"+run.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, base+"/agents/astrologer/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodGet, base+"/evidence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.EvidenceItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, models.AdmissibilityPendingReview, items[0].Admissibility)

	path := base + "/evidence/" + items[0].ID.String() + "/admissibility"
	w, env = s.do(t, http.MethodPut, path, gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodPut, path, gin.H{"status": "inadmissible", "note": "no warrant"})
	require.Equal(t, http.StatusOK, w.Code)
	var item models.EvidenceItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, models.AdmissibilityInadmissible, item.Admissibility)
	assert.True(t, item.StatusOverridden)
}

func TestReportEndpoints(t *testing.T) {
	s := newTestServer(t, &stubInvoker{})
	c := s.createCase(t)
	base := "/api/cases/" + c.ID.String()

	w, env := s.do(t, http.MethodGet, base+"/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodPost, base+"/report", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_INPUT", env.Error.Code)

	for _, agent := range []string{"evidence_collector", "evidence_admissibility", "charge_qualification"} {
		w, _ = s.do(t, http.MethodPost, base+"/agents/"+agent+"/run", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, env = s.do(t, http.MethodPost, base+"/report", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var generated struct {
		Report models.AggregatedReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &generated))
	assert.Equal(t, "Evidence is weak", generated.Report.Sections.ExecutiveSummary)
	assert.Len(t, generated.Report.SourceRunIDs, 3)

	w, _ = s.do(t, http.MethodGet, base+"/report", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, base+"/report?format=markdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "## Defense Strategy\n\nSuppress E-1")

	w, env = s.do(t, http.MethodGet, base+"/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.AggregatedReport
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)
}

func TestAggregatorFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, &stubInvoker{failing: map[models.AgentID]bool{models.AgentAggregator: true}})
	c := s.createCase(t)
	base := "/api/cases/" + c.ID.String()
	for _, agent := range []string{"evidence_collector", "evidence_admissibility", "charge_qualification"} {
		w, _ := s.do(t, http.MethodPost, base+"/agents/"+agent+"/run", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, env := s.do(t, http.MethodPost, base+"/report", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "AGGREGATOR_FAILED", env.Error.Code)
}

func TestPipelineEndpoints(t *testing.T) {
	s := newTestServer(t, &stubInvoker{failing: map[models.AgentID]bool{models.AgentProceduralViolations: true}})
	c := s.createCase(t)
	base := "/api/cases/" + c.ID.String()

	w, env := s.do(t, http.MethodPost, base+"/analysis?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result service.PipelineResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Len(t, result.Runs, 9)
	assert.NotNil(t, result.Report)
	assert.False(t, result.Cancelled)

	w, env = s.do(t, http.MethodGet, base+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs service.CaseRuns
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs.Latest, 9)

	w, env = s.do(t, http.MethodGet, base+"/analysis/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"case_id":"`+c.ID.String()+`","running":false}`, string(env.Data))

	w, env = s.do(t, http.MethodDelete, base+"/analysis", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_RUNNING", env.Error.Code)

	w, env = s.do(t, http.MethodPost, base+"/analysis", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		_, running := progressOf(t, s, base)
		return !running
	}, 5*time.Second, 10*time.Millisecond)
}

func progressOf(t *testing.T, s *testServer, base string) (json.RawMessage, bool) {
	_, env := s.do(t, http.MethodGet, base+"/analysis/progress", nil)
	var p struct {
		Running  bool            `json:"running"`
		Progress json.RawMessage `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.Progress, p.Running
}

type blockingInvoker struct {
	started chan struct{}
}

func (b *blockingInvoker) Invoke(ctx context.Context, _ service.InvokeRequest) (*service.InvocationResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBusyCaseAndCancel(t *testing.T) {
	inv := &blockingInvoker{started: make(chan struct{}, 1)}
	s := newTestServer(t, inv)
	c := s.createCase(t)
	base := "/api/cases/" + c.ID.String()

	w, _ := s.do(t, http.MethodPost, base+"/analysis", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	<-inv.started

	progress, running := progressOf(t, s, base)
	require.True(t, running)
	assert.Contains(t, string(progress), `"current_agent":"evidence_collector"`)

	w, env := s.do(t, http.MethodPost, base+"/agents/charge_qualification/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CASE_BUSY", env.Error.Code)

	w, _ = s.do(t, http.MethodDelete, base+"/analysis", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		_, running := progressOf(t, s, base)
		return !running
	}, 5*time.Second, 10*time.Millisecond)

	runs, err := s.store.ListRunsByCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCancelled, runs[0].Status)
}
