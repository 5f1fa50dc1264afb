package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/database"
	"churn-insight/internal/logger"
	"churn-insight/internal/models"
	"churn-insight/internal/recommend"
	"churn-insight/internal/rfm"
	"churn-insight/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDashboard struct {
	segments []models.SegmentSummary
	rows     []models.RFMScoreRow
	err      error

	gotLimit, gotOffset int
}

func (f *fakeDashboard) Segments(context.Context) ([]models.SegmentSummary, error) {
	return f.segments, f.err
}

func (f *fakeDashboard) SegmentCustomers(_ context.Context, _ string, limit, offset int) ([]models.RFMScoreRow, error) {
	f.gotLimit, f.gotOffset = limit, offset
	return f.rows, f.err
}

func (f *fakeDashboard) SegmentRecommendation(_ context.Context, segment string) (*recommend.SegmentPlaybook, error) {
	if segment == "NOPE" {
		return nil, services.ErrUnknownSegment
	}
	return &recommend.SegmentPlaybook{Segment: segment, Source: recommend.SourceRules}, f.err
}

func (f *fakeDashboard) Customer(_ context.Context, id int64) (*services.CustomerDetail, error) {
	if id == 404 {
		return nil, database.ErrNotFound
	}
	return &services.CustomerDetail{Customer: &models.Customer{CustomerID: id}}, f.err
}

func (f *fakeDashboard) LatestRun(context.Context) (*models.PipelineRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.PipelineRun{ID: "run-1", Status: "succeeded"}, nil
}

func dashboardRouter(dash DashboardReader) *gin.Engine {
	h := NewDashboardHandler(dash, logger.Nop())
	r := gin.New()
	r.GET("/api/segments", h.GetSegments)
	r.GET("/api/segments/:code/customers", h.GetSegmentCustomers)
	r.GET("/api/segments/:code/recommendation", h.GetSegmentRecommendation)
	r.GET("/api/customers/:id", h.GetCustomer)
	r.GET("/api/runs/latest", h.GetLatestRun)
	return r
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetSegments(t *testing.T) {
	avg := 0.42
	dash := &fakeDashboard{segments: []models.SegmentSummary{{Segment: "VIP", Customers: 10, AvgChurnProbability: &avg}}}
	w := do(dashboardRouter(dash), http.MethodGet, "/api/segments", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SegmentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, "VIP", resp.Segments[0].Segment)
	assert.InDelta(t, 0.42, *resp.Segments[0].AvgChurnProbability, 1e-9)
}

func TestGetSegmentCustomersPaging(t *testing.T) {
	dash := &fakeDashboard{rows: []models.RFMScoreRow{{RFMResult: models.RFMResult{CustomerID: 7, Segment: "VIP"}}}}
	r := dashboardRouter(dash)

	w := do(r, http.MethodGet, "/api/segments/VIP/customers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultPageSize, dash.gotLimit)
	assert.Equal(t, 0, dash.gotOffset)

	w = do(r, http.MethodGet, "/api/segments/VIP/customers?limit=10&offset=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, dash.gotLimit)
	assert.Equal(t, 20, dash.gotOffset)

	var resp SegmentCustomersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VIP", resp.Segment)
	require.Len(t, resp.Customers, 1)
	assert.Equal(t, int64(7), resp.Customers[0].CustomerID)

	for _, q := range []string{"limit=0", "limit=501", "limit=abc", "offset=-1", "offset=x"} {
		w = do(r, http.MethodGet, "/api/segments/VIP/customers?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestDashboardErrorMapping(t *testing.T) {
	r := dashboardRouter(&fakeDashboard{})

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/customers/404", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/segments/NOPE/recommendation", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/customers/abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/customers/0", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/customers/15600001", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/segments/VIP/recommendation", nil).Code)

	broken := dashboardRouter(&fakeDashboard{err: errors.New("connection refused")})
	w := do(broken, http.MethodGet, "/api/runs/latest", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")

	assert.Equal(t, http.StatusNotFound,
		do(dashboardRouter(&fakeDashboard{err: database.ErrNotFound}), http.MethodGet, "/api/runs/latest", nil).Code)
}

type fakeIssuer struct{ err error }

func (f fakeIssuer) IssueToken(key string) (string, time.Time, error) {
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	if key != "right" {
		return "", time.Time{}, services.ErrInvalidAdminKey
	}
	return "tok", time.Now().Add(time.Hour), nil
}

// blockingJobs holds every call until release is closed.
type blockingJobs struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
	lastCSV string
}

func newBlockingJobs() *blockingJobs {
	return &blockingJobs{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingJobs) wait() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
}

func (b *blockingJobs) Build(context.Context) (map[rfm.Segment]int, error) {
	b.wait()
	return map[rfm.Segment]int{rfm.SegmentVIP: 3}, nil
}

func (b *blockingJobs) RunStored(context.Context) (*services.PipelineSummary, error) {
	b.wait()
	return &services.PipelineSummary{RunID: "r1"}, nil
}

func (b *blockingJobs) RunCSV(_ context.Context, path string) (*services.PipelineSummary, error) {
	b.mu.Lock()
	b.lastCSV = path
	b.mu.Unlock()
	b.wait()
	return &services.PipelineSummary{RunID: "r2"}, nil
}

func adminRouter(h *AdminHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/auth/token", h.IssueToken)
	r.POST("/api/admin/rfm/build", h.BuildRFM)
	r.POST("/api/admin/pipeline/run", h.RunPipeline)
	return r
}

func TestIssueToken(t *testing.T) {
	r := adminRouter(NewAdminHandler(fakeIssuer{}, nil, nil, "", logger.Nop()))

	w := do(r, http.MethodPost, "/api/auth/token", []byte(`{"admin_key":"right"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok", resp.Token)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/auth/token", []byte(`{"admin_key":"wrong"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/auth/token", []byte(`{}`)).Code)

	disabled := adminRouter(NewAdminHandler(fakeIssuer{err: services.ErrAdminDisabled}, nil, nil, "", logger.Nop()))
	assert.Equal(t, http.StatusServiceUnavailable, do(disabled, http.MethodPost, "/api/auth/token", []byte(`{"admin_key":"x"}`)).Code)
}

func TestConcurrentTriggerIsRefused(t *testing.T) {
	jobs := newBlockingJobs()
	r := adminRouter(NewAdminHandler(fakeIssuer{}, jobs, jobs, "/data/bank.csv", logger.Nop()))

	first := make(chan *httptest.ResponseRecorder)
	go func() { first <- do(r, http.MethodPost, "/api/admin/pipeline/run?source=csv", nil) }()
	<-jobs.started

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/admin/pipeline/run", nil).Code)

	// the RFM job has its own lock
	rfmDone := make(chan *httptest.ResponseRecorder)
	go func() { rfmDone <- do(r, http.MethodPost, "/api/admin/rfm/build", nil) }()
	<-jobs.started
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/admin/rfm/build", nil).Code)

	close(jobs.release)
	assert.Equal(t, http.StatusOK, (<-first).Code)
	assert.Equal(t, http.StatusOK, (<-rfmDone).Code)
	assert.Equal(t, "/data/bank.csv", jobs.lastCSV)

	w := do(r, http.MethodPost, "/api/admin/pipeline/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"r1"`)
	assert.Equal(t, 3, jobs.calls)
}

func TestWebSocketSubscribeAndPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewWebSocketHandler(logger.Nop())
	go h.RunHub(ctx)

	r := gin.New()
	r.GET("/ws", h.HandleConnections)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "subscribed", reply["type"])

	// the subscribe reply proves the hub registered this client
	h.Publish(services.Event{Type: services.EventPipelineFinished, RunID: "run-9", Timestamp: time.Now().Unix()})
	var event services.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, services.EventPipelineFinished, event.Type)
	assert.Equal(t, "run-9", event.RunID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}
