package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding/embeddingtest"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/vector"

	mcpE "github.com/flarexio/ragblade/mcp"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	store, err := memory.NewMemoryStore(vector.Config{Dimension: 4})
	if err != nil {
		t.Fatal(err)
	}

	svc, err := ragblade.NewService(ragblade.Config{}, embeddingtest.New(4), store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	r := gin.New()
	AddRouters(r, ragblade.NewEndpointSet(svc))

	endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
	endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(svc)
	endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(svc)
	endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(svc)
	AddStreamableRouters(r, endpoints)

	return r
}

func post(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	bs, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bs))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestAndRetrieveRoutes(t *testing.T) {
	assert := assert.New(t)

	r := newTestRouter(t)

	w := post(r, "/api/rag/ingest", map[string]any{
		"source_ref": "https://example.com/terms",
		"text":       "The quick brown fox",
	})

	if !assert.Equal(http.StatusOK, w.Code, w.Body.String()) {
		return
	}

	var report ragblade.IngestReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(1, report.Stored)

	w = post(r, "/api/rag/retrieve", map[string]any{
		"query": "quick fox",
		"k":     5,
	})

	if !assert.Equal(http.StatusOK, w.Code, w.Body.String()) {
		return
	}

	var resp RetrieveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.Len(resp.Documents, 1) {
		assert.Equal("https://example.com/terms", resp.Documents[0].SourceRef)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rag/count", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(http.StatusOK, w.Code)
	assert.JSONEq(`{"count":1}`, w.Body.String())
}

func TestRetrieveRouteRejectsBadRequests(t *testing.T) {
	assert := assert.New(t)

	r := newTestRouter(t)

	w := post(r, "/api/rag/retrieve", map[string]any{"k": 3})
	assert.Equal(http.StatusBadRequest, w.Code)

	w = post(r, "/api/rag/retrieve", map[string]any{"query": "fox", "k": 0})
	assert.Equal(http.StatusBadRequest, w.Code)
	assert.Contains(w.Body.String(), "invalid argument k")

	w = post(r, "/api/rag/ingest", map[string]any{"text": "orphan"})
	assert.Equal(http.StatusBadRequest, w.Code)
}

func TestRetrieveRouteEmptyStore(t *testing.T) {
	assert := assert.New(t)

	r := newTestRouter(t)

	w := post(r, "/api/rag/retrieve", map[string]any{"query": "anything"})

	assert.Equal(http.StatusOK, w.Code)
	assert.JSONEq(`{"documents":[]}`, w.Body.String())
}

func TestMCPStreamableRoute(t *testing.T) {
	assert := assert.New(t)

	r := newTestRouter(t)

	w := post(r, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/list",
	})

	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), mcpE.ToolRetrieveDocuments)

	w = post(r, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "resources/list",
	})

	assert.Equal(http.StatusNotFound, w.Code)

	w = post(r, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})

	assert.Equal(http.StatusAccepted, w.Code)
}

func TestIngestRouteReturnsReportOnFailure(t *testing.T) {
	assert := assert.New(t)

	gin.SetMode(gin.TestMode)

	store, err := memory.NewMemoryStore(vector.Config{Dimension: 4})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	provider := embeddingtest.New(4).FailOn("", errors.New("backend down"))

	svc, err := ragblade.NewService(ragblade.Config{}, provider, store)
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer svc.Close()

	r := gin.New()
	AddRouters(r, ragblade.NewEndpointSet(svc))

	w := post(r, "/api/rag/ingest", ragblade.IngestRequest{
		SourceRef: "doc1",
		Text:      "The quick brown fox",
	})

	assert.Equal(http.StatusBadGateway, w.Code)

	var resp IngestErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Contains(resp.Error, "backend down")
	if assert.NotNil(resp.Report) {
		assert.Equal("doc1", resp.Report.SourceRef)
		assert.Equal(0, resp.Report.Stored)
		assert.Len(resp.Report.Skipped, 1)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&vector.InvalidArgumentError{Name: "k", Reason: "must be positive"}, http.StatusBadRequest},
		{&vector.DimensionMismatchError{Expected: 4, Actual: 3}, http.StatusBadRequest},
		{&vector.TimeoutError{Op: "search"}, http.StatusGatewayTimeout},
		{&vector.EmbeddingError{Err: errors.New("down")}, http.StatusBadGateway},
		{vector.ErrStoreClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusExpectationFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, StatusCode(tt.err), tt.err.Error())
	}
}
