package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding/embeddingtest"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/vector"
)

func TestUnmarshalInitializeRequest(t *testing.T) {
	assert := assert.New(t)

	input := []byte(`{
	  "jsonrpc": "2.0",
	  "id": 1,
	  "method": "initialize",
	  "params": {
	    "protocolVersion": "2024-11-05",
	    "capabilities": {
	      "roots": {
	        "listChanged": true
	      },
	      "sampling": {},
	      "elicitation": {}
	    },
	    "clientInfo": {
	      "name": "ExampleClient",
	      "title": "Example Client Display Name",
	      "version": "1.0.0"
	    }
	  }
	}`)

	var req JSONRPCRequest
	if err := json.Unmarshal(input, &req); err != nil {
		assert.Fail(err.Error())
		return
	}

	var params mcp.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(mcp.JSONRPC_VERSION, req.JSONRPC)
	assert.Equal(mcp.NewRequestId(int64(1)), req.ID)
	assert.Equal(mcp.MethodInitialize, req.Method)
	assert.Equal("2024-11-05", params.ProtocolVersion)
}

func TestUnmarshalCallToolRequest(t *testing.T) {
	assert := assert.New(t)

	input := []byte(`{
	  "jsonrpc": "2.0",
	  "id": 2,
	  "method": "tools/call",
	  "params": {
	    "name": "retrieve_documents",
	    "arguments": {
	      "query": "cancellation policy",
	      "k": 5
	    }
	  }
	}`)

	var req JSONRPCRequest
	if err := json.Unmarshal(input, &req); err != nil {
		assert.Fail(err.Error())
		return
	}

	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(mcp.JSONRPC_VERSION, req.JSONRPC)
	assert.Equal(mcp.NewRequestId(int64(2)), req.ID)
	assert.Equal(mcp.MethodToolsCall, req.Method)
	assert.Equal(ToolRetrieveDocuments, params.Name)
	assert.Contains(params.Arguments, "query")

	var callToolReq mcp.CallToolRequest
	if err := json.Unmarshal(input, &callToolReq); err != nil {
		assert.Fail(err.Error())
		return
	}
}

func newTestService(t *testing.T) ragblade.Service {
	t.Helper()

	store, err := memory.NewMemoryStore(vector.Config{Dimension: 4})
	if err != nil {
		t.Fatal(err)
	}

	svc, err := ragblade.NewService(ragblade.Config{}, embeddingtest.New(4), store)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { svc.Close() })

	return svc
}

func callTool(svc ragblade.Service, name string, args map[string]any) mcp.JSONRPCMessage {
	params, _ := json.Marshal(map[string]any{
		"name":      name,
		"arguments": args,
	})

	req := JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(int64(1)),
		Method:  mcp.MethodToolsCall,
		Params:  params,
	}

	return CallToolEndpoint(svc)(context.Background(), req)
}

func toolText(t *testing.T, msg mcp.JSONRPCMessage) (string, bool) {
	t.Helper()

	resp, ok := msg.(mcp.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected response, got %T", msg)
	}

	result, ok := resp.Result.(*mcp.CallToolResult)
	if !ok || len(result.Content) == 0 {
		t.Fatalf("unexpected result %#v", resp.Result)
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %#v", result.Content[0])
	}

	return text.Text, result.IsError
}

func TestIngestAndRetrieveTools(t *testing.T) {
	assert := assert.New(t)

	svc := newTestService(t)

	text, isError := toolText(t, callTool(svc, ToolIngestDocument, map[string]any{
		"source_ref": "doc1",
		"text":       "The quick brown fox",
	}))

	assert.False(isError)

	var report ragblade.IngestReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(1, report.Stored)

	text, isError = toolText(t, callTool(svc, ToolRetrieveDocuments, map[string]any{
		"query": "quick fox",
	}))

	assert.False(isError)

	var docs []ragblade.Document
	if err := json.Unmarshal([]byte(text), &docs); err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.Len(docs, 1) {
		assert.Equal("doc1", docs[0].SourceRef)
		assert.Greater(docs[0].Similarity, 0.0)
	}
}

func TestRetrieveToolReportsServiceErrors(t *testing.T) {
	assert := assert.New(t)

	svc := newTestService(t)

	text, isError := toolText(t, callTool(svc, ToolRetrieveDocuments, map[string]any{
		"query": "quick fox",
		"k":     0,
	}))

	assert.True(isError)
	assert.Contains(text, "invalid argument k")
}

func TestRetrieveToolRejectsNonIntegerK(t *testing.T) {
	assert := assert.New(t)

	svc := newTestService(t)

	for _, k := range []any{2.7, 1e12, -1e12, "3"} {
		msg := callTool(svc, ToolRetrieveDocuments, map[string]any{
			"query": "quick fox",
			"k":     k,
		})

		if resp, ok := msg.(mcp.JSONRPCError); assert.True(ok, "k=%v", k) {
			assert.Equal(mcp.INVALID_PARAMS, resp.Error.Code)
		}
	}
}

func TestIngestToolReturnsReportOnFailure(t *testing.T) {
	assert := assert.New(t)

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

	msg := callTool(svc, ToolIngestDocument, map[string]any{
		"source_ref": "doc1",
		"text":       "The quick brown fox",
	})

	resp, ok := msg.(mcp.JSONRPCResponse)
	if !assert.True(ok) {
		return
	}

	result := resp.Result.(*mcp.CallToolResult)
	assert.True(result.IsError)

	if assert.Len(result.Content, 2) {
		text := result.Content[1].(mcp.TextContent).Text

		var report ragblade.IngestReport
		assert.NoError(json.Unmarshal([]byte(text), &report))
		assert.Equal("doc1", report.SourceRef)
		assert.Equal(0, report.Stored)
		assert.Len(report.Skipped, 1)
	}
}

func TestCallToolErrors(t *testing.T) {
	assert := assert.New(t)

	svc := newTestService(t)

	msg := callTool(svc, "search_tools", nil)
	if resp, ok := msg.(mcp.JSONRPCError); assert.True(ok) {
		assert.Equal(mcp.METHOD_NOT_FOUND, resp.Error.Code)
	}

	msg = callTool(svc, ToolRetrieveDocuments, map[string]any{})
	if resp, ok := msg.(mcp.JSONRPCError); assert.True(ok) {
		assert.Equal(mcp.INVALID_PARAMS, resp.Error.Code)
	}
}

func TestListTools(t *testing.T) {
	assert := assert.New(t)

	req := JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(int64(3)),
		Method:  mcp.MethodToolsList,
	}

	msg := ListToolsEndpoint(nil)(context.Background(), req)

	resp, ok := msg.(mcp.JSONRPCResponse)
	if !assert.True(ok) {
		return
	}

	result := resp.Result.(*mcp.ListToolsResult)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}

	assert.Equal([]string{ToolRetrieveDocuments, ToolIngestDocument}, names)
}
