package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/ragblade"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id any, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(id),
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `RAGBlade indexes documents for retrieval-augmented generation:

1. **Ingestion**: Documents are split into overlapping chunks and embedded
2. **Retrieval**: Queries return the most similar chunks with their source

Available tools:
- retrieve_documents: Find the chunks most relevant to a natural language query
- ingest_document: Add a document, optionally replacing an earlier version

Retrieved chunks carry a similarity score between -1 and 1 and the source they came from.`

const (
	ToolRetrieveDocuments = "retrieve_documents"
	ToolIngestDocument    = "ingest_document"
)

var Tools = []mcp.Tool{
	mcp.NewTool(ToolRetrieveDocuments,
		mcp.WithDescription("Retrieve the document chunks most similar to a query."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Number of chunks to return (default 3)"),
		),
		mcp.WithString("source_ref",
			mcp.Description("Only return chunks of this source"),
		),
	),
	mcp.NewTool(ToolIngestDocument,
		mcp.WithDescription("Chunk, embed and store a document."),
		mcp.WithString("source_ref",
			mcp.Required(),
			mcp.Description("Provenance of the document, such as its URL"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw UTF-8 text of the document"),
		),
		mcp.WithBoolean("replace",
			mcp.Description("Delete earlier chunks of the same source first"),
		),
	),
}

func InitializeEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "ragblade",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{}, // empty response
		}
	}
}

func ListToolsEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func CallToolEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		args, _ := params.Arguments.(map[string]any)

		var (
			result *mcp.CallToolResult
			err    error
		)

		switch params.Name {
		case ToolRetrieveDocuments:
			result, err = retrieveDocuments(ctx, svc, args)

		case ToolIngestDocument:
			result, err = ingestDocument(ctx, svc, args)

		default:
			return errorResponse(req.ID, mcp.METHOD_NOT_FOUND, "tool not found: "+params.Name)
		}

		if err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

// retrieveDocuments reports service failures inside the tool result so the
// calling model can see them; only malformed arguments fail the request.
func retrieveDocuments(ctx context.Context, svc ragblade.Service, args map[string]any) (*mcp.CallToolResult, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("missing required argument: query")
	}

	k := ragblade.DefaultK
	if v, ok := args["k"]; ok {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("argument k must be a number")
		}

		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("argument k must be an integer")
		}

		k = int(n)
	}

	var sourceRefs []string
	if ref, _ := args["source_ref"].(string); ref != "" {
		sourceRefs = append(sourceRefs, ref)
	}

	docs, err := svc.Retrieve(ctx, query, k, sourceRefs...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(docs)
}

func ingestDocument(ctx context.Context, svc ragblade.Service, args map[string]any) (*mcp.CallToolResult, error) {
	sourceRef, _ := args["source_ref"].(string)
	if sourceRef == "" {
		return nil, fmt.Errorf("missing required argument: source_ref")
	}

	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("missing required argument: text")
	}

	replace, _ := args["replace"].(bool)

	report, err := svc.Ingest(ctx, sourceRef, text, replace)
	if err != nil {
		result := mcp.NewToolResultError(err.Error())
		if report != nil {
			bs, jsonErr := json.Marshal(report)
			if jsonErr == nil {
				result.Content = append(result.Content, mcp.NewTextContent(string(bs)))
			}
		}

		return result, nil
	}

	return jsonResult(report)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(bs)), nil
}
