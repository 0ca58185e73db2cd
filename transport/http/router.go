package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/ragblade"

	mcpE "github.com/flarexio/ragblade/mcp"
)

func AddRouters(r *gin.Engine, endpoints *ragblade.EndpointSet) {
	// RESTful API routes
	api := r.Group("/api/rag")
	{
		api.POST("/ingest", IngestHandler(endpoints.Ingest))
		api.POST("/retrieve", RetrieveHandler(endpoints.Retrieve))
		api.GET("/count", CountHandler(endpoints.Count))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("", MCPStreamableHandler(endpoints))
	}
}
