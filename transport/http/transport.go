package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

// StatusCode maps service errors to HTTP status codes.
func StatusCode(err error) int {
	var (
		argErr     *vector.InvalidArgumentError
		cfgErr     *vector.ConfigError
		dimErr     *vector.DimensionMismatchError
		vecErr     *vector.InvalidVectorError
		timeoutErr *vector.TimeoutError
		embErr     *vector.EmbeddingError
	)

	switch {
	case errors.As(err, &argErr),
		errors.As(err, &cfgErr),
		errors.As(err, &dimErr),
		errors.As(err, &vecErr):
		return http.StatusBadRequest

	case errors.As(err, &timeoutErr),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.As(err, &embErr):
		return http.StatusBadGateway

	case errors.Is(err, vector.ErrStoreClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusExpectationFailed
	}
}

func abort(c *gin.Context, status int, err error) {
	c.String(status, err.Error())
	c.Error(err)
	c.Abort()
}

// IngestErrorResponse carries the report of an ingest that stored nothing,
// so callers can see which chunks and records failed.
type IngestErrorResponse struct {
	Error  string                 `json:"error"`
	Report *ragblade.IngestReport `json:"report"`
}

func IngestHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			report, ok := resp.(*ragblade.IngestReport)
			if !ok || report == nil {
				abort(c, StatusCode(err), err)
				return
			}

			c.JSON(StatusCode(err), &IngestErrorResponse{
				Error:  err.Error(),
				Report: report,
			})
			c.Error(err)
			c.Abort()
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

type RetrieveResponse struct {
	Documents []ragblade.Document `json:"documents"`
}

func RetrieveHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ragblade.RetrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		if req.Query == "" {
			abort(c, http.StatusBadRequest, errors.New("query is required"))
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abort(c, StatusCode(err), err)
			return
		}

		docs, ok := resp.([]ragblade.Document)
		if !ok {
			abort(c, http.StatusInternalServerError, ragblade.ErrInvalidResponseType)
			return
		}

		c.JSON(http.StatusOK, &RetrieveResponse{Documents: docs})
	}
}

type CountResponse struct {
	Count int `json:"count"`
}

func CountHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			abort(c, StatusCode(err), err)
			return
		}

		n, ok := resp.(int)
		if !ok {
			abort(c, http.StatusInternalServerError, ragblade.ErrInvalidResponseType)
			return
		}

		c.JSON(http.StatusOK, &CountResponse{Count: n})
	}
}
