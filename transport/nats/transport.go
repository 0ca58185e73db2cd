package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/vector"
)

// ErrorCode maps service errors to micro error codes, which follow the
// HTTP status codes.
func ErrorCode(err error) string {
	var (
		argErr     *vector.InvalidArgumentError
		cfgErr     *vector.ConfigError
		dimErr     *vector.DimensionMismatchError
		timeoutErr *vector.TimeoutError
	)

	switch {
	case errors.As(err, &argErr), errors.As(err, &cfgErr), errors.As(err, &dimErr):
		return "400"
	case errors.As(err, &timeoutErr):
		return "504"
	default:
		return "417"
	}
}

func IngestHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.IngestRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			var data []byte
			if report, ok := resp.(*ragblade.IngestReport); ok && report != nil {
				data, _ = json.Marshal(report)
			}

			r.Error(ErrorCode(err), err.Error(), data)
			return
		}

		report, ok := resp.(*ragblade.IngestReport)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(report)
	}
}

func RetrieveHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req ragblade.RetrieveRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		docs, ok := resp.([]ragblade.Document)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(&docs)
	}
}

func CountHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		ctx := context.Background()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		n, ok := resp.(int)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.Respond([]byte(strconv.Itoa(n)))
	}
}
