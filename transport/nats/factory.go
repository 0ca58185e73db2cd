package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
)

func MakeEndpoints(nc *nats.Conn, prefix string) *ragblade.EndpointSet {
	return &ragblade.EndpointSet{
		Ingest:   IngestEndpoint(nc, prefix+"."+TopicIngest),
		Retrieve: RetrieveEndpoint(nc, prefix+"."+TopicRetrieve),
		Count:    CountEndpoint(nc, prefix+"."+TopicCount),
	}
}

// call bounds requests without a deadline by nats.DefaultTimeout. A reply
// carrying a micro error is returned along with the error.
func call(ctx context.Context, nc *nats.Conn, topic string, data []byte) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, err
	}

	if err := Error(msg); err != nil {
		return msg, err
	}

	return msg, nil
}

func IngestEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.IngestRequest)
		if !ok {
			return nil, ragblade.ErrInvalidRequestType
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := call(ctx, nc, topic, data)
		if err != nil {
			if resp == nil || len(resp.Data) == 0 {
				return nil, err
			}

			var report *ragblade.IngestReport
			if jsonErr := json.Unmarshal(resp.Data, &report); jsonErr != nil {
				return nil, err
			}

			return report, err
		}

		var report *ragblade.IngestReport
		if err := json.Unmarshal(resp.Data, &report); err != nil {
			return nil, err
		}

		return report, nil
	}
}

func RetrieveEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ragblade.RetrieveRequest)
		if !ok {
			return nil, ragblade.ErrInvalidRequestType
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		resp, err := call(ctx, nc, topic, data)
		if err != nil {
			return nil, err
		}

		docs := make([]ragblade.Document, 0)
		if err := json.Unmarshal(resp.Data, &docs); err != nil {
			return nil, err
		}

		return docs, nil
	}
}

func CountEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		resp, err := call(ctx, nc, topic, nil)
		if err != nil {
			return nil, err
		}

		return strconv.Atoi(string(resp.Data))
	}
}

func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	return errors.New(code + ":" + description)
}
