package ragblade

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/ragblade/vector"
)

type EndpointSet struct {
	Ingest   endpoint.Endpoint
	Retrieve endpoint.Endpoint
	Count    endpoint.Endpoint
}

func NewEndpointSet(svc Service) *EndpointSet {
	return &EndpointSet{
		Ingest:   IngestEndpoint(svc),
		Retrieve: RetrieveEndpoint(svc),
		Count:    CountEndpoint(svc),
	}
}

type IngestRequest struct {
	SourceRef string `json:"source_ref"`
	Text      string `json:"text"`
	Replace   bool   `json:"replace,omitempty"`
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, ErrInvalidRequestType
		}

		if req.SourceRef == "" {
			return nil, &vector.InvalidArgumentError{Name: "source_ref", Reason: "must not be empty"}
		}

		return svc.Ingest(ctx, req.SourceRef, req.Text, req.Replace)
	}
}

type RetrieveRequest struct {
	Query      string   `json:"query"`
	K          *int     `json:"k,omitempty"`
	SourceRef  string   `json:"source_ref,omitempty"`
	SourceRefs []string `json:"source_refs,omitempty"`
}

func (req RetrieveRequest) Sources() []string {
	refs := req.SourceRefs
	if req.SourceRef != "" {
		refs = append([]string{req.SourceRef}, refs...)
	}

	return refs
}

func RetrieveEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(RetrieveRequest)
		if !ok {
			return nil, ErrInvalidRequestType
		}

		if req.Query == "" {
			return nil, &vector.InvalidArgumentError{Name: "query", Reason: "must not be empty"}
		}

		k := DefaultK
		if req.K != nil {
			k = *req.K
		}

		return svc.Retrieve(ctx, req.Query, k, req.Sources()...)
	}
}

func CountEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.Count(ctx)
	}
}
