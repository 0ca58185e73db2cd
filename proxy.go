package ragblade

import (
	"context"
)

// ProxyMiddleware serves the Service through remote endpoints, such as the
// NATS client endpoints.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return ErrNotImplemented
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, sourceRef string, text string, replace ...bool) (*IngestReport, error) {
	req := IngestRequest{
		SourceRef: sourceRef,
		Text:      text,
		Replace:   len(replace) > 0 && replace[0],
	}

	resp, err := mw.endpoints.Ingest(ctx, req)
	if err != nil {
		report, _ := resp.(*IngestReport)
		return report, err
	}

	report, ok := resp.(*IngestReport)
	if !ok {
		return nil, ErrInvalidResponseType
	}

	return report, nil
}

func (mw *proxyMiddleware) Retrieve(ctx context.Context, query string, k int, sourceRefs ...string) ([]Document, error) {
	req := RetrieveRequest{
		Query:      query,
		K:          &k,
		SourceRefs: sourceRefs,
	}

	resp, err := mw.endpoints.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.([]Document)
	if !ok {
		return nil, ErrInvalidResponseType
	}

	return docs, nil
}

func (mw *proxyMiddleware) Count(ctx context.Context) (int, error) {
	resp, err := mw.endpoints.Count(ctx, nil)
	if err != nil {
		return 0, err
	}

	n, ok := resp.(int)
	if !ok {
		return 0, ErrInvalidResponseType
	}

	return n, nil
}
