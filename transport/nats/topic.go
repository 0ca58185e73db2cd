package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/ragblade"
)

const (
	TopicIngest   = "ingest"
	TopicRetrieve = "retrieve"
	TopicCount    = "count"
)

func AddEndpoints(group micro.Group, endpoints *ragblade.EndpointSet) error {
	if err := group.AddEndpoint(TopicIngest, IngestHandler(endpoints.Ingest)); err != nil {
		return err
	}

	if err := group.AddEndpoint(TopicRetrieve, RetrieveHandler(endpoints.Retrieve)); err != nil {
		return err
	}

	return group.AddEndpoint(TopicCount, CountHandler(endpoints.Count))
}
