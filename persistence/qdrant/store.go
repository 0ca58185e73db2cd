// Package qdrant stores records in a remote Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flarexio/ragblade/vector"
)

const (
	DefaultPort       = 6334
	DefaultCollection = "documents"
)

const (
	payloadRecordID   = "record_id"
	payloadSourceRef  = "source_ref"
	payloadText       = "text"
	payloadChunkIndex = "chunk_index"
	payloadCreatedAt  = "created_at"
)

// searches with a Match predicate cannot push it to the server
const filteredLimit = 256

// idNamespace derives point UUIDs for record IDs that are not UUIDs.
var idNamespace = uuid.MustParse("6f2c1c1e-8a4e-4f7e-9a57-3c0e5d1f8b42")

func NewQdrantStore(ctx context.Context, cfg vector.Config) (vector.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	port := cfg.Qdrant.Port
	if port == 0 {
		port = DefaultPort
	}

	addr := fmt.Sprintf("%s:%d", cfg.Qdrant.Host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	s := &qdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  name,
		dim:         cfg.Dimension,
		log: zap.L().With(
			zap.String("store", string(vector.BackendQdrant)),
			zap.String("collection", name),
		),
	}

	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

type qdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	log         *zap.Logger

	mu     sync.RWMutex
	dim    int
	exists bool
}

func (s *qdrantStore) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: s.collection,
	})
	if err != nil {
		return err
	}

	if resp.GetResult().GetExists() {
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{
			CollectionName: s.collection,
		})
		if err != nil {
			return err
		}

		size := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if s.dim > 0 && size > 0 && size != s.dim {
			return &vector.DimensionMismatchError{Expected: s.dim, Actual: size}
		}

		s.dim = size
		s.exists = true
		return nil
	}

	if s.dim == 0 {
		// created on the first upsert, once the dimension is known
		return nil
	}

	return s.createCollection(ctx, s.dim)
}

func (s *qdrantStore) createCollection(ctx context.Context, dim int) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	s.exists = true

	s.log.Info("collection created", zap.Int("dimension", dim))

	return nil
}

func (s *qdrantStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dim
}

func (s *qdrantStore) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failures []vector.RecordFailure

	valid := make([]vector.Record, 0, len(records))
	for _, r := range records {
		dim := s.dim
		if dim == 0 && len(valid) > 0 {
			dim = len(valid[0].Embedding)
		}

		if err := vector.ValidateRecord(r, dim); err != nil {
			failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			continue
		}

		valid = append(valid, r)
	}

	if len(valid) > 0 {
		if err := s.upsert(ctx, valid); err != nil {
			for _, r := range valid {
				failures = append(failures, vector.RecordFailure{ID: r.ID, Err: err})
			}

			valid = nil
		}
	}

	if len(failures) > 0 {
		return len(valid), &vector.PartialUpsertError{Failures: failures}
	}

	return len(valid), nil
}

func (s *qdrantStore) upsert(ctx context.Context, records []vector.Record) error {
	if !s.exists {
		if err := s.createCollection(ctx, len(records[0].Embedding)); err != nil {
			return err
		}
	}

	s.dim = len(records[0].Embedding)

	created, err := s.createdAt(ctx, records)
	if err != nil {
		return err
	}

	now := time.Now()

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if t, ok := created[r.ID]; ok {
			r.CreatedAt = t
		}

		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}

		points[i] = &pb.PointStruct{
			Id:      PointID(r.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: Payload(r),
		}
	}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})

	return err
}

// createdAt keeps the original insertion time of records that already exist.
func (s *qdrantStore) createdAt(ctx context.Context, records []vector.Record) (map[string]time.Time, error) {
	ids := make([]*pb.PointId, len(records))
	for i, r := range records {
		ids[i] = PointID(r.ID)
	}

	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	created := make(map[string]time.Time, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		r := FromPayload(pt.GetPayload())
		if !r.CreatedAt.IsZero() {
			created[r.ID] = r.CreatedAt
		}
	}

	return created, nil
}

func (s *qdrantStore) Search(ctx context.Context, query []float32, k int, filter *vector.Filter) ([]vector.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := vector.ValidateQuery(query, k, s.dim); err != nil {
		return nil, err
	}

	if !s.exists {
		return []vector.ScoredRecord{}, nil
	}

	limit := vector.OverFetch(k)

	var native *pb.Filter
	if filter != nil {
		if len(filter.SourceRefs) > 0 {
			native = SourceRefFilter(filter.SourceRefs...)
		}

		if filter.Match != nil {
			limit = max(limit, filteredLimit)
		}
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Filter:         native,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	cands := make([]vector.Candidate, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		r := FromPayload(pt.GetPayload())
		if !filter.Accepts(r) {
			continue
		}

		cands = append(cands, vector.Candidate{
			Record: r,
			Score:  max(-1, min(1, float64(pt.GetScore()))),
			Seq:    r.CreatedAt.UnixNano(),
		})
	}

	return vector.TopK(cands, k), nil
}

func (s *qdrantStore) DeleteBySource(ctx context.Context, sourceRef string, keep ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists {
		return 0, nil
	}

	filter := SourceRefFilter(sourceRef)
	if len(keep) > 0 {
		filter.MustNot = []*pb.Condition{HasIDCondition(keep...)}
	}

	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (s *qdrantStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return 0, nil
	}

	return s.count(ctx, nil)
}

func (s *qdrantStore) count(ctx context.Context, filter *pb.Filter) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}

	return int(resp.GetResult().GetCount()), nil
}

func (s *qdrantStore) Close() error {
	return s.conn.Close()
}

// PointID maps a record ID onto a Qdrant point ID. UUIDs are used as is;
// other IDs get a stable name-based UUID.
func PointID(id string) *pb.PointId {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(idNamespace, []byte(id))
	}

	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func Payload(r vector.Record) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadRecordID:   {Kind: &pb.Value_StringValue{StringValue: r.ID}},
		payloadSourceRef:  {Kind: &pb.Value_StringValue{StringValue: r.SourceRef}},
		payloadText:       {Kind: &pb.Value_StringValue{StringValue: r.Text}},
		payloadChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.ChunkIndex)}},
		payloadCreatedAt:  {Kind: &pb.Value_IntegerValue{IntegerValue: r.CreatedAt.UnixNano()}},
	}
}

func FromPayload(payload map[string]*pb.Value) vector.Record {
	r := vector.Record{
		ID:         payload[payloadRecordID].GetStringValue(),
		SourceRef:  payload[payloadSourceRef].GetStringValue(),
		Text:       payload[payloadText].GetStringValue(),
		ChunkIndex: int(payload[payloadChunkIndex].GetIntegerValue()),
	}

	if ns := payload[payloadCreatedAt].GetIntegerValue(); ns != 0 {
		r.CreatedAt = time.Unix(0, ns)
	}

	return r
}

// SourceRefFilter matches points of any of the given sources.
func SourceRefFilter(sourceRefs ...string) *pb.Filter {
	match := &pb.Match{
		MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: sourceRefs}},
	}

	if len(sourceRefs) == 1 {
		match = &pb.Match{
			MatchValue: &pb.Match_Keyword{Keyword: sourceRefs[0]},
		}
	}

	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   payloadSourceRef,
						Match: match,
					},
				},
			},
		},
	}
}

// HasIDCondition matches the points of the given record IDs.
func HasIDCondition(ids ...string) *pb.Condition {
	points := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}

	return &pb.Condition{
		ConditionOneOf: &pb.Condition_HasId{
			HasId: &pb.HasIdCondition{HasId: points},
		},
	}
}
