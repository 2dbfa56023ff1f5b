package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	qdrantPayloadDocument = "document"
	qdrantPayloadRecordID = "record_id"
)

type qdrantConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type qdrantStore struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	apiKey      string
	dimension   int
}

func createQdrantStore(ctx context.Context, args interface{}) (Store, error) {
	_ = ctx
	cfg := &qdrantConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &qdrantStore{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		apiKey:      cfg.APIKey,
		dimension:   cfg.Dimension,
	}, nil
}

func (s *qdrantStore) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *qdrantStore) GetCollection(ctx context.Context, name string) (Collection, bool, error) {
	resp, err := s.collections.CollectionExists(s.withAuth(ctx), &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return nil, false, err
	}
	if !resp.GetResult().GetExists() {
		return nil, false, nil
	}
	return &qdrantCollection{store: s, name: name}, true, nil
}

func (s *qdrantStore) CreateCollection(ctx context.Context, name string) (Collection, error) {
	_, err := s.collections.Create(s.withAuth(ctx), &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(s.dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		if isQdrantAlreadyExists(err) {
			return nil, ErrCollectionExists
		}
		return nil, err
	}
	return &qdrantCollection{store: s, name: name}, nil
}

func (s *qdrantStore) Close() error {
	return s.conn.Close()
}

func isQdrantAlreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

type qdrantCollection struct {
	store *qdrantStore
	name  string
}

func (c *qdrantCollection) Name() string {
	return c.name
}

// pointID maps a record id onto the UUID space qdrant requires. The mapping
// is deterministic so re-ingesting an id addresses the same point.
func (c *qdrantCollection) pointID(id string) *pb.PointId {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.name+"/"+id))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func (c *qdrantCollection) pointIDs(ids []string) []*pb.PointId {
	out := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		out[i] = c.pointID(id)
	}
	return out
}

func (c *qdrantCollection) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := c.store.points.Get(c.store.withAuth(ctx), &pb.GetPoints{
		CollectionName: c.name,
		Ids:            c.pointIDs(ids),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		if v, ok := pt.GetPayload()[qdrantPayloadRecordID]; ok {
			out = append(out, v.GetStringValue())
		}
	}
	return out, nil
}

func (c *qdrantCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	wait := true
	_, err := c.store.points.Delete(c.store.withAuth(ctx), &pb.DeletePoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: c.pointIDs(ids)},
		}},
	})
	return err
}

func (c *qdrantCollection) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyEmbedding, r.ID)
		}
		payload := map[string]*pb.Value{
			qdrantPayloadDocument: {Kind: &pb.Value_StringValue{StringValue: r.Document}},
			qdrantPayloadRecordID: {Kind: &pb.Value_StringValue{StringValue: r.ID}},
		}
		for k, v := range r.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points = append(points, &pb.PointStruct{
			Id:      c.pointID(r.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: payload,
		})
	}
	wait := true
	_, err := c.store.points.Upsert(c.store.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func (c *qdrantCollection) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	resp, err := c.store.points.Search(c.store.withAuth(ctx), &pb.SearchPoints{
		CollectionName: c.name,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		hit := Hit{Score: pt.GetScore(), Metadata: map[string]string{}}
		for k, v := range pt.GetPayload() {
			switch k {
			case qdrantPayloadDocument:
				hit.Document = v.GetStringValue()
			case qdrantPayloadRecordID:
				hit.ID = v.GetStringValue()
			default:
				hit.Metadata[k] = v.GetStringValue()
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := c.store.points.Count(c.store.withAuth(ctx), &pb.CountPoints{
		CollectionName: c.name,
		Exact:          &exact,
	})
	if err != nil {
		return 0, err
	}
	return int(resp.GetResult().GetCount()), nil
}

func init() {
	Register("qdrant", createQdrantStore)
}
