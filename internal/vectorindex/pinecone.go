package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oggyb/storymatch/internal/upstream"
)

// PineconeOptions configures the Pinecone driver.
type PineconeOptions struct {
	APIKey    string
	IndexName string
	Namespace string
	Timeout   time.Duration // per attempt
	RetryBase time.Duration
	Attempts  int
	Logger    *slog.Logger

	// CreateIfMissing provisions a serverless cosine index of Dimension
	// when IndexName does not exist.
	CreateIfMissing bool
	Dimension       int
	Cloud           string
	Region          string
}

// indexReadyTimeout bounds the wait for a freshly created index.
const indexReadyTimeout = 3 * time.Minute

// Pinecone is the production Index backed by a Pinecone serverless index.
type Pinecone struct {
	client    *pinecone.Client
	conn      *pinecone.IndexConnection
	indexName string
	timeout   time.Duration
	retry     upstream.Policy
	log       *slog.Logger
}

var _ Index = (*Pinecone)(nil)

// NewPinecone resolves the index host and opens a data-plane connection.
func NewPinecone(ctx context.Context, opts PineconeOptions) (*Pinecone, error) {
	if opts.APIKey == "" {
		return nil, errors.New("vectorindex: PINECONE_API_KEY is not set")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("creating pinecone client: %w", err)
	}
	idx, err := pc.DescribeIndex(ctx, opts.IndexName)
	if isIndexNotFound(err) && opts.CreateIfMissing {
		idx, err = createIndex(ctx, pc, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving pinecone index metadata for %s: %w", opts.IndexName, err)
	}
	conn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      idx.Host,
		Namespace: opts.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pinecone index connection: %w", err)
	}

	return &Pinecone{
		client:    pc,
		conn:      conn,
		indexName: opts.IndexName,
		timeout:   opts.Timeout,
		retry: upstream.Policy{
			Base:        opts.RetryBase,
			Max:         opts.Timeout,
			MaxAttempts: opts.Attempts,
			Logger:      opts.Logger,
		},
		log: opts.Logger,
	}, nil
}

// createIndex provisions the index and waits until it reports ready.
func createIndex(ctx context.Context, pc *pinecone.Client, opts PineconeOptions) (*pinecone.Index, error) {
	req, err := serverlessIndexRequest(opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("creating pinecone index",
		"index", req.Name,
		"dimension", req.Dimension,
		"cloud", req.Cloud,
		"region", req.Region,
	)
	if _, err := pc.CreateServerlessIndex(ctx, req); err != nil {
		return nil, fmt.Errorf("creating pinecone index %s: %w", req.Name, err)
	}

	var idx *pinecone.Index
	b := retry.WithMaxDuration(indexReadyTimeout, retry.NewConstant(2*time.Second))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		idx, err = pc.DescribeIndex(ctx, req.Name)
		if err != nil {
			return retry.RetryableError(err)
		}
		if idx.Status == nil || !idx.Status.Ready || idx.Host == "" {
			return retry.RetryableError(fmt.Errorf("index %s is not ready", req.Name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for pinecone index %s: %w", req.Name, err)
	}
	return idx, nil
}

func serverlessIndexRequest(opts PineconeOptions) (*pinecone.CreateServerlessIndexRequest, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: cannot create index %s without a dimension", opts.IndexName)
	}
	cloud := pinecone.Cloud(opts.Cloud)
	if cloud == "" {
		cloud = pinecone.Aws
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return &pinecone.CreateServerlessIndexRequest{
		Name:      opts.IndexName,
		Dimension: int32(opts.Dimension),
		Metric:    pinecone.Cosine,
		Cloud:     cloud,
		Region:    region,
	}, nil
}

func isIndexNotFound(err error) bool {
	var pe *pinecone.PineconeError
	return errors.As(err, &pe) && pe.Code == http.StatusNotFound
}

// Name is used as the Match source prefix.
func (p *Pinecone) Name() string { return "pinecone" }

// Close releases the data-plane connection.
func (p *Pinecone) Close() error { return p.conn.Close() }

func (p *Pinecone) Upsert(ctx context.Context, id string, values []float32, md Metadata) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: empty vector for %s", ErrDimension, id)
	}
	meta, err := metadataToStruct(md)
	if err != nil {
		return err
	}
	vec := &pinecone.Vector{Id: id, Values: values, Metadata: meta}
	return p.do(ctx, "pinecone.upsert", func(ctx context.Context) error {
		_, err := p.conn.UpsertVectors(ctx, []*pinecone.Vector{vec})
		return err
	})
}

func (p *Pinecone) Fetch(ctx context.Context, id string) (*Vector, bool, error) {
	var resp *pinecone.FetchVectorsResponse
	err := p.do(ctx, "pinecone.fetch", func(ctx context.Context) error {
		var err error
		resp, err = p.conn.FetchVectors(ctx, []string{id})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	v, ok := resp.Vectors[id]
	if !ok || v == nil {
		return nil, false, nil
	}
	return &Vector{ID: v.Id, Values: v.Values, Metadata: structToMetadata(v.Metadata)}, true, nil
}

func (p *Pinecone) Query(ctx context.Context, values []float32, topK int, filter Filter) ([]Neighbor, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, err
	}
	mf, err := filter.ToStruct()
	if err != nil {
		return nil, err
	}

	var resp *pinecone.QueryVectorsResponse
	err = p.do(ctx, "pinecone.query", func(ctx context.Context) error {
		var err error
		resp, err = p.conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
			Vector:          values,
			TopK:            uint32(topK),
			MetadataFilter:  mf,
			IncludeValues:   false,
			IncludeMetadata: true,
			SparseValues:    nil,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor, 0, len(resp.Matches))
	for _, sv := range resp.Matches {
		if sv == nil || sv.Vector == nil {
			continue
		}
		out = append(out, Neighbor{
			VectorID: sv.Vector.Id,
			Score:    sv.Score,
			Metadata: structToMetadata(sv.Vector.Metadata),
		})
	}
	SortNeighbors(out)
	return out, nil
}

func (p *Pinecone) Delete(ctx context.Context, id string) error {
	return p.do(ctx, "pinecone.delete", func(ctx context.Context) error {
		err := p.conn.DeleteVectorsById(ctx, []string{id})
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	})
}

// do runs fn under the per-attempt timeout with the shared retry policy.
func (p *Pinecone) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return upstream.Do(ctx, p.retry, op, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		return classifyGRPC(err)
	})
}

// classifyGRPC marks transient data-plane failures retryable.
func classifyGRPC(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return upstream.Retryable(err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return upstream.Retryable(err)
	default:
		return upstream.Terminal(err)
	}
}

func metadataToStruct(md Metadata) (*structpb.Struct, error) {
	if len(md) == 0 {
		return nil, nil
	}
	s, err := structpb.NewStruct(normalize(map[string]any(md)).(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: encoding metadata: %w", err)
	}
	return s, nil
}

func structToMetadata(s *structpb.Struct) Metadata {
	if s == nil {
		return nil
	}
	return Metadata(s.AsMap())
}
