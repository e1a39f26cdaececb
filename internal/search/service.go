package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/inference"
	searchclient "github.com/lumina-search/lumina-backend/pkg/search"
)

const defaultTopK = 10

type indexSearcher interface {
	Search(ctx context.Context, q searchclient.Query) ([]searchclient.Hit, error)
}

type queryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	Rerank(ctx context.Context, queryText string, candidates []inference.RerankCandidate) ([]string, error)
}

// Service serves lexical and vector queries over enriched records.
type Service interface {
	Search(ctx context.Context, query Query) ([]Result, error)
}

type service struct {
	repo          Repository
	index         indexSearcher
	embedder      queryEmbedder
	publicBaseURL string
}

// NewService constructs the search gateway. publicBaseURL optionally rewrites
// stored object references to a serving domain.
func NewService(repo Repository, index indexSearcher, embedder queryEmbedder, publicBaseURL string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("search repository required")
	}
	if index == nil {
		return nil, fmt.Errorf("search index required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("query embedder required")
	}
	return &service{
		repo:          repo,
		index:         index,
		embedder:      embedder,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}, nil
}

func (s *service) Search(ctx context.Context, query Query) ([]Result, error) {
	text := strings.TrimSpace(query.Text)
	if text == "" && len(query.Image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query_text or query_image is required")
	}
	if query.Rerank && text == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query_text is required when rerank is set")
	}
	topK := query.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	embedding, err := s.embedQuery(ctx, text, query.Image)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, searchclient.Query{
		Text:      text,
		Embedding: embedding,
		TopK:      topK,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query search index")
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	records, err := s.repo.FindEnrichedByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load hit records")
	}
	enriched := make(map[string]bool, len(records))
	for _, record := range records {
		enriched[record.ID.String()] = true
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if !enriched[hit.ID] {
			continue
		}
		results = append(results, Result{
			ID:          hit.ID,
			Score:       hit.Score,
			Description: hit.Description,
			ImagePath:   s.rewritePath(hit.ImagePath),
			UpdatedAt:   hit.UpdatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	if query.Rerank {
		results = s.rerank(ctx, text, results)
	}
	return results, nil
}

// rerank moves model-confirmed matches to the front, keeping the original
// order within each group. Any failure leaves the ranked list untouched.
func (s *service) rerank(ctx context.Context, text string, results []Result) []Result {
	if len(results) < 2 {
		return results
	}

	candidates := make([]inference.RerankCandidate, 0, len(results))
	for _, result := range results {
		candidates = append(candidates, inference.RerankCandidate{
			ID:          result.ID,
			Description: result.Description,
			ImagePath:   result.ImagePath,
		})
	}
	matchedIDs, err := s.embedder.Rerank(ctx, text, candidates)
	if err != nil || len(matchedIDs) == 0 {
		return results
	}

	matched := make(map[string]bool, len(matchedIDs))
	for _, id := range matchedIDs {
		matched[id] = true
	}
	front := make([]Result, 0, len(results))
	rest := make([]Result, 0, len(results))
	for _, result := range results {
		if matched[result.ID] {
			front = append(front, result)
		} else {
			rest = append(rest, result)
		}
	}
	return append(front, rest...)
}

// embedQuery prefers the image embedding; text queries degrade to
// lexical-only when the embedder is unavailable.
func (s *service) embedQuery(ctx context.Context, text string, image []byte) ([]float32, error) {
	if len(image) > 0 {
		embedding, err := s.embedder.EmbedImage(ctx, image)
		if err != nil {
			if text != "" {
				return nil, nil
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "embed query image")
		}
		return embedding, nil
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil
	}
	return embedding, nil
}

func (s *service) rewritePath(storageRef string) string {
	if s.publicBaseURL == "" {
		return storageRef
	}
	trimmed := strings.TrimPrefix(storageRef, "gs://")
	if trimmed == storageRef {
		return storageRef
	}
	// Drop the bucket segment; the serving domain fronts the bucket.
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return s.publicBaseURL + trimmed[idx:]
	}
	return storageRef
}
