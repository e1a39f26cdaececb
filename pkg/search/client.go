package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Document is the indexed representation of an enriched image.
type Document struct {
	ID             string    `json:"id"`
	Description    string    `json:"description"`
	Embedding      []float32 `json:"embedding,omitempty"`
	ImagePath      string    `json:"image_path"`
	IndexedVersion int64     `json:"indexed_version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Hit is a single ranked result from a query.
type Hit struct {
	ID          string
	Score       float64
	Description string
	ImagePath   string
	UpdatedAt   time.Time
}

// Query describes one index lookup. Embedding is optional; when absent the
// query runs lexical-only.
type Query struct {
	Text      string
	Embedding []float32
	TopK      int
}

// ErrStaleVersion reports that the index already holds a newer document
// version; callers treat it as a successful no-op.
var ErrStaleVersion = errors.New("search: stale document version")

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Client talks to an OpenSearch-compatible index over HTTP.
type Client struct {
	httpClient *http.Client
	endpoint   string
	index      string
	username   string
	password   string
	vectorDim  int
}

func NewClient(ctx context.Context, cfg config.SearchConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("search endpoint is required")
	}
	if strings.TrimSpace(cfg.IndexName) == "" {
		return nil, errors.New("search index name is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		index:      cfg.IndexName,
		username:   cfg.Username,
		password:   cfg.Password,
		vectorDim:  cfg.VectorDim,
	}

	if err := client.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensuring search index: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "search client initialized")
	}

	return client, nil
}

// EnsureIndex creates the kNN-enabled index when it does not exist yet.
func (c *Client) EnsureIndex(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, "/"+url.PathEscape(c.index), nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("index check returned %s", resp.Status)
	}

	settings := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":              map[string]any{"type": "keyword"},
				"description":     map[string]any{"type": "text"},
				"image_path":      map[string]any{"type": "keyword"},
				"indexed_version": map[string]any{"type": "long"},
				"updated_at":      map[string]any{"type": "date"},
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": c.vectorDim,
				},
			},
		},
	}
	resp, err = c.doJSON(ctx, http.MethodPut, "/"+url.PathEscape(c.index), settings)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("index create returned %s", readErrorBody(resp))
	}
	return nil
}

// Upsert writes the document guarded by external versioning: a write whose
// version is not newer than the stored one returns ErrStaleVersion.
func (c *Client) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	path := fmt.Sprintf(
		"/%s/_doc/%s?version=%d&version_type=external",
		url.PathEscape(c.index),
		url.PathEscape(doc.ID),
		doc.IndexedVersion,
	)
	resp, err := c.doJSON(ctx, http.MethodPut, path, doc)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return ErrStaleVersion
	default:
		return fmt.Errorf("upsert %q returned %s", doc.ID, readErrorBody(resp))
	}
}

// Delete removes the document; missing documents are not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/%s/_doc/%s", url.PathEscape(c.index), url.PathEscape(id))
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %q returned %s", id, readErrorBody(resp))
	}
	return nil
}

// Search combines a kNN clause and a lexical match on the description field;
// either alone is a valid query.
func (c *Client) Search(ctx context.Context, q Query) ([]Hit, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	var clauses []map[string]any
	if len(q.Embedding) > 0 {
		clauses = append(clauses, map[string]any{
			"knn": map[string]any{
				"embedding": map[string]any{
					"vector": q.Embedding,
					"k":      topK,
				},
			},
		})
	}
	if strings.TrimSpace(q.Text) != "" {
		clauses = append(clauses, map[string]any{
			"match": map[string]any{
				"description": q.Text,
			},
		})
	}

	var body map[string]any
	switch len(clauses) {
	case 0:
		return nil, errors.New("query text or embedding is required")
	case 1:
		body = map[string]any{
			"size":  topK,
			"query": clauses[0],
		}
	default:
		body = map[string]any{
			"size": topK,
			"query": map[string]any{
				"bool": map[string]any{"should": clauses},
			},
		}
	}

	path := fmt.Sprintf("/%s/_search", url.PathEscape(c.index))
	resp, err := c.doJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %s", readErrorBody(resp))
	}

	var decoded struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					ID          string    `json:"id"`
					Description string    `json:"description"`
					ImagePath   string    `json:"image_path"`
					UpdatedAt   time.Time `json:"updated_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		hits = append(hits, Hit{
			ID:          h.Source.ID,
			Score:       h.Score,
			Description: h.Source.Description,
			ImagePath:   h.Source.ImagePath,
			UpdatedAt:   h.Source.UpdatedAt,
		})
	}
	return hits, nil
}

// Ping verifies the cluster responds.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search cluster returned %s", resp.Status)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(encoded))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.httpClient.Do(req)
}

func readErrorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if len(b) > 0 {
		return resp.Status + ": " + strings.TrimSpace(string(b))
	}
	return resp.Status
}
