package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

// BatchItem is one image handed to the inference service. Description is
// optional; when set, the service echoes it instead of generating one.
type BatchItem struct {
	ImageID     string `json:"image_id"`
	StorageRef  string `json:"storage_ref"`
	Description string `json:"description,omitempty"`
}

// JobStatus is the remote view of a batch job.
type JobStatus struct {
	State        RemoteState
	ResultCursor string
	Reason       string
}

// ResultItem is one per-image enrichment outcome from a result page.
type ResultItem struct {
	ImageID     string            `json:"image_id"`
	Description string            `json:"description"`
	Embedding   []float32         `json:"embedding"`
	Outcome     enums.ItemOutcome `json:"outcome"`
	Error       string            `json:"error,omitempty"`
}

// ResultPage is one slice of a job's results; NextCursor is empty on the
// final page.
type ResultPage struct {
	Items      []ResultItem `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// RemoteState is the inference service's own job state vocabulary.
type RemoteState string

const (
	RemoteStateSubmitted          RemoteState = "Submitted"
	RemoteStateInProgress         RemoteState = "InProgress"
	RemoteStateCompleted          RemoteState = "Completed"
	RemoteStatePartiallyCompleted RemoteState = "PartiallyCompleted"
	RemoteStateFailed             RemoteState = "Failed"
	RemoteStateStopped            RemoteState = "Stopped"
)

// ToJobState maps the remote vocabulary onto the local state machine.
func (s RemoteState) ToJobState() (enums.BatchJobState, error) {
	switch s {
	case RemoteStateSubmitted:
		return enums.BatchJobStateCreated, nil
	case RemoteStateInProgress:
		return enums.BatchJobStateInProgress, nil
	case RemoteStateCompleted:
		return enums.BatchJobStateCompleted, nil
	case RemoteStatePartiallyCompleted:
		return enums.BatchJobStatePartiallyFailed, nil
	case RemoteStateFailed, RemoteStateStopped:
		return enums.BatchJobStateFailed, nil
	}
	return "", fmt.Errorf("unknown remote job state %q", s)
}

// Client talks to the external inference batch service.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	modelID    string
	pageSize   int
}

func NewClient(cfg config.InferenceConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("inference endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		modelID:    cfg.ModelID,
		pageSize:   pageSize,
	}, nil
}

// Submit creates a batch enrichment job and returns the remote job handle.
func (c *Client) Submit(ctx context.Context, items []BatchItem) (string, error) {
	if len(items) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "batch must not be empty")
	}
	payload := map[string]any{
		"model_id": c.modelID,
		"items":    items,
	}
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/batch-jobs", payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit batch job")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp, "submit batch job"); err != nil {
		return "", err
	}

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode submit response")
	}
	if decoded.JobID == "" {
		return "", pkgerrors.New(pkgerrors.CodePermanentBackend, "inference service returned empty job id")
	}
	return decoded.JobID, nil
}

// Poll fetches the current remote status for the job.
func (c *Client) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	path := "/v1/batch-jobs/" + url.PathEscape(jobID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "poll batch job")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch job not found upstream")
	}
	if err := classifyStatus(resp, "poll batch job"); err != nil {
		return nil, err
	}

	var decoded struct {
		State        string `json:"state"`
		ResultCursor string `json:"result_cursor"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode poll response")
	}
	return &JobStatus{
		State:        RemoteState(decoded.State),
		ResultCursor: decoded.ResultCursor,
		Reason:       decoded.Reason,
	}, nil
}

// FetchResults reads one page of per-item results. An empty cursor starts
// from the beginning.
func (c *Client) FetchResults(ctx context.Context, jobID, cursor string) (*ResultPage, error) {
	path := fmt.Sprintf(
		"/v1/batch-jobs/%s/results?page_size=%d",
		url.PathEscape(jobID),
		c.pageSize,
	)
	if cursor != "" {
		path += "&cursor=" + url.QueryEscape(cursor)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch batch results")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp, "fetch batch results"); err != nil {
		return nil, err
	}

	var page ResultPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode results page")
	}
	return &page, nil
}

// Embed produces a text embedding for search queries.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "text is required")
	}
	return c.embed(ctx, map[string]any{
		"model_id": c.modelID,
		"text":     text,
	})
}

// EmbedImage produces an image embedding for query-by-image searches.
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image bytes are required")
	}
	return c.embed(ctx, map[string]any{
		"model_id":  c.modelID,
		"image_b64": base64.StdEncoding.EncodeToString(data),
	})
}

func (c *Client) embed(ctx context.Context, payload map[string]any) ([]float32, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/embeddings", payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate embedding")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp, "generate embedding"); err != nil {
		return nil, err
	}

	var decoded struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode embedding response")
	}
	return decoded.Embedding, nil
}

// RerankCandidate is one ranked hit offered to the reranker.
type RerankCandidate struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	ImagePath   string `json:"image_path"`
}

// Rerank asks the multimodal model which candidates actually match the query
// and returns their ids in preference order.
func (c *Client) Rerank(ctx context.Context, queryText string, candidates []RerankCandidate) ([]string, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query text is required")
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	payload := map[string]any{
		"model_id":   c.modelID,
		"query_text": queryText,
		"candidates": candidates,
	}
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/rerank", payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rerank results")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp, "rerank results"); err != nil {
		return nil, err
	}

	var decoded struct {
		MatchedIDs []string `json:"matched_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rerank response")
	}
	return decoded.MatchedIDs, nil
}

func classifyStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s: %s", op, readErrorBody(resp)))
	default:
		return pkgerrors.New(pkgerrors.CodePermanentBackend, fmt.Sprintf("%s: %s", op, readErrorBody(resp)))
	}
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
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
