package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/lumina-search/lumina-backend/pkg/config"
	"github.com/lumina-search/lumina-backend/pkg/db/models"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/metrics"
	"github.com/lumina-search/lumina-backend/pkg/search"
)

const (
	initialBackoff = 250 * time.Millisecond
	reconcileLimit = 100
)

type indexUpserter interface {
	Upsert(ctx context.Context, doc search.Document) error
}

// Service merges enriched records into the search index exactly once.
type Service interface {
	// Commit writes the record's document; a stale version is a successful
	// no-op. Exhausted retries leave the record flagged for reconciliation.
	Commit(ctx context.Context, record *models.ImageRecord) error
	// ReconcilePending retries records whose index write previously failed.
	ReconcilePending(ctx context.Context) (int, error)
}

type service struct {
	repo        Repository
	index       indexUpserter
	metrics     *metrics.PipelineMetrics
	retryBudget int
}

// NewService constructs the index writer.
func NewService(repo Repository, index indexUpserter, m *metrics.PipelineMetrics, cfg config.PipelineConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("indexer repository required")
	}
	if index == nil {
		return nil, fmt.Errorf("search index required")
	}
	if cfg.IndexRetryBudget <= 0 {
		return nil, fmt.Errorf("index retry budget must be positive")
	}
	return &service{
		repo:        repo,
		index:       index,
		metrics:     m,
		retryBudget: cfg.IndexRetryBudget,
	}, nil
}

func (s *service) Commit(ctx context.Context, record *models.ImageRecord) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "record is required")
	}

	doc := search.Document{
		ID:             record.ID.String(),
		ImagePath:      record.StorageRef,
		IndexedVersion: record.Version,
		UpdatedAt:      record.UpdatedAt,
	}
	if record.Description != nil {
		doc.Description = *record.Description
	}
	doc.Embedding = record.Embedding

	backoff := retry.WithMaxRetries(uint64(s.retryBudget), retry.NewExponential(initialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		upsertErr := s.index.Upsert(ctx, doc)
		if upsertErr == nil || errors.Is(upsertErr, search.ErrStaleVersion) {
			return upsertErr
		}
		return retry.RetryableError(upsertErr)
	})

	switch {
	case err == nil:
		s.metrics.IncIndexWrite("ok")
	case errors.Is(err, search.ErrStaleVersion):
		// A newer document is already indexed; this write is done.
		s.metrics.IncIndexWrite("stale")
	default:
		// The record keeps its index_pending flag and the reconcile sweep
		// picks it up; the pipeline moves on.
		s.metrics.IncIndexWrite("error")
		return pkgerrors.Wrap(pkgerrors.CodeExhaustedRetries, err, "index write retries exhausted")
	}

	if _, err := s.repo.ClearIndexPending(ctx, record.ID, record.Version); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear reconciliation flag")
	}
	return nil
}

func (s *service) ReconcilePending(ctx context.Context) (int, error) {
	records, err := s.repo.FindIndexPending(ctx, reconcileLimit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation backlog")
	}

	committed := 0
	var errs error
	for i := range records {
		if err := s.Commit(ctx, &records[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		committed++
	}
	return committed, errs
}
