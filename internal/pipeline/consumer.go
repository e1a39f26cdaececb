package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/lumina-search/lumina-backend/internal/jobs"
	pkgerrors "github.com/lumina-search/lumina-backend/pkg/errors"
	"github.com/lumina-search/lumina-backend/pkg/logger"
)

type stateChecker interface {
	CheckJobState(ctx context.Context, jobID uuid.UUID) (*jobs.PollResult, error)
}

type jobEvent struct {
	JobID string `json:"job_id"`
}

// JobEventsConsumer reacts to completion notifications published by the
// inference backend so finished jobs are finalized without waiting for the
// next sweep.
type JobEventsConsumer struct {
	checker      stateChecker
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewJobEventsConsumer wires the event-driven poll path.
func NewJobEventsConsumer(checker stateChecker, subscription *pubsub.Subscriber, logg *logger.Logger) (*JobEventsConsumer, error) {
	if checker == nil {
		return nil, errors.New("state checker is required")
	}
	if subscription == nil {
		return nil, errors.New("job events subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &JobEventsConsumer{
		checker:      checker,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes job events until the context is canceled.
func (c *JobEventsConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked. Malformed events are
// acked so they do not redeliver forever; only retryable backend failures nack.
func (c *JobEventsConsumer) process(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	var event jobEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logg.Error(logCtx, "failed to decode job event", err)
		return true
	}
	if strings.TrimSpace(event.JobID) == "" {
		c.logg.Warn(logCtx, "job event missing job_id")
		return true
	}
	jobID, err := uuid.Parse(event.JobID)
	if err != nil {
		c.logg.Error(logCtx, "job event carries malformed job_id", err)
		return true
	}

	logCtx = c.logg.WithJobID(logCtx, jobID.String())
	result, err := c.checker.CheckJobState(logCtx, jobID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			c.logg.Warn(logCtx, "job event references unknown job")
			return true
		}
		if pkgerrors.IsRetryable(err) {
			c.logg.Error(logCtx, "transient failure handling job event; redelivering", err)
			return false
		}
		c.logg.Error(logCtx, "failed to handle job event", err)
		return true
	}

	c.logg.Info(c.logg.WithField(logCtx, "state", string(result.State)), "job event processed")
	return true
}
