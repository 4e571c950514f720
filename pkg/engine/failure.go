package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/idempotency"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/retry"
)

const cancelAttempts = 3

// classify maps collaborator errors onto the failure taxonomy.
func classify(err error) *retry.NodeError {
	var nodeErr *retry.NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}

	if errors.Is(err, protocol.ErrContactNotFound) {
		return retry.Permanent(retry.CodeContactNotFound, err)
	}

	return retry.Classify(err)
}

// handleFailure reschedules transient failures with backoff until the retry policy is
// exhausted, and terminates the execution otherwise.
func (e *Engine) handleFailure(ctx context.Context, r *run, err error) error {
	nodeErr := classify(err)
	execution := r.execution
	policy := e.config.Retry.WithMaxRetries(r.workflow.Settings.MaxRetries)

	execution.Error = nodeErr.Code
	execution.ErrorDetail = nodeErr.Error()

	if nodeErr.Retryable() {
		execution.Attempts++

		if !policy.Exhausted(execution.Attempts) {
			retryAt := r.now.Add(policy.Backoff(execution.Attempts))
			execution.ScheduledFor = &retryAt

			if err := e.save(ctx, r); err != nil {
				return err
			}

			r.logger.WarnContext(ctx, "node failed, retry scheduled",
				"node_id", nodeErr.NodeID,
				"error_code", nodeErr.Code,
				"attempt", execution.Attempts,
				"retry_at", retryAt,
				"error", nodeErr.Err,
			)

			e.publish(ctx, execution, events.ExecutionRetryScheduled{
				BaseEvent:    events.NewBaseEvent(events.ExecutionRetryScheduledEvent, execution.WorkflowID),
				ExecutionRef: events.Ref(execution),
				NodeID:       nodeErr.NodeID,
				Error:        nodeErr.Code,
				ErrorDetail:  execution.ErrorDetail,
				Attempt:      execution.Attempts,
				RetryAt:      retryAt,
			})

			return nil
		}
	}

	return e.fail(ctx, r, nodeErr)
}

func (e *Engine) fail(ctx context.Context, r *run, nodeErr *retry.NodeError) error {
	execution := r.execution
	now := e.now()

	execution.Status = models.ExecutionStatusFailed
	execution.ScheduledFor = nil
	execution.WakeAt = nil
	execution.CompletedAt = &now

	if err := e.save(ctx, r); err != nil {
		return err
	}

	r.logger.ErrorContext(ctx, "execution failed",
		"node_id", nodeErr.NodeID,
		"error_kind", nodeErr.Kind,
		"error_code", nodeErr.Code,
		"attempts", execution.Attempts,
		"error", nodeErr.Err,
	)

	e.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionRef: events.Ref(execution),
		NodeID:       nodeErr.NodeID,
		LastNodeID:   execution.LastNodeID,
		ErrorKind:    string(nodeErr.Kind),
		Error:        nodeErr.Code,
		ErrorDetail:  execution.ErrorDetail,
		Attempts:     execution.Attempts,
	})

	e.notifyFailure(ctx, r, nodeErr)

	return nil
}

// notifyFailure tells the workflow owner once per execution, however often failing is retried.
func (e *Engine) notifyFailure(ctx context.Context, r *run, nodeErr *retry.NodeError) {
	if e.deps.Notifier == nil || r.workflow.OwnerEmail == "" {
		return
	}

	key := idempotency.FailureKey(r.execution.ID)

	created, err := e.deps.Markers.SetMarker(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "skipping failure notification, marker unavailable", "error", err)

		return
	}

	if !created {
		return
	}

	err = e.deps.Notifier.Notify(ctx, &models.Notification{
		Channel: models.NotifyChannelEmail,
		To:      r.workflow.OwnerEmail,
		Subject: fmt.Sprintf("Workflow %q: execution failed", r.workflow.Name),
		Message: fmt.Sprintf(
			"Execution %s for contact %s failed at node %s with %s (%s). Last successful node: %s. Re-enroll the contact once the cause is fixed.",
			r.execution.ID, r.execution.ContactID, nodeErr.NodeID, nodeErr.Code, nodeErr.Kind, r.execution.LastNodeID,
		),
		Key: key,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failure notification not delivered", "error", err)
	}
}

// Cancel stops an execution before its next step. Cancelling a terminal execution is a no-op.
// A step already in flight finishes; its final write loses to the cancellation.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	for range cancelAttempts {
		execution, err := e.deps.Executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if execution.IsTerminal() {
			return execution, nil
		}

		now := e.now()
		execution.Status = models.ExecutionStatusCancelled
		execution.ScheduledFor = nil
		execution.WakeAt = nil
		execution.LeasedUntil = nil
		execution.CompletedAt = &now
		execution.UpdatedAt = now

		err = e.deps.Executions.Update(ctx, execution)
		if persistence.IsVersionConflict(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		e.logger.InfoContext(ctx, "execution cancelled",
			"execution_id", execution.ID,
			"workflow_id", execution.WorkflowID,
			"node_id", execution.CurrentNodeID,
		)

		e.publish(ctx, execution, events.ExecutionCancelled{
			BaseEvent:    events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
			ExecutionRef: events.Ref(execution),
			NodeID:       execution.CurrentNodeID,
		})

		return execution, nil
	}

	return nil, persistence.NewExecutionError("Cancel", &models.Execution{ID: executionID}, persistence.ErrVersionConflict)
}
