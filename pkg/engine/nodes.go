package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/goal"
	"github.com/dukex/nurture/pkg/idempotency"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/retry"
	"github.com/dukex/nurture/pkg/template"
)

// Keys written into execution data.
const (
	variantDataPrefix = "variant:"
	webhookDataPrefix = "webhook:"
	loopDataPrefix    = "_loop:"
	emailDataPrefix   = "email:"
)

var errMissingPayload = errors.New("node payload is missing or malformed")

func (e *Engine) execute(ctx context.Context, r *run, node *models.Node) (outcome, error) {
	if node.Payload == nil {
		return outcome{}, retry.Permanent(retry.CodeInvalidPayload, fmt.Errorf("%w: %s", errMissingPayload, node.ID))
	}

	switch payload := node.Payload.(type) {
	case *models.TriggerPayload:
		return advance(""), nil
	case *models.EmailPayload:
		return e.sendEmail(ctx, r, node, payload, nil)
	case *models.CourseEmailPayload:
		return e.sendCourseEmail(ctx, r, node, payload)
	case *models.DelayPayload:
		return e.delay(r, payload), nil
	case *models.ConditionPayload:
		return e.evaluateCondition(ctx, r, payload)
	case *models.PurchaseCheckPayload:
		return e.checkPurchase(ctx, r, payload)
	case *models.CourseCyclePayload:
		return e.checkCourse(ctx, r, payload)
	case *models.SplitPayload:
		return e.split(ctx, r, node)
	case *models.ActionPayload:
		return e.applyAction(ctx, r, node, payload)
	case *models.WebhookPayload:
		return e.callWebhook(ctx, r, node, payload)
	case *models.NotifyPayload:
		return e.notifyOwner(ctx, r, node, payload), nil
	case *models.GoalPayload:
		return e.checkGoal(ctx, r, payload)
	case *models.CycleLoopPayload:
		return cycle(r, node, payload), nil
	case *models.StopPayload:
		r.logger.DebugContext(ctx, "stop node reached", "node_id", node.ID, "reason", payload.Reason)

		return outcome{complete: true}, nil
	default:
		return outcome{}, retry.Permanent(retry.CodeInvalidPayload, fmt.Errorf("unsupported node type %s", node.Type))
	}
}

// stepKey is the idempotency key of the current visit of a node.
func stepKey(r *run, nodeID string) string {
	return idempotency.StepKey(r.execution.ID, nodeID, r.execution.VisitCount(nodeID))
}

// done reports whether the side effect of this visit already happened.
func (e *Engine) done(ctx context.Context, key string) (bool, error) {
	done, err := e.deps.Markers.HasMarker(ctx, key)
	if err != nil {
		return false, retry.Transient(retry.CodeInternal, fmt.Errorf("failed to read marker %s: %w", key, err))
	}

	return done, nil
}

func (e *Engine) mark(ctx context.Context, key string) (bool, error) {
	created, err := e.deps.Markers.SetMarker(ctx, key)
	if err != nil {
		return false, retry.Transient(retry.CodeInternal, fmt.Errorf("failed to write marker %s: %w", key, err))
	}

	return created, nil
}

func (e *Engine) snapshot(ctx context.Context, r *run) (*condition.Snapshot, error) {
	return e.loader.Load(ctx, r.workflow, r.execution)
}

func (e *Engine) sendCourseEmail(ctx context.Context, r *run, node *models.Node, payload *models.CourseEmailPayload) (outcome, error) {
	extra := func(snapshot *condition.Snapshot, data map[string]any) {
		course := map[string]any{"id": payload.CourseID, "percent": 0.0, "completed": false}

		if progress, ok := snapshot.Course(payload.CourseID); ok {
			course["percent"] = progress.Percent
			course["completed"] = progress.Completed
		}

		data["course"] = course
		data["lesson"] = map[string]any{"id": payload.LessonID}
	}

	return e.sendEmail(ctx, r, node, &payload.EmailPayload, extra)
}

// sendEmail renders and sends the email once per visit. Nodes with an A/B test take
// subject and bodies from the execution's variant.
func (e *Engine) sendEmail(
	ctx context.Context,
	r *run,
	node *models.Node,
	payload *models.EmailPayload,
	extra func(*condition.Snapshot, map[string]any),
) (outcome, error) {
	key := stepKey(r, node.ID)

	if sent, err := e.done(ctx, key); err != nil || sent {
		return advance(""), err
	}

	content := *payload

	variantID, err := e.applyVariant(ctx, r, node.ID, &content)
	if err != nil {
		return outcome{}, err
	}

	if content.Subject == "" || (content.HTML == "" && content.Text == "") {
		return outcome{}, retry.Permanent(retry.CodeMissingTemplate, fmt.Errorf("email node %s has no subject or body", node.ID))
	}

	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	if snapshot.Contact.Email == "" {
		return outcome{}, retry.Permanent(retry.CodeEmailRejected, fmt.Errorf("contact %s has no email address", snapshot.Contact.ID))
	}

	data := snapshot.TemplateData()
	if extra != nil {
		extra(snapshot, data)
	}

	message := &models.EmailMessage{
		To:             snapshot.Contact.Email,
		FromName:       content.FromName,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"workflow_id":  r.workflow.ID,
			"execution_id": r.execution.ID,
			"node_id":      node.ID,
			"contact_id":   r.execution.ContactID,
			"variant_id":   variantID,
		},
	}

	for target, source := range map[*string]string{
		&message.Subject: content.Subject,
		&message.HTML:    content.HTML,
		&message.Text:    content.Text,
	} {
		rendered, err := template.RenderString(source, data)
		if err != nil {
			return outcome{}, retry.Permanent(retry.CodeTemplateError, err)
		}

		*target = rendered
	}

	messageID, err := e.deps.Email.Send(ctx, message)
	if err != nil {
		return outcome{}, err
	}

	created, err := e.mark(ctx, key)
	if err != nil {
		return outcome{}, err
	}

	setData(r.execution, emailDataPrefix+node.ID, map[string]any{"message_id": messageID, "variant_id": variantID})

	if created && variantID != "" {
		if err := e.deps.ABTests.RecordEvent(ctx, r.workflow.ID, node.ID, variantID, models.VariantEventSent); err != nil {
			r.logger.WarnContext(ctx, "failed to count variant send", "node_id", node.ID, "variant_id", variantID, "error", err)
		}
	}

	r.logger.InfoContext(ctx, "email sent", "node_id", node.ID, "message_id", messageID, "variant_id", variantID)

	return advance(""), nil
}

// applyVariant overlays the variant payload of the node's A/B test, if the node has one.
func (e *Engine) applyVariant(ctx context.Context, r *run, nodeID string, content *models.EmailPayload) (string, error) {
	if e.deps.ABTests == nil {
		return "", nil
	}

	variant, err := e.deps.ABTests.Resolve(ctx, r.workflow.ID, nodeID, r.execution.ID)
	if err != nil {
		if persistence.IsABTestNotFound(err) {
			return "", nil
		}

		return "", err
	}

	for field, target := range map[string]*string{
		"subject":   &content.Subject,
		"html":      &content.HTML,
		"text":      &content.Text,
		"from_name": &content.FromName,
	} {
		if value, ok := variant.Payload[field].(string); ok && value != "" {
			*target = value
		}
	}

	setData(r.execution, variantDataPrefix+nodeID, variant.ID)

	return variant.ID, nil
}

// delay suspends on first entry and advances once the wake time has passed. Early wake-ups
// (goal checks) suspend again until the original wake time.
func (e *Engine) delay(r *run, payload *models.DelayPayload) outcome {
	execution := r.execution

	if execution.WakeAt == nil {
		duration := payload.Duration()
		if duration <= 0 {
			return advance("")
		}

		wakeAt := r.now.Add(duration)
		execution.WakeAt = &wakeAt

		return suspendUntil(wakeAt)
	}

	if r.now.Before(*execution.WakeAt) {
		return suspendUntil(*execution.WakeAt)
	}

	execution.WakeAt = nil

	return advance("")
}

func (e *Engine) evaluateCondition(ctx context.Context, r *run, payload *models.ConditionPayload) (outcome, error) {
	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	handle, err := condition.Select(payload, snapshot)
	if err != nil {
		return outcome{}, retry.Permanent(retry.CodeInvalidCondition, err)
	}

	return advance(handle), nil
}

func (e *Engine) checkPurchase(ctx context.Context, r *run, payload *models.PurchaseCheckPayload) (outcome, error) {
	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	return advance(condition.YesNo(snapshot.HasPurchased(payload.ProductID))), nil
}

func (e *Engine) checkCourse(ctx context.Context, r *run, payload *models.CourseCyclePayload) (outcome, error) {
	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	progress, ok := snapshot.Course(payload.CourseID)

	met := ok && (progress.Completed ||
		(!payload.RequireCompleted && payload.MinPercent > 0 && progress.Percent >= payload.MinPercent))

	return advance(condition.YesNo(met)), nil
}

func (e *Engine) split(ctx context.Context, r *run, node *models.Node) (outcome, error) {
	variant, err := e.deps.ABTests.Resolve(ctx, r.workflow.ID, node.ID, r.execution.ID)
	if err != nil {
		if persistence.IsABTestNotFound(err) {
			return outcome{}, retry.Permanent(retry.CodeABTestNotConfigured, err)
		}

		return outcome{}, err
	}

	setData(r.execution, variantDataPrefix+node.ID, variant.ID)

	return advance(variant.ID), nil
}

func (e *Engine) applyAction(ctx context.Context, r *run, node *models.Node, payload *models.ActionPayload) (outcome, error) {
	key := stepKey(r, node.ID)

	if applied, err := e.done(ctx, key); err != nil || applied {
		return advance(""), err
	}

	contactID := r.execution.ContactID

	switch payload.Action {
	case models.ActionAddTag:
		if _, err := e.deps.Contacts.AddTag(ctx, contactID, payload.Tag); err != nil {
			return outcome{}, err
		}
	case models.ActionRemoveTag:
		if _, err := e.deps.Contacts.RemoveTag(ctx, contactID, payload.Tag); err != nil {
			return outcome{}, err
		}
	case models.ActionFireEvent:
		if e.deps.Sink == nil {
			return outcome{}, retry.Permanent(retry.CodeInvalidPayload, errors.New("no event sink configured for fire_event"))
		}

		err := e.deps.Sink.Emit(ctx, &models.Event{
			Scope:      r.workflow.Scope,
			Type:       models.EventTypeCustom,
			ContactID:  contactID,
			Name:       payload.Event,
			Payload:    payload.Payload,
			OccurredAt: r.now,
		})
		if err != nil {
			return outcome{}, err
		}
	default:
		return outcome{}, retry.Permanent(retry.CodeInvalidPayload, fmt.Errorf("unknown action %q", payload.Action))
	}

	if _, err := e.mark(ctx, key); err != nil {
		return outcome{}, err
	}

	r.logger.InfoContext(ctx, "action applied", "node_id", node.ID, "action", payload.Action)

	return advance(""), nil
}

func (e *Engine) callWebhook(ctx context.Context, r *run, node *models.Node, payload *models.WebhookPayload) (outcome, error) {
	key := stepKey(r, node.ID)

	if called, err := e.done(ctx, key); err != nil || called {
		return advance(""), err
	}

	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	body := map[string]any{
		"workflow": map[string]any{"id": r.workflow.ID, "name": r.workflow.Name, "scope": r.workflow.Scope},
		"contact":  template.ContactData(snapshot.Contact),
		"execution": map[string]any{
			"id":      r.execution.ID,
			"node_id": node.ID,
			"data":    r.execution.Data,
		},
	}

	if len(payload.Extra) > 0 {
		body["extra"] = payload.Extra
	}

	resp, err := e.deps.Webhook.Post(ctx, payload.URL, payload.Headers, body)
	if err != nil {
		return outcome{}, err
	}

	if _, err := e.mark(ctx, key); err != nil {
		return outcome{}, err
	}

	setData(r.execution, webhookDataPrefix+node.ID, map[string]any{"status": resp.StatusCode, "body": resp.Body})

	return advance(""), nil
}

// notifyOwner never fails the execution: delivery errors are logged and the node advances.
func (e *Engine) notifyOwner(ctx context.Context, r *run, node *models.Node, payload *models.NotifyPayload) outcome {
	key := stepKey(r, node.ID)

	created, err := e.deps.Markers.SetMarker(ctx, key)
	if err != nil || !created {
		if err != nil {
			r.logger.WarnContext(ctx, "skipping notification, marker unavailable", "node_id", node.ID, "error", err)
		}

		return advance("")
	}

	data := template.Data(r.workflow, r.execution, nil)
	if snapshot, err := e.snapshot(ctx, r); err == nil {
		data = snapshot.TemplateData()
	}

	subject, err := template.RenderString(payload.Subject, data)
	if err != nil {
		subject = payload.Subject
	}

	message, err := template.RenderString(payload.Message, data)
	if err != nil {
		message = payload.Message
	}

	err = e.deps.Notifier.Notify(ctx, &models.Notification{
		Channel: payload.Channel,
		To:      r.workflow.OwnerEmail,
		Subject: subject,
		Message: message,
		Key:     key,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "owner notification failed", "node_id", node.ID, "error", err)
	}

	return advance("")
}

// checkGoal completes the execution when the goal holds. Otherwise waiting goals recheck
// later and non-waiting goals pass through.
func (e *Engine) checkGoal(ctx context.Context, r *run, payload *models.GoalPayload) (outcome, error) {
	target := r.workflow.Goal
	if payload.Condition != nil {
		target = &models.GoalDefinition{Condition: *payload.Condition}
	}

	if target == nil {
		return advance(""), nil
	}

	snapshot, err := e.snapshot(ctx, r)
	if err != nil {
		return outcome{}, err
	}

	met, err := goal.Met(target, snapshot)
	if err != nil {
		return outcome{}, retry.Permanent(retry.CodeInvalidCondition, err)
	}

	if met {
		return outcome{complete: true, goal: true}, nil
	}

	if payload.Wait {
		recheck := defaultGoalRecheck
		if payload.RecheckMinutes > 0 {
			recheck = time.Duration(payload.RecheckMinutes) * time.Minute
		}

		return suspendUntil(r.now.Add(recheck)), nil
	}

	return advance(""), nil
}

// cycle follows "loop" until MaxIterations passes were made, then "done" from then on.
func cycle(r *run, node *models.Node, payload *models.CycleLoopPayload) outcome {
	key := loopDataPrefix + node.ID
	iterations := toInt(r.execution.Data[key])

	if iterations >= payload.MaxIterations {
		return advance(models.HandleDone)
	}

	setData(r.execution, key, iterations+1)

	return advance(models.HandleLoop)
}

func setData(execution *models.Execution, key string, value any) {
	if execution.Data == nil {
		execution.Data = make(map[string]any)
	}

	execution.Data[key] = value
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
