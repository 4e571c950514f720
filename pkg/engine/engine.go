// Package engine is the node executor: it advances one execution through its workflow graph
// until the execution suspends, completes or fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/goal"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/idempotency"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHopBudget = 50

	defaultGoalRecheck = time.Hour
)

// Config tunes the executor.
type Config struct {
	// HopBudget bounds how many nodes one Step may traverse without suspending.
	HopBudget int
	Retry     retry.Policy
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		HopBudget: DefaultHopBudget,
		Retry:     retry.DefaultPolicy(),
	}
}

// Dependencies are the stores and collaborators the executor consults.
// Publisher, Sink and Tracer are optional.
type Dependencies struct {
	Workflows  persistence.WorkflowRepository
	Executions persistence.ExecutionRepository
	Contacts   protocol.ContactStore
	Commerce   protocol.CommerceStore
	Emails     protocol.EmailEventStore
	ABTests    *abtest.Manager
	Markers    idempotency.Store
	Email      protocol.EmailSender
	Webhook    protocol.WebhookClient
	Notifier   protocol.Notifier
	Sink       protocol.EventSink
	Publisher  eventbus.EventPublisher
	Tracer     trace.Tracer
}

type Engine struct {
	deps   Dependencies
	loader *condition.Loader
	goals  *goal.Detector
	config Config
	now    func() time.Time
	logger *slog.Logger
}

func New(deps Dependencies, config Config, logger *slog.Logger) *Engine {
	if deps.Publisher == nil {
		deps.Publisher = eventbus.Discard
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if config.HopBudget <= 0 {
		config.HopBudget = DefaultHopBudget
	}

	loader := condition.NewLoader(deps.Contacts, deps.Commerce, deps.Emails)

	return &Engine{
		deps:   deps,
		loader: loader,
		goals:  goal.NewDetector(loader),
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("module", "engine"),
	}
}

// SetClock replaces the time source. Used by tests to move through delays.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// run is the state of one Step invocation.
type run struct {
	workflow  *models.Workflow
	graph     *graph.Graph
	execution *models.Execution
	now       time.Time
	logger    *slog.Logger
}

// outcome is what a node asks the executor to do next.
type outcome struct {
	handle   string
	suspend  *time.Time
	complete bool
	goal     bool
}

func advance(handle string) outcome {
	return outcome{handle: handle}
}

func suspendUntil(at time.Time) outcome {
	return outcome{suspend: &at}
}

// Run loads an execution and steps it.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.deps.Executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	return e.Step(ctx, execution)
}

// Step executes the execution's current node and keeps traversing until a node suspends,
// the execution terminates or the hop budget runs out. Node failures are handled here and
// never returned; the returned error reports storage problems only.
func (e *Engine) Step(ctx context.Context, execution *models.Execution) error {
	ctx, span := otelhelper.StartSpan(ctx, e.deps.Tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ContactIDKey, execution.ContactID),
	)
	defer span.End()

	if execution.IsTerminal() {
		return nil
	}

	logger := log.WithExecution(e.logger, execution)

	err := e.step(ctx, span, execution, logger)
	if errors.Is(err, errStale) {
		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Engine) step(ctx context.Context, span trace.Span, execution *models.Execution, logger *slog.Logger) error {
	workflow, err := e.deps.Workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			r := &run{workflow: &models.Workflow{ID: execution.WorkflowID}, execution: execution, now: e.now(), logger: logger}

			return e.handleFailure(ctx, r, retry.Permanent(retry.CodeUnreachableBranch, err))
		}

		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	r := &run{
		workflow:  workflow,
		graph:     graph.New(workflow),
		execution: execution,
		now:       e.now(),
		logger:    logger,
	}

	if execution.Status == models.ExecutionStatusPending {
		execution.Status = models.ExecutionStatusRunning
	}

	met, err := e.goals.Check(ctx, workflow, execution)
	if err != nil {
		return e.handleFailure(ctx, r, err)
	}

	if met {
		return e.complete(ctx, r, execution.CurrentNodeID, true)
	}

	hops, err := e.traverse(ctx, r)
	span.SetAttributes(attribute.Int(otelhelper.HopsKey, hops))

	return err
}

func (e *Engine) traverse(ctx context.Context, r *run) (int, error) {
	execution := r.execution

	for hops := 0; hops < e.config.HopBudget; hops++ {
		node, ok := r.graph.Node(execution.CurrentNodeID)
		if !ok {
			return hops, e.handleFailure(ctx, r, retry.UnreachableBranch(execution.CurrentNodeID, ""))
		}

		if execution.VisitCount(node.ID) == 0 {
			execution.Visit(node.ID)
		}

		result, err := e.execute(ctx, r, node)
		if err != nil {
			nodeErr := classify(err)
			if nodeErr.NodeID == "" {
				nodeErr.NodeID = node.ID
			}

			otelhelper.NodeFailed(ctx, node.ID, string(node.Type), nodeErr)

			return hops, e.handleFailure(ctx, r, nodeErr)
		}

		otelhelper.NodeVisited(ctx, node.ID, string(node.Type), result.handle)

		execution.Attempts = 0
		execution.Error = ""
		execution.ErrorDetail = ""

		switch {
		case result.complete:
			execution.LastNodeID = node.ID
			e.publishStep(ctx, r, node, result.handle, "", false)

			return hops, e.complete(ctx, r, node.ID, result.goal)

		case result.suspend != nil:
			execution.ScheduledFor = result.suspend

			if err := e.save(ctx, r); err != nil {
				return hops, err
			}

			e.publishStep(ctx, r, node, "", "", true)

			return hops, nil
		}

		next, terminal, ok := r.graph.Next(node.ID, result.handle)
		if !ok {
			return hops, e.handleFailure(ctx, r, retry.UnreachableBranch(node.ID, result.handle))
		}

		execution.LastNodeID = node.ID

		if terminal {
			e.publishStep(ctx, r, node, result.handle, "", false)

			return hops, e.complete(ctx, r, node.ID, false)
		}

		execution.CurrentNodeID = next
		execution.Visit(next)

		if err := e.save(ctx, r); err != nil {
			return hops, err
		}

		e.publishStep(ctx, r, node, result.handle, next, false)
	}

	r.logger.WarnContext(ctx, "hop budget exhausted, continuing on next tick",
		"node_id", execution.CurrentNodeID,
		"hop_budget", e.config.HopBudget,
	)

	now := r.now
	execution.ScheduledFor = &now

	return e.config.HopBudget, e.save(ctx, r)
}

// errStale stops a step whose execution was written by someone else meanwhile.
var errStale = errors.New("execution changed during step")

// save persists the execution under its version guard. A conflict means someone else
// (a cancellation, another dispatcher) wrote the execution; the step stops and the stored
// state wins.
func (e *Engine) save(ctx context.Context, r *run) error {
	r.execution.UpdatedAt = e.now()
	r.execution.LeasedUntil = nil

	err := e.deps.Executions.Update(ctx, r.execution)
	if err == nil {
		return nil
	}

	if !persistence.IsVersionConflict(err) {
		return fmt.Errorf("failed to save execution %s: %w", r.execution.ID, err)
	}

	r.logger.InfoContext(ctx, "execution changed during step, keeping stored state",
		"node_id", r.execution.CurrentNodeID,
	)

	return errStale
}

func (e *Engine) complete(ctx context.Context, r *run, nodeID string, goalAchieved bool) error {
	execution := r.execution
	now := e.now()

	execution.Status = models.ExecutionStatusCompleted
	execution.ScheduledFor = nil
	execution.WakeAt = nil
	execution.CompletedAt = &now
	execution.GoalAchieved = goalAchieved

	if err := e.save(ctx, r); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "execution completed", "node_id", nodeID, "goal_achieved", goalAchieved)

	if goalAchieved {
		goalName := ""
		if r.workflow.Goal != nil {
			goalName = r.workflow.Goal.Name
		}

		e.publish(ctx, execution, events.GoalAchieved{
			BaseEvent:    events.NewBaseEvent(events.GoalAchievedEvent, execution.WorkflowID),
			ExecutionRef: events.Ref(execution),
			NodeID:       nodeID,
			GoalName:     goalName,
		})
	}

	e.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionRef: events.Ref(execution),
		NodeID:       nodeID,
		GoalAchieved: goalAchieved,
		Duration:     now.Sub(execution.CreatedAt),
	})

	return nil
}

func (e *Engine) publishStep(ctx context.Context, r *run, node *models.Node, handle, next string, suspended bool) {
	e.publish(ctx, r.execution, events.ExecutionStep{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStepEvent, r.execution.WorkflowID),
		ExecutionRef: events.Ref(r.execution),
		NodeID:       node.ID,
		NodeType:     node.Type,
		Handle:       handle,
		NextNodeID:   next,
		Suspended:    suspended,
	})
}

func (e *Engine) publish(ctx context.Context, execution *models.Execution, event eventbus.Event) {
	if err := e.deps.Publisher.Publish(ctx, execution.ID, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
