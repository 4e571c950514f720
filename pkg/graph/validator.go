package graph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/schedule"
	"github.com/dukex/nurture/pkg/template"
	"github.com/xeipuuv/gojsonschema"
)

// Validate checks a workflow graph and returns a *ValidationError listing every issue, or nil.
func Validate(workflow *models.Workflow) error {
	v := &validator{}

	if len(workflow.Nodes) == 0 {
		v.add(Issue{Code: IssueNoNodes, Message: "workflow must contain at least one node"})

		return v.err()
	}

	g := New(workflow)

	v.checkNodes(workflow)
	v.checkStart(g)
	v.checkEdges(workflow, g)
	v.checkBranches(g)
	v.checkReachability(g)
	v.checkCycles(g)
	v.checkTrigger(workflow)
	v.checkGoal(workflow)

	return v.err()
}

type validator struct {
	issues []Issue
}

func (v *validator) add(issue Issue) {
	v.issues = append(v.issues, issue)
}

func (v *validator) node(id, code, format string, args ...any) {
	v.add(Issue{Code: code, NodeID: id, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) edge(index int, code, format string, args ...any) {
	v.add(Issue{Code: code, EdgeIndex: &index, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) err() error {
	if len(v.issues) == 0 {
		return nil
	}

	return &ValidationError{Issues: v.issues}
}

func (v *validator) checkNodes(workflow *models.Workflow) {
	seen := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if node.ID == "" {
			v.add(Issue{Code: IssueMissingNodeID, Message: fmt.Sprintf("node of type %q has no id", node.Type)})

			continue
		}

		if seen[node.ID] {
			v.node(node.ID, IssueDuplicateNode, "node id is used more than once")

			continue
		}

		seen[node.ID] = true

		schema, known := compiledNodeSchemas[node.Type]
		if !known {
			v.node(node.ID, IssueUnknownNodeType, "unknown node type %q", node.Type)

			continue
		}

		if node.Payload == nil {
			v.checkRawPayload(node, schema)

			continue
		}

		if err := validateAgainst(schema, node.Payload); err != nil {
			v.node(node.ID, IssueInvalidPayload, "%v", err)

			continue
		}

		v.checkPayload(node)
	}
}

// checkRawPayload reports data that could not be decoded into the node's payload type.
func (v *validator) checkRawPayload(node *models.Node, schema *gojsonschema.Schema) {
	var document any

	if err := json.Unmarshal(node.RawData(), &document); err != nil {
		v.node(node.ID, IssueInvalidPayload, "data is not valid JSON: %v", err)

		return
	}

	if err := validateAgainst(schema, document); err != nil {
		v.node(node.ID, IssueInvalidPayload, "%v", err)

		return
	}

	v.node(node.ID, IssueInvalidPayload, "data does not match the %s payload", node.Type)
}

// checkPayload covers the semantic rules a JSON schema cannot express.
func (v *validator) checkPayload(node *models.Node) {
	switch payload := node.Payload.(type) {
	case *models.EmailPayload:
		v.checkTemplates(node.ID, payload.Subject, payload.HTML, payload.Text)
	case *models.CourseEmailPayload:
		v.checkTemplates(node.ID, payload.Subject, payload.HTML, payload.Text)
	case *models.NotifyPayload:
		v.checkTemplates(node.ID, payload.Subject, payload.Message)
	case *models.ConditionPayload:
		if payload.Condition != nil {
			v.checkCondition(node.ID, payload.Condition)
		}

		handles := make(map[string]bool, len(payload.Branches))

		for i := range payload.Branches {
			branch := &payload.Branches[i]
			if handles[branch.Handle] {
				v.node(node.ID, IssueDuplicateHandle, "branch handle %q is declared twice", branch.Handle)
			}

			handles[branch.Handle] = true

			v.checkCondition(node.ID, &branch.Condition)
		}
	case *models.GoalPayload:
		if payload.Condition != nil {
			v.checkCondition(node.ID, payload.Condition)
		}
	}
}

func (v *validator) checkTemplates(nodeID string, templates ...string) {
	for _, tmpl := range templates {
		if err := template.Validate(tmpl); err != nil {
			v.node(nodeID, IssueInvalidTemplate, "%v", err)
		}
	}
}

func (v *validator) checkCondition(nodeID string, spec *models.ConditionSpec) {
	if err := condition.Validate(spec); err != nil {
		v.node(nodeID, IssueInvalidCondition, "%v", err)
	}
}

func (v *validator) checkStart(g *Graph) {
	switch len(g.starts) {
	case 0:
		v.add(Issue{Code: IssueMissingStart, Message: "workflow must contain exactly one trigger node"})
	case 1:
		for _, edge := range g.incoming[g.starts[0]] {
			v.node(g.starts[0], IssueEdgeIntoStart, "trigger node cannot be the target of edge from %s", edge.Source)
		}
	default:
		for _, id := range g.starts {
			v.node(id, IssueMultipleStarts, "workflow must contain exactly one trigger node")
		}
	}
}

func (v *validator) checkEdges(workflow *models.Workflow, g *Graph) {
	type key struct{ source, handle string }

	seen := make(map[key]bool, len(workflow.Edges))

	for i, edge := range workflow.Edges {
		if edge == nil {
			v.edge(i, IssueDanglingEdge, "edge is empty")

			continue
		}

		if _, ok := g.Node(edge.Source); !ok {
			v.edge(i, IssueDanglingEdge, "source %q does not exist", edge.Source)
		}

		if _, ok := g.Node(edge.Target); !ok {
			v.edge(i, IssueDanglingEdge, "target %q does not exist", edge.Target)
		}

		source, ok := g.Node(edge.Source)
		if !ok || !source.Type.IsBranching() {
			continue
		}

		k := key{edge.Source, canonicalHandle(edge.Handle)}
		if seen[k] {
			v.edge(i, IssueDuplicateHandle, "node %s already has an edge with handle %q", edge.Source, edge.Handle)
		}

		seen[k] = true
	}
}

func canonicalHandle(handle string) string {
	for canonical, aliases := range handleAliases {
		if slices.Contains(aliases, handle) {
			return canonical
		}
	}

	return handle
}

// allowedHandles returns the handles a branching node may use. nil means any non-empty handle.
func allowedHandles(node *models.Node) []string {
	switch payload := node.Payload.(type) {
	case *models.ConditionPayload:
		if len(payload.Branches) == 0 {
			return []string{models.HandleYes, models.HandleNo, models.HandleDefault}
		}

		handles := []string{models.HandleDefault}
		for _, branch := range payload.Branches {
			handles = append(handles, branch.Handle)
		}

		return handles
	case *models.CourseCyclePayload, *models.PurchaseCheckPayload:
		return []string{models.HandleYes, models.HandleNo, models.HandleDefault}
	case *models.CycleLoopPayload:
		return []string{models.HandleLoop, models.HandleDone}
	default:
		return nil
	}
}

func (v *validator) checkBranches(g *Graph) {
	for _, id := range g.order {
		node := g.nodes[id]
		edges := g.Outgoing(id)

		switch {
		case node.Type == models.NodeTypeStop:
			if len(edges) > 0 {
				v.node(id, IssueStopHasEdges, "stop node cannot have outgoing edges")
			}
		case node.Type.IsBranching():
			v.checkBranchingNode(node, edges)
		default:
			if len(edges) > 1 {
				v.node(id, IssueMultipleOutgoing, "%s node can have at most one outgoing edge", node.Type)
			}
		}
	}
}

func (v *validator) checkBranchingNode(node *models.Node, edges []*models.Edge) {
	distinct := make(map[string]bool, len(edges))

	for _, edge := range edges {
		if edge.Handle == "" {
			v.node(node.ID, IssueUnlabeledBranch, "edge to %s has no handle", edge.Target)

			continue
		}

		distinct[canonicalHandle(edge.Handle)] = true
	}

	if len(distinct) < 2 {
		v.node(node.ID, IssueInsufficientBranches, "%s node needs at least two outgoing edges with distinct handles", node.Type)
	}

	allowed := allowedHandles(node)
	if allowed != nil {
		for _, edge := range edges {
			if edge.Handle != "" && !slices.Contains(allowed, canonicalHandle(edge.Handle)) {
				v.node(node.ID, IssueUnknownHandle, "handle %q is not one of %v", edge.Handle, allowed)
			}
		}
	}

	if node.Type == models.NodeTypeCycleLoop {
		for _, required := range []string{models.HandleLoop, models.HandleDone} {
			if !distinct[required] {
				v.node(node.ID, IssueMissingHandle, "cycleLoop node requires a %q edge", required)
			}
		}
	}
}

func (v *validator) checkReachability(g *Graph) {
	if _, ok := g.Start(); !ok {
		return
	}

	reachable := g.Reachable()

	for _, id := range g.order {
		if !reachable[id] {
			v.node(id, IssueUnreachableNode, "node is not reachable from the trigger node")
		}
	}
}

func (v *validator) checkCycles(g *Graph) {
	cycle := g.UnboundedCycle()
	if cycle == nil {
		return
	}

	v.node(cycle[0], IssueUnboundedCycle, "cycle %v does not pass through a cycleLoop node", cycle)
}

func (v *validator) checkTrigger(workflow *models.Workflow) {
	schema, ok := compiledTriggerSchemas[workflow.Trigger.Type]
	if !ok {
		v.add(Issue{Code: IssueInvalidTrigger, Message: fmt.Sprintf("unknown trigger type %q", workflow.Trigger.Type)})

		return
	}

	config := workflow.Trigger.Config
	if config == nil {
		config = map[string]any{}
	}

	if err := validateAgainst(schema, config); err != nil {
		v.add(Issue{Code: IssueInvalidTrigger, Message: err.Error()})

		return
	}

	if workflow.Trigger.Type == models.TriggerTypeScheduled {
		if _, err := schedule.Parse(config); err != nil {
			v.add(Issue{Code: IssueInvalidTrigger, Message: err.Error()})
		}
	}
}

func (v *validator) checkGoal(workflow *models.Workflow) {
	if workflow.Goal == nil {
		return
	}

	if err := condition.Validate(&workflow.Goal.Condition); err != nil {
		v.add(Issue{Code: IssueInvalidGoal, Message: err.Error()})
	}
}
