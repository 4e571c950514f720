package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph is matched by every ValidationError.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// Issue codes reported by the validator.
const (
	IssueNoNodes              = "no_nodes"
	IssueMissingNodeID        = "missing_node_id"
	IssueDuplicateNode        = "duplicate_node"
	IssueUnknownNodeType      = "unknown_node_type"
	IssueInvalidPayload       = "invalid_payload"
	IssueMissingStart         = "missing_start"
	IssueMultipleStarts       = "multiple_starts"
	IssueEdgeIntoStart        = "edge_into_start"
	IssueDanglingEdge         = "dangling_edge"
	IssueDuplicateHandle      = "duplicate_handle"
	IssueUnlabeledBranch      = "unlabeled_branch"
	IssueUnknownHandle        = "unknown_handle"
	IssueInsufficientBranches = "insufficient_branches"
	IssueMissingHandle        = "missing_handle"
	IssueMultipleOutgoing     = "multiple_outgoing"
	IssueStopHasEdges         = "stop_has_edges"
	IssueUnreachableNode      = "unreachable_node"
	IssueUnboundedCycle       = "unbounded_cycle"
	IssueInvalidCondition     = "invalid_condition"
	IssueInvalidTemplate      = "invalid_template"
	IssueInvalidTrigger       = "invalid_trigger"
	IssueInvalidGoal          = "invalid_goal"
)

// Issue is one violation found in a graph. NodeID or EdgeIndex identifies the offender.
type Issue struct {
	Code      string `json:"code"`
	NodeID    string `json:"node_id,omitempty"`
	EdgeIndex *int   `json:"edge_index,omitempty"`
	Message   string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("node %s: %s (%s)", i.NodeID, i.Message, i.Code)
	case i.EdgeIndex != nil:
		return fmt.Sprintf("edge %d: %s (%s)", *i.EdgeIndex, i.Message, i.Code)
	default:
		return fmt.Sprintf("%s (%s)", i.Message, i.Code)
	}
}

// ValidationError lists every issue found in a rejected graph.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return fmt.Sprintf("%s: %s", ErrInvalidGraph, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// NodeIDs returns the distinct offending node ids.
func (e *ValidationError) NodeIDs() []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)

	for _, issue := range e.Issues {
		if issue.NodeID != "" && !seen[issue.NodeID] {
			seen[issue.NodeID] = true
			ids = append(ids, issue.NodeID)
		}
	}

	return ids
}

// HasCode reports whether any issue carries the code.
func (e *ValidationError) HasCode(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}

	return false
}

// IsValidationError reports whether err is a graph validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}
