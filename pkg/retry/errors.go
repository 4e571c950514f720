// Package retry classifies node failures and computes the backoff schedule for transient ones.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure class of a node error.
type Kind string

const (
	// KindTransient failures are retried with backoff.
	KindTransient Kind = "transient"
	// KindPermanent failures terminate the execution immediately.
	KindPermanent Kind = "permanent"
	// KindUnreachableBranch signals a graph configuration bug found at runtime.
	KindUnreachableBranch Kind = "unreachable_branch"
)

// Well-known failure codes.
const (
	CodeUnreachableBranch   = "unreachable_branch"
	CodeInternal            = "internal_error"
	CodeTimeout             = "timeout"
	CodeWebhookTimeout      = "webhook_timeout"
	CodeWebhookStatus       = "webhook_status"
	CodeWebhookRateLimited  = "webhook_rate_limited"
	CodeWebhookUnreachable  = "webhook_unreachable"
	CodeMalformedURL        = "malformed_webhook_url"
	CodeMissingTemplate     = "missing_template"
	CodeTemplateError       = "template_error"
	CodeInvalidCondition    = "invalid_condition"
	CodeInvalidPayload      = "invalid_payload"
	CodeEmailRejected       = "email_rejected"
	CodeEmailUnavailable    = "email_unavailable"
	CodeContactNotFound     = "contact_not_found"
	CodeABTestNotConfigured = "ab_test_not_configured"
)

// NodeError is a classified failure raised while executing a node.
type NodeError struct {
	Kind   Kind
	Code   string
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	prefix := fmt.Sprintf("%s failure %s", e.Kind, e.Code)
	if e.NodeID != "" {
		prefix = fmt.Sprintf("%s at node %s", prefix, e.NodeID)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}

	return prefix
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should be rescheduled.
func (e *NodeError) Retryable() bool {
	return e.Kind == KindTransient
}

// Transient builds a retryable failure.
func Transient(code string, err error) *NodeError {
	return &NodeError{Kind: KindTransient, Code: code, Err: err}
}

// Permanent builds a terminal failure.
func Permanent(code string, err error) *NodeError {
	return &NodeError{Kind: KindPermanent, Code: code, Err: err}
}

// UnreachableBranch builds the failure raised when no outgoing edge matches.
func UnreachableBranch(nodeID, handle string) *NodeError {
	return &NodeError{
		Kind:   KindUnreachableBranch,
		Code:   CodeUnreachableBranch,
		NodeID: nodeID,
		Err:    fmt.Errorf("no edge for handle %q and no default edge", handle),
	}
}

// Classify turns any error into a NodeError. Unclassified errors are transient.
func Classify(err error) *NodeError {
	if err == nil {
		return nil
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(CodeTimeout, err)
	}

	return Transient(CodeInternal, err)
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	return Classify(err).Kind == KindTransient
}
