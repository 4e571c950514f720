package models

import "time"

// WinnerMetric is the rate used to compare variants.
type WinnerMetric string

const (
	WinnerMetricOpenRate  WinnerMetric = "open_rate"
	WinnerMetricClickRate WinnerMetric = "click_rate"
)

// ABTestStatus is the lifecycle of a per-node A/B test.
type ABTestStatus string

const (
	ABTestStatusRunning   ABTestStatus = "running"
	ABTestStatusCompleted ABTestStatus = "completed"
	ABTestStatusStopped   ABTestStatus = "stopped"
)

// DefaultConfidenceLevel is used when an A/B test does not set one.
const DefaultConfidenceLevel = 0.95

// Variant is an alternative branch or content at an A/B tested node.
// Payload overrides email fields (subject, html, text) when the node is an email node.
type Variant struct {
	ID         string         `json:"id"                validate:"required"`
	Percentage float64        `json:"percentage"        validate:"gt=0,lte=100"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// VariantStats are the per-variant counters fed by email events.
type VariantStats struct {
	Assigned int64 `json:"assigned"`
	Sent     int64 `json:"sent"`
	Opened   int64 `json:"opened"`
	Clicked  int64 `json:"clicked"`
}

// Trials is the rate denominator: emails sent, or assignments for variants that never sent one.
func (s VariantStats) Trials() int64 {
	if s.Sent > 0 {
		return s.Sent
	}

	return s.Assigned
}

// Rate returns the metric rate for the variant.
func (s VariantStats) Rate(metric WinnerMetric) float64 {
	trials := s.Trials()
	if trials == 0 {
		return 0
	}

	return float64(s.Successes(metric)) / float64(trials)
}

// Successes returns the numerator of the metric rate.
func (s VariantStats) Successes(metric WinnerMetric) int64 {
	if metric == WinnerMetricClickRate {
		return s.Clicked
	}

	return s.Opened
}

// ABTest is the per-node experiment definition plus its live state.
type ABTest struct {
	WorkflowID      string                  `json:"workflow_id"`
	NodeID          string                  `json:"node_id"`
	Variants        []Variant               `json:"variants"                     validate:"required,min=2,dive"`
	SampleSize      int64                   `json:"sample_size"                  validate:"gt=0"`
	WinnerMetric    WinnerMetric            `json:"winner_metric"                validate:"required,oneof=open_rate click_rate"`
	ConfidenceLevel float64                 `json:"confidence_level,omitempty"   validate:"omitempty,gt=0.5,lt=1"`
	Status          ABTestStatus            `json:"status"`
	WinnerVariantID string                  `json:"winner_variant_id,omitempty"`
	Stats           map[string]VariantStats `json:"stats,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
}

// Variant returns the variant with the given id or nil.
func (t *ABTest) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}

	return nil
}

// Confidence returns the configured confidence level or the default.
func (t *ABTest) Confidence() float64 {
	if t.ConfidenceLevel <= 0 {
		return DefaultConfidenceLevel
	}

	return t.ConfidenceLevel
}

// VariantAssignment binds an execution to a variant at a node. Set once, never revised.
type VariantAssignment struct {
	WorkflowID  string    `json:"workflow_id"`
	NodeID      string    `json:"node_id"`
	ExecutionID string    `json:"execution_id"`
	VariantID   string    `json:"variant_id"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// VariantEventType is a counter that email events increment.
type VariantEventType string

const (
	VariantEventSent    VariantEventType = "sent"
	VariantEventOpened  VariantEventType = "opened"
	VariantEventClicked VariantEventType = "clicked"
)
