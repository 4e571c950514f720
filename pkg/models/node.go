package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType is the discriminant of the node payload union.
type NodeType string

const (
	NodeTypeTrigger       NodeType = "trigger"
	NodeTypeEmail         NodeType = "email"
	NodeTypeDelay         NodeType = "delay"
	NodeTypeCondition     NodeType = "condition"
	NodeTypeAction        NodeType = "action"
	NodeTypeStop          NodeType = "stop"
	NodeTypeWebhook       NodeType = "webhook"
	NodeTypeSplit         NodeType = "split"
	NodeTypeNotify        NodeType = "notify"
	NodeTypeGoal          NodeType = "goal"
	NodeTypeCourseCycle   NodeType = "courseCycle"
	NodeTypeCourseEmail   NodeType = "courseEmail"
	NodeTypePurchaseCheck NodeType = "purchaseCheck"
	NodeTypeCycleLoop     NodeType = "cycleLoop"
)

// Well-known edge handles.
const (
	HandleYes     = "yes"
	HandleNo      = "no"
	HandleDefault = "default"
	HandleLoop    = "loop"
	HandleDone    = "done"
)

// IsBranching reports whether nodes of this type choose among several labeled outgoing edges.
func (t NodeType) IsBranching() bool {
	switch t {
	case NodeTypeCondition, NodeTypeSplit, NodeTypeCourseCycle, NodeTypePurchaseCheck, NodeTypeCycleLoop:
		return true
	default:
		return false
	}
}

// NodePayload is implemented by every type-specific node payload.
type NodePayload interface {
	NodeType() NodeType
}

// Node is a typed graph step. Payload holds the variant matching Type.
type Node struct {
	ID        string      `json:"id"   validate:"required"`
	Type      NodeType    `json:"type" validate:"required"`
	Name      string      `json:"name,omitempty"`
	PositionX int         `json:"position_x"`
	PositionY int         `json:"position_y"`
	Payload   NodePayload `json:"-"`

	// raw keeps undecodable data around so validation can report it.
	raw json.RawMessage
}

// Edge connects two nodes. Handle labels the branch on branching nodes.
type Edge struct {
	Source string `json:"source"           validate:"required"`
	Handle string `json:"handle,omitempty"`
	Target string `json:"target"           validate:"required"`
}

type nodeJSON struct {
	ID        string          `json:"id"`
	Type      NodeType        `json:"type"`
	Name      string          `json:"name,omitempty"`
	PositionX int             `json:"position_x"`
	PositionY int             `json:"position_y"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewPayload returns an empty payload for the node type, or nil for unknown types.
func NewPayload(nodeType NodeType) NodePayload {
	switch nodeType {
	case NodeTypeTrigger:
		return &TriggerPayload{}
	case NodeTypeEmail:
		return &EmailPayload{}
	case NodeTypeDelay:
		return &DelayPayload{}
	case NodeTypeCondition:
		return &ConditionPayload{}
	case NodeTypeAction:
		return &ActionPayload{}
	case NodeTypeStop:
		return &StopPayload{}
	case NodeTypeWebhook:
		return &WebhookPayload{}
	case NodeTypeSplit:
		return &SplitPayload{}
	case NodeTypeNotify:
		return &NotifyPayload{}
	case NodeTypeGoal:
		return &GoalPayload{}
	case NodeTypeCourseCycle:
		return &CourseCyclePayload{}
	case NodeTypeCourseEmail:
		return &CourseEmailPayload{}
	case NodeTypePurchaseCheck:
		return &PurchaseCheckPayload{}
	case NodeTypeCycleLoop:
		return &CycleLoopPayload{}
	default:
		return nil
	}
}

// MarshalJSON encodes the payload under "data".
func (n Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{
		ID:        n.ID,
		Type:      n.Type,
		Name:      n.Name,
		PositionX: n.PositionX,
		PositionY: n.PositionY,
		Data:      n.raw,
	}

	if n.Payload != nil {
		data, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload of node %s: %w", n.ID, err)
		}

		out.Data = data
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes "data" into the payload variant selected by "type".
// Unknown types and malformed data leave Payload nil; the graph validator reports them.
func (n *Node) UnmarshalJSON(body []byte) error {
	var in nodeJSON

	if err := json.Unmarshal(body, &in); err != nil {
		return err
	}

	n.ID = in.ID
	n.Type = in.Type
	n.Name = in.Name
	n.PositionX = in.PositionX
	n.PositionY = in.PositionY
	n.raw = in.Data
	n.Payload = nil

	payload := NewPayload(in.Type)
	if payload == nil {
		return nil
	}

	if len(in.Data) > 0 && string(in.Data) != "null" {
		if err := json.Unmarshal(in.Data, payload); err != nil {
			return nil
		}
	}

	n.Payload = payload
	n.raw = nil

	return nil
}

// RawData returns the undecoded data of a node whose payload could not be decoded.
func (n *Node) RawData() json.RawMessage {
	return n.raw
}

// TriggerPayload marks the start node.
type TriggerPayload struct{}

func (*TriggerPayload) NodeType() NodeType { return NodeTypeTrigger }

// EmailPayload is an inline email template.
type EmailPayload struct {
	Subject  string `json:"subject"`
	HTML     string `json:"html,omitempty"`
	Text     string `json:"text,omitempty"`
	FromName string `json:"from_name,omitempty"`
}

func (*EmailPayload) NodeType() NodeType { return NodeTypeEmail }

// DelayUnit is the unit of a delay amount.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
	DelayUnitWeeks   DelayUnit = "weeks"
)

// DelayPayload suspends an execution for a fixed duration.
type DelayPayload struct {
	Amount int       `json:"amount"`
	Unit   DelayUnit `json:"unit"`
}

func (*DelayPayload) NodeType() NodeType { return NodeTypeDelay }

// Duration converts the amount and unit into a time.Duration.
func (p *DelayPayload) Duration() time.Duration {
	amount := time.Duration(p.Amount)

	switch p.Unit {
	case DelayUnitMinutes:
		return amount * time.Minute
	case DelayUnitHours:
		return amount * time.Hour
	case DelayUnitWeeks:
		return amount * 7 * 24 * time.Hour
	default:
		return amount * 24 * time.Hour
	}
}

// ConditionBranch routes to Handle when Condition holds. Branches are tried in order.
type ConditionBranch struct {
	Handle    string        `json:"handle"`
	Condition ConditionSpec `json:"condition"`
}

// ConditionPayload evaluates either a single yes/no condition or an ordered list of branches.
type ConditionPayload struct {
	Condition *ConditionSpec    `json:"condition,omitempty"`
	Branches  []ConditionBranch `json:"branches,omitempty"`
}

func (*ConditionPayload) NodeType() NodeType { return NodeTypeCondition }

// ActionKind enumerates contact mutations and event emissions.
type ActionKind string

const (
	ActionAddTag    ActionKind = "add_tag"
	ActionRemoveTag ActionKind = "remove_tag"
	ActionFireEvent ActionKind = "fire_event"
)

// ActionPayload mutates contact tags or fires a custom event.
type ActionPayload struct {
	Action  ActionKind     `json:"action"`
	Tag     string         `json:"tag,omitempty"`
	Event   string         `json:"event,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (*ActionPayload) NodeType() NodeType { return NodeTypeAction }

// StopPayload ends an execution.
type StopPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (*StopPayload) NodeType() NodeType { return NodeTypeStop }

// WebhookPayload posts the workflow and contact as JSON to an external URL.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Extra   map[string]any    `json:"extra,omitempty"`
}

func (*WebhookPayload) NodeType() NodeType { return NodeTypeWebhook }

// SplitPayload routes by A/B variant. Variants live in the node's ABTest.
type SplitPayload struct {
	Description string `json:"description,omitempty"`
}

func (*SplitPayload) NodeType() NodeType { return NodeTypeSplit }

// NotifyChannel selects where owner notifications go.
type NotifyChannel string

const (
	NotifyChannelEmail   NotifyChannel = "email"
	NotifyChannelSlack   NotifyChannel = "slack"
	NotifyChannelDiscord NotifyChannel = "discord"
)

// NotifyPayload sends a fire-and-forget message to the workflow owner.
type NotifyPayload struct {
	Channel NotifyChannel `json:"channel"`
	Subject string        `json:"subject,omitempty"`
	Message string        `json:"message"`
}

func (*NotifyPayload) NodeType() NodeType { return NodeTypeNotify }

// GoalPayload is an in-graph goal checkpoint. A nil Condition uses the workflow goal.
type GoalPayload struct {
	Condition      *ConditionSpec `json:"condition,omitempty"`
	Wait           bool           `json:"wait,omitempty"`
	RecheckMinutes int            `json:"recheck_minutes,omitempty"`
}

func (*GoalPayload) NodeType() NodeType { return NodeTypeGoal }

// CourseCyclePayload branches on course progress.
type CourseCyclePayload struct {
	CourseID         string  `json:"course_id"`
	MinPercent       float64 `json:"min_percent,omitempty"`
	RequireCompleted bool    `json:"require_completed,omitempty"`
}

func (*CourseCyclePayload) NodeType() NodeType { return NodeTypeCourseCycle }

// CourseEmailPayload is an email rendered with the contact's course progress.
type CourseEmailPayload struct {
	EmailPayload

	CourseID string `json:"course_id"`
	LessonID string `json:"lesson_id,omitempty"`
}

func (*CourseEmailPayload) NodeType() NodeType { return NodeTypeCourseEmail }

// PurchaseCheckPayload branches on whether the contact bought a product. Empty ProductID means any purchase.
type PurchaseCheckPayload struct {
	ProductID string `json:"product_id,omitempty"`
}

func (*PurchaseCheckPayload) NodeType() NodeType { return NodeTypePurchaseCheck }

// CycleLoopPayload routes back along the "loop" handle until MaxIterations, then along "done".
type CycleLoopPayload struct {
	MaxIterations int `json:"max_iterations"`
}

func (*CycleLoopPayload) NodeType() NodeType { return NodeTypeCycleLoop }
