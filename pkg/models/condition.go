package models

// ConditionKind is the discriminant of a ConditionSpec.
type ConditionKind string

const (
	ConditionTag            ConditionKind = "tag"
	ConditionEmailOpened    ConditionKind = "email_opened"
	ConditionEmailClicked   ConditionKind = "email_clicked"
	ConditionPurchased      ConditionKind = "purchased"
	ConditionCourseProgress ConditionKind = "course_progress"
	ConditionField          ConditionKind = "field"
	ConditionExpression     ConditionKind = "expression"
	ConditionAll            ConditionKind = "all"
	ConditionAny            ConditionKind = "any"
	ConditionNot            ConditionKind = "not"
)

// ConditionOperator compares a contact field with a literal value.
type ConditionOperator string

const (
	OperatorEq       ConditionOperator = "eq"
	OperatorNeq      ConditionOperator = "neq"
	OperatorGt       ConditionOperator = "gt"
	OperatorGte      ConditionOperator = "gte"
	OperatorLt       ConditionOperator = "lt"
	OperatorLte      ConditionOperator = "lte"
	OperatorContains ConditionOperator = "contains"
	OperatorExists   ConditionOperator = "exists"
)

// ConditionSpec is a predicate over live contact and business state.
//
// Only the fields relevant to Kind are read:
//   - tag: Tag
//   - email_opened, email_clicked: NodeID (the email node; empty means any email of the execution)
//   - purchased: ProductID (empty means any purchase)
//   - course_progress: CourseID, MinPercent
//   - field: Field, Operator, Value
//   - expression: Expression, a template rendered against the snapshot and tested for truthiness
//   - all, any: Conditions
//   - not: Conditions[0]
type ConditionSpec struct {
	Kind       ConditionKind     `json:"kind"`
	Tag        string            `json:"tag,omitempty"`
	NodeID     string            `json:"node_id,omitempty"`
	ProductID  string            `json:"product_id,omitempty"`
	CourseID   string            `json:"course_id,omitempty"`
	MinPercent float64           `json:"min_percent,omitempty"`
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Value      any               `json:"value,omitempty"`
	Expression string            `json:"expression,omitempty"`
	Conditions []ConditionSpec   `json:"conditions,omitempty"`
}
