// Package condition evaluates branching and goal predicates against live contact state.
package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/template"
)

// ErrInvalidCondition marks a malformed condition spec.
var ErrInvalidCondition = errors.New("invalid condition")

const maxDepth = 16

// Evaluate returns whether the condition holds for the snapshot.
func Evaluate(spec *models.ConditionSpec, snapshot *Snapshot) (bool, error) {
	return evaluate(spec, snapshot, 0)
}

// Select picks the outgoing handle of a condition node.
// Branch lists resolve to the first matching branch or "default"; single conditions to "yes" or "no".
func Select(payload *models.ConditionPayload, snapshot *Snapshot) (string, error) {
	if len(payload.Branches) > 0 {
		for i := range payload.Branches {
			ok, err := Evaluate(&payload.Branches[i].Condition, snapshot)
			if err != nil {
				return "", err
			}

			if ok {
				return payload.Branches[i].Handle, nil
			}
		}

		return models.HandleDefault, nil
	}

	if payload.Condition == nil {
		return "", fmt.Errorf("%w: condition node without condition or branches", ErrInvalidCondition)
	}

	ok, err := Evaluate(payload.Condition, snapshot)
	if err != nil {
		return "", err
	}

	return YesNo(ok), nil
}

// YesNo maps a boolean onto the yes/no handles.
func YesNo(ok bool) string {
	if ok {
		return models.HandleYes
	}

	return models.HandleNo
}

func evaluate(spec *models.ConditionSpec, snapshot *Snapshot, depth int) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("%w: empty condition", ErrInvalidCondition)
	}

	if depth > maxDepth {
		return false, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidCondition, maxDepth)
	}

	switch spec.Kind {
	case models.ConditionTag:
		return snapshot.Contact != nil && snapshot.Contact.HasTag(spec.Tag), nil

	case models.ConditionEmailOpened:
		return snapshot.HasEmailEvent(models.EmailEventOpened, spec.NodeID) ||
			snapshot.HasEmailEvent(models.EmailEventClicked, spec.NodeID), nil

	case models.ConditionEmailClicked:
		return snapshot.HasEmailEvent(models.EmailEventClicked, spec.NodeID), nil

	case models.ConditionPurchased:
		return snapshot.HasPurchased(spec.ProductID), nil

	case models.ConditionCourseProgress:
		progress, ok := snapshot.Course(spec.CourseID)
		if !ok {
			return false, nil
		}

		if spec.MinPercent <= 0 {
			return progress.Completed, nil
		}

		return progress.Completed || progress.Percent >= spec.MinPercent, nil

	case models.ConditionField:
		value, found := Lookup(snapshot.TemplateData(), spec.Field)

		return compare(spec.Operator, value, found, spec.Value)

	case models.ConditionExpression:
		result, err := template.Render(spec.Expression, snapshot.TemplateData())
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}

		return template.Truthy(result), nil

	case models.ConditionAll:
		for i := range spec.Conditions {
			ok, err := evaluate(&spec.Conditions[i], snapshot, depth+1)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil

	case models.ConditionAny:
		for i := range spec.Conditions {
			ok, err := evaluate(&spec.Conditions[i], snapshot, depth+1)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil

	case models.ConditionNot:
		if len(spec.Conditions) != 1 {
			return false, fmt.Errorf("%w: not takes exactly one condition", ErrInvalidCondition)
		}

		ok, err := evaluate(&spec.Conditions[0], snapshot, depth+1)

		return !ok, err

	default:
		return false, fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, spec.Kind)
	}
}

// Lookup resolves a dotted path against the template root. Paths that do not start
// with a root key (contact, data, workflow, execution, courses) are tried against
// the contact, then its custom fields, then the execution data.
func Lookup(root map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")

	if _, ok := root[segments[0]]; ok {
		return walk(root, segments)
	}

	for _, prefix := range [][]string{{"contact"}, {"contact", "fields"}, {"data"}} {
		if value, ok := walk(root, append(append([]string{}, prefix...), segments...)); ok {
			return value, true
		}
	}

	return nil, false
}

func walk(current any, segments []string) (any, bool) {
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func compare(operator models.ConditionOperator, actual any, found bool, expected any) (bool, error) {
	switch operator {
	case models.OperatorExists:
		return found && actual != nil && actual != "", nil
	case models.OperatorEq:
		return found && equal(actual, expected), nil
	case models.OperatorNeq:
		return !found || !equal(actual, expected), nil
	case models.OperatorContains:
		return found && contains(actual, expected), nil
	case models.OperatorGt, models.OperatorGte, models.OperatorLt, models.OperatorLte:
		if !found {
			return false, nil
		}

		left, lok := toFloat(actual)
		right, rok := toFloat(expected)

		if !lok || !rok {
			return false, nil
		}

		switch operator {
		case models.OperatorGt:
			return left > right, nil
		case models.OperatorGte:
			return left >= right, nil
		case models.OperatorLt:
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, operator)
	}
}

func equal(actual, expected any) bool {
	left, lok := toFloat(actual)
	right, rok := toFloat(expected)

	if lok && rok {
		return left == right
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(expected))
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == fmt.Sprint(expected) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(v).Int()), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(v).Uint()), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
