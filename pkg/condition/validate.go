package condition

import (
	"fmt"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/template"
)

// Validate checks a condition spec statically, before it is ever evaluated.
func Validate(spec *models.ConditionSpec) error {
	return validate(spec, 0)
}

func validate(spec *models.ConditionSpec, depth int) error {
	if spec == nil {
		return fmt.Errorf("%w: empty condition", ErrInvalidCondition)
	}

	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrInvalidCondition, maxDepth)
	}

	switch spec.Kind {
	case models.ConditionTag:
		if spec.Tag == "" {
			return fmt.Errorf("%w: tag condition requires tag", ErrInvalidCondition)
		}
	case models.ConditionEmailOpened, models.ConditionEmailClicked, models.ConditionPurchased:
	case models.ConditionCourseProgress:
		if spec.CourseID == "" {
			return fmt.Errorf("%w: course_progress condition requires course_id", ErrInvalidCondition)
		}

		if spec.MinPercent < 0 || spec.MinPercent > 100 {
			return fmt.Errorf("%w: min_percent must be within 0..100", ErrInvalidCondition)
		}
	case models.ConditionField:
		if spec.Field == "" {
			return fmt.Errorf("%w: field condition requires field", ErrInvalidCondition)
		}

		switch spec.Operator {
		case models.OperatorEq, models.OperatorNeq, models.OperatorGt, models.OperatorGte,
			models.OperatorLt, models.OperatorLte, models.OperatorContains, models.OperatorExists:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, spec.Operator)
		}
	case models.ConditionExpression:
		if spec.Expression == "" {
			return fmt.Errorf("%w: expression condition requires expression", ErrInvalidCondition)
		}

		if err := template.Validate(spec.Expression); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
	case models.ConditionAll, models.ConditionAny:
		if len(spec.Conditions) == 0 {
			return fmt.Errorf("%w: %s requires at least one condition", ErrInvalidCondition, spec.Kind)
		}

		for i := range spec.Conditions {
			if err := validate(&spec.Conditions[i], depth+1); err != nil {
				return err
			}
		}
	case models.ConditionNot:
		if len(spec.Conditions) != 1 {
			return fmt.Errorf("%w: not takes exactly one condition", ErrInvalidCondition)
		}

		return validate(&spec.Conditions[0], depth+1)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, spec.Kind)
	}

	return nil
}
