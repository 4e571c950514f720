package trigger

import (
	"slices"

	"github.com/dukex/nurture/pkg/models"
)

// Matches reports whether an event satisfies the trigger predicate of a workflow.
// The trigger type is assumed to correspond to the event type already.
func Matches(workflow *models.Workflow, event *models.Event) bool {
	config := workflow.Trigger.Config

	switch workflow.Trigger.Type {
	case models.TriggerTypeSignup:
		listID := stringValue(config, "list_id")

		return listID == "" || listID == event.ListID
	case models.TriggerTypePurchase:
		products := stringsValue(config, "product_ids")

		return len(products) == 0 || slices.Contains(products, event.ProductID)
	case models.TriggerTypeTagAdded:
		return event.Tag != "" && stringValue(config, "tag") == event.Tag
	case models.TriggerTypeWebhook:
		return event.WebhookKey != "" && stringValue(config, "key") == event.WebhookKey
	case models.TriggerTypeCustomEvent:
		return event.Name != "" && stringValue(config, "event") == event.Name
	case models.TriggerTypeScheduled:
		return event.WorkflowID == workflow.ID
	case models.TriggerTypeInactivity:
		return event.WorkflowID == "" || event.WorkflowID == workflow.ID
	default:
		return false
	}
}

func stringValue(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}

func stringsValue(config map[string]any, key string) []string {
	switch values := config[key].(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))

		for _, value := range values {
			if s, ok := value.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func intValue(config map[string]any, key string) int {
	switch value := config[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}
