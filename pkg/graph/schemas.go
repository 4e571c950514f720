package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/nurture/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var emailProperties = map[string]any{
	"subject":   map[string]any{"type": "string", "minLength": 1},
	"html":      map[string]any{"type": "string"},
	"text":      map[string]any{"type": "string"},
	"from_name": map[string]any{"type": "string"},
}

var emailBody = []any{
	map[string]any{"required": []any{"html"}, "properties": map[string]any{"html": map[string]any{"minLength": 1}}},
	map[string]any{"required": []any{"text"}, "properties": map[string]any{"text": map[string]any{"minLength": 1}}},
}

func withProperties(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}

	for k, v := range extra {
		merged[k] = v
	}

	return merged
}

var nodeSchemas = map[models.NodeType]map[string]any{
	models.NodeTypeTrigger: {"type": "object"},
	models.NodeTypeEmail: {
		"type":       "object",
		"properties": emailProperties,
		"required":   []any{"subject"},
		"anyOf":      emailBody,
	},
	models.NodeTypeDelay: {
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{"type": "integer", "minimum": 1},
			"unit":   map[string]any{"type": "string", "enum": []any{"minutes", "hours", "days", "weeks"}},
		},
		"required": []any{"amount", "unit"},
	},
	models.NodeTypeCondition: {
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{"type": "object", "required": []any{"kind"}},
			"branches": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"handle":    map[string]any{"type": "string", "minLength": 1},
						"condition": map[string]any{"type": "object", "required": []any{"kind"}},
					},
					"required": []any{"handle", "condition"},
				},
			},
		},
		"oneOf": []any{
			map[string]any{"required": []any{"condition"}},
			map[string]any{"required": []any{"branches"}, "properties": map[string]any{"branches": map[string]any{"minItems": 1}}},
		},
	},
	models.NodeTypeAction: {
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []any{"add_tag", "remove_tag", "fire_event"}},
			"tag":    map[string]any{"type": "string"},
			"event":  map[string]any{"type": "string"},
		},
		"required": []any{"action"},
		"allOf": []any{
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"action": map[string]any{"enum": []any{"add_tag", "remove_tag"}}}},
				"then": map[string]any{"required": []any{"tag"}, "properties": map[string]any{"tag": map[string]any{"minLength": 1}}},
			},
			map[string]any{
				"if":   map[string]any{"properties": map[string]any{"action": map[string]any{"const": "fire_event"}}},
				"then": map[string]any{"required": []any{"event"}, "properties": map[string]any{"event": map[string]any{"minLength": 1}}},
			},
		},
	},
	models.NodeTypeStop: {"type": "object"},
	models.NodeTypeWebhook: {
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "pattern": "^https?://[^\\s/$.?#].[^\\s]*$"},
			"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"extra":   map[string]any{"type": "object"},
		},
		"required": []any{"url"},
	},
	models.NodeTypeSplit: {"type": "object"},
	models.NodeTypeNotify: {
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{"type": "string", "enum": []any{"email", "slack", "discord"}},
			"subject": map[string]any{"type": "string"},
			"message": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"channel", "message"},
	},
	models.NodeTypeGoal: {
		"type": "object",
		"properties": map[string]any{
			"condition":       map[string]any{"type": "object", "required": []any{"kind"}},
			"wait":            map[string]any{"type": "boolean"},
			"recheck_minutes": map[string]any{"type": "integer", "minimum": 0},
		},
	},
	models.NodeTypeCourseCycle: {
		"type": "object",
		"properties": map[string]any{
			"course_id":         map[string]any{"type": "string", "minLength": 1},
			"min_percent":       map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"require_completed": map[string]any{"type": "boolean"},
		},
		"required": []any{"course_id"},
	},
	models.NodeTypeCourseEmail: {
		"type": "object",
		"properties": withProperties(emailProperties, map[string]any{
			"course_id": map[string]any{"type": "string", "minLength": 1},
			"lesson_id": map[string]any{"type": "string"},
		}),
		"required": []any{"subject", "course_id"},
		"anyOf":    emailBody,
	},
	models.NodeTypePurchaseCheck: {
		"type": "object",
		"properties": map[string]any{
			"product_id": map[string]any{"type": "string"},
		},
	},
	models.NodeTypeCycleLoop: {
		"type": "object",
		"properties": map[string]any{
			"max_iterations": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"max_iterations"},
	},
}

var triggerSchemas = map[models.TriggerType]map[string]any{
	models.TriggerTypeSignup: {
		"type":       "object",
		"properties": map[string]any{"list_id": map[string]any{"type": "string"}},
	},
	models.TriggerTypePurchase: {
		"type": "object",
		"properties": map[string]any{
			"product_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string", "minLength": 1}},
		},
	},
	models.TriggerTypeTagAdded: {
		"type":       "object",
		"properties": map[string]any{"tag": map[string]any{"type": "string", "minLength": 1}},
		"required":   []any{"tag"},
	},
	models.TriggerTypeWebhook: {
		"type":       "object",
		"properties": map[string]any{"key": map[string]any{"type": "string", "minLength": 1}},
		"required":   []any{"key"},
	},
	models.TriggerTypeCustomEvent: {
		"type":       "object",
		"properties": map[string]any{"event": map[string]any{"type": "string", "minLength": 1}},
		"required":   []any{"event"},
	},
	models.TriggerTypeScheduled: {
		"type": "object",
		"properties": map[string]any{
			"cron": map[string]any{"type": "string", "minLength": 1},
			"at":   map[string]any{"type": "string", "format": "date-time"},
			"tag":  map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"tag"},
		"oneOf": []any{
			map[string]any{"required": []any{"cron"}},
			map[string]any{"required": []any{"at"}},
		},
	},
	models.TriggerTypeInactivity: {
		"type":       "object",
		"properties": map[string]any{"days": map[string]any{"type": "integer", "minimum": 1}},
		"required":   []any{"days"},
	},
}

var (
	compiledNodeSchemas    = compile(nodeSchemas)
	compiledTriggerSchemas = compile(triggerSchemas)
)

func compile[K comparable](schemas map[K]map[string]any) map[K]*gojsonschema.Schema {
	compiled := make(map[K]*gojsonschema.Schema, len(schemas))

	for key, schema := range schemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			panic(fmt.Sprintf("invalid built-in schema for %v: %v", key, err))
		}

		compiled[key] = s
	}

	return compiled
}

// NodeSchema returns the JSON schema of a node type's data, for API consumers.
func NodeSchema(nodeType models.NodeType) (map[string]any, bool) {
	schema, ok := nodeSchemas[nodeType]

	return schema, ok
}

func validateAgainst(schema *gojsonschema.Schema, document any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, resultErr := range result.Errors() {
			errors = append(errors, resultErr.String())
		}

		return fmt.Errorf("schema validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
