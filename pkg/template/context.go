package template

import "github.com/dukex/nurture/pkg/models"

// Data builds the template root exposed to email content and expressions:
// .contact, .data (execution data), .workflow and .execution.
func Data(workflow *models.Workflow, execution *models.Execution, contact *models.Contact) map[string]any {
	root := map[string]any{
		"contact":   map[string]any{},
		"data":      map[string]any{},
		"workflow":  map[string]any{},
		"execution": map[string]any{},
	}

	if contact != nil {
		root["contact"] = ContactData(contact)
	}

	if workflow != nil {
		root["workflow"] = map[string]any{
			"id":    workflow.ID,
			"name":  workflow.Name,
			"scope": workflow.Scope,
			"owner": workflow.Owner,
		}
	}

	if execution != nil {
		if execution.Data != nil {
			root["data"] = execution.Data
		}

		root["execution"] = map[string]any{
			"id":              execution.ID,
			"workflow_id":     execution.WorkflowID,
			"contact_id":      execution.ContactID,
			"current_node_id": execution.CurrentNodeID,
			"created_at":      execution.CreatedAt,
		}
	}

	return root
}

// ContactData flattens a contact into template-friendly keys.
func ContactData(contact *models.Contact) map[string]any {
	tags := make([]any, 0, len(contact.Tags))
	for _, tag := range contact.Tags {
		tags = append(tags, tag)
	}

	fields := contact.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	return map[string]any{
		"id":         contact.ID,
		"email":      contact.Email,
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"fields":     fields,
		"tags":       tags,
	}
}
