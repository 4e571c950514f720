// Package config loads workflow definitions from YAML seed files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/nurture/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrEmptySeedFile = errors.New("seed file defines no workflows")

// WorkflowFile is the layout of a seed file:
//
//	workflows:
//	  - scope: acme
//	    name: Onboarding
//	    trigger: {type: signup}
//	    nodes: [...]
//	    edges: [...]
//
// Definitions use the same field names as the JSON API.
type WorkflowFile struct {
	Workflows []any `yaml:"workflows"`
}

// LoadWorkflows reads the workflows defined in the YAML file at path.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	return ParseWorkflows(data)
}

// ParseWorkflows decodes a seed document. Nodes are decoded through their JSON form so
// each node payload gets the variant selected by its type.
func ParseWorkflows(data []byte) ([]*models.Workflow, error) {
	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML seed file: %w", err)
	}

	if len(file.Workflows) == 0 {
		return nil, ErrEmptySeedFile
	}

	workflows := make([]*models.Workflow, 0, len(file.Workflows))

	for i, definition := range file.Workflows {
		encoded, err := json.Marshal(definition)
		if err != nil {
			return nil, fmt.Errorf("workflows[%d]: %w", i, err)
		}

		var workflow models.Workflow
		if err := json.Unmarshal(encoded, &workflow); err != nil {
			return nil, fmt.Errorf("workflows[%d]: %w", i, err)
		}

		if workflow.Name == "" {
			return nil, fmt.Errorf("workflows[%d]: name is required", i)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}
