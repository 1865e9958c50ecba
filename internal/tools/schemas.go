package tools

import (
	"fmt"

	"github.com/reportalin/reportalin-mcp/internal/stats"
)

const defaultKThreshold = stats.DefaultK

// JSON-Schema input shapes for the four tools. These are part of the wire
// contract: clients receive them verbatim from tools/list.

var promptEnhancerSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"user_query": map[string]interface{}{
			"type":        "string",
			"description": "Natural-language question about the study data",
			"minLength":   5,
			"maxLength":   500,
		},
		"context": map[string]interface{}{
			"type":        "object",
			"description": "Optional extra context from earlier turns",
		},
		"user_confirmation": map[string]interface{}{
			"type":        "boolean",
			"description": "true executes the routed tool, false previews the interpretation",
		},
	},
	"required": []interface{}{"user_query", "user_confirmation"},
}

var combinedSearchSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"concept": map[string]interface{}{
			"type":        "string",
			"description": "Clinical concept to search for, e.g. 'diabetes'",
			"minLength":   1,
			"maxLength":   200,
		},
		"include_statistics": map[string]interface{}{
			"type":        "boolean",
			"description": "Compute aggregates for matched variables",
		},
	},
	"required": []interface{}{"concept", "include_statistics"},
}

var searchDictionarySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Substring to match against variable metadata",
			"minLength":   1,
			"maxLength":   200,
		},
		"include_codelists": map[string]interface{}{
			"type":        "boolean",
			"description": "Also search code lists",
		},
	},
	"required": []interface{}{"query"},
}

var searchCleanedDatasetSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"variable": map[string]interface{}{
			"type":        "string",
			"description": "Variable name or fragment to aggregate",
			"minLength":   1,
			"maxLength":   200,
		},
		"table_filter": map[string]interface{}{
			"type":        "string",
			"description": "Optional table-name substring filter",
		},
	},
	"required": []interface{}{"variable"},
}

// validateArgs checks args against one of the schemas above. It covers
// exactly the constructs those schemas use: required keys, string/boolean/
// object types, minLength/maxLength. Messages identify the failing field.
func validateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	properties, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := args[name]; !present {
				return &ValidationError{Field: name, Message: "required"}
			}
		}
	}

	for name, raw := range args {
		propRaw, known := properties[name]
		if !known {
			return &ValidationError{Field: name, Message: "unknown argument"}
		}
		prop, _ := propRaw.(map[string]interface{})

		switch prop["type"] {
		case "string":
			s, ok := raw.(string)
			if !ok {
				return &ValidationError{Field: name, Message: "must be a string"}
			}
			if min, ok := prop["minLength"].(int); ok && len(s) < min {
				return &ValidationError{Field: name, Message: fmt.Sprintf("must be at least %d characters", min)}
			}
			if max, ok := prop["maxLength"].(int); ok && len(s) > max {
				return &ValidationError{Field: name, Message: fmt.Sprintf("must be at most %d characters", max)}
			}
		case "boolean":
			if _, ok := raw.(bool); !ok {
				return &ValidationError{Field: name, Message: "must be a boolean"}
			}
		case "object":
			if raw == nil {
				continue
			}
			if _, ok := raw.(map[string]interface{}); !ok {
				return &ValidationError{Field: name, Message: "must be an object"}
			}
		}
	}

	return nil
}
