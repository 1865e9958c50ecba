package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
)

// EnhancerResult is the prompt_enhancer response. With
// needs_confirmation=true only the interpretation fields are populated;
// otherwise the routed tool's result is embedded.
type EnhancerResult struct {
	NeedsConfirmation bool        `json:"needs_confirmation"`
	OriginalQuery     string      `json:"original_query,omitempty"`
	Interpretation    string      `json:"interpretation"`
	UnderstoodIntent  string      `json:"understood_intent"`
	ToolUsed          string      `json:"tool_used,omitempty"`
	Result            interface{} `json:"result,omitempty"`
}

// promptEnhancer implements prompt_enhancer: classify, interpret,
// route. When user_confirmation is false nothing downstream runs.
func (k *Kernel) promptEnhancer(ctx context.Context, snap *dataset.Snapshot, args map[string]interface{}) (interface{}, error) {
	query, _ := args["user_query"].(string)
	confirmed, _ := args["user_confirmation"].(bool)

	intent := classifyIntent(query)
	concepts := extractConcepts(query)

	routedTool, routedArgs := routeQuery(intent, query, concepts)
	interpretation := interpret(query, intent, concepts, routedTool)

	if !confirmed {
		return &EnhancerResult{
			NeedsConfirmation: true,
			Interpretation:    interpretation,
			UnderstoodIntent:  intent,
		}, nil
	}

	routed, err := k.Execute(ctx, routedTool, routedArgs)
	if err != nil {
		return nil, fmt.Errorf("routed tool %s: %w", routedTool, err)
	}

	return &EnhancerResult{
		NeedsConfirmation: false,
		OriginalQuery:     query,
		Interpretation:    interpretation,
		UnderstoodIntent:  intent,
		ToolUsed:          routedTool,
		Result:            routed,
	}, nil
}

// routeQuery picks the downstream tool and its arguments.
//
//	metadata_discovery, variable_definition → search_data_dictionary
//	statistical_query, distribution_analysis → search_cleaned_dataset
//	comparison_analysis, general_analysis    → combined_search
//
// The routed argument is the literal clinical term found in the query, not
// the canonical concept: downstream tools match by substring, and the
// canonical name may appear nowhere in the dictionary text.
func routeQuery(intent, query string, concepts []string) (string, map[string]interface{}) {
	subject := extractMatchedTerm(query)
	if subject == "" {
		subject = query
	}

	switch intent {
	case "metadata_discovery", "variable_definition":
		return ToolSearchDictionary, map[string]interface{}{
			"query":             truncate(subject, 200),
			"include_codelists": true,
		}
	case "statistical_query", "distribution_analysis":
		return ToolSearchCleanedDataset, map[string]interface{}{
			"variable": truncate(subject, 200),
		}
	default:
		return ToolCombinedSearch, map[string]interface{}{
			"concept":            truncate(subject, 200),
			"include_statistics": true,
		}
	}
}

func interpret(query, intent string, concepts []string, routedTool string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Understood the query as %s.", strings.ReplaceAll(intent, "_", " "))
	if len(concepts) > 0 {
		fmt.Fprintf(&b, " Recognized clinical concept(s): %s.", strings.Join(concepts, ", "))
	}
	fmt.Fprintf(&b, " Will answer using %s.", routedTool)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
