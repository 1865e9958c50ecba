package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
)

// DictionaryResult is the search_data_dictionary response.
type DictionaryResult struct {
	Query      string          `json:"query"`
	Variables  []VariableMatch `json:"variables"`
	CodeLists  []CodeListMatch `json:"codelists,omitempty"`
	TotalFound int             `json:"total_found"`
	Summary    string          `json:"summary"`
}

// searchDictionary implements search_data_dictionary: metadata only,
// never statistics.
func (k *Kernel) searchDictionary(ctx context.Context, snap *dataset.Snapshot, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	includeCodeLists, _ := args["include_codelists"].(bool)

	terms := []string{strings.ToLower(strings.TrimSpace(query))}

	variables := searchDictionaryFields(snap, terms, maxDictionaryHits)
	result := &DictionaryResult{
		Query:      query,
		Variables:  variables,
		TotalFound: len(variables),
	}

	if includeCodeLists {
		result.CodeLists = searchCodeLists(snap, terms, maxCodeListHits)
	}

	switch {
	case len(variables) == 0 && len(result.CodeLists) == 0:
		result.Summary = fmt.Sprintf("No dictionary entries match %q.", query)
	case includeCodeLists:
		result.Summary = fmt.Sprintf("Found %d variable(s) and %d code list(s) matching %q.",
			len(variables), len(result.CodeLists), query)
	default:
		result.Summary = fmt.Sprintf("Found %d variable(s) matching %q.", len(variables), query)
	}

	return result, nil
}
