package tools

import (
	"context"
	"fmt"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/metrics"
	"github.com/reportalin/reportalin-mcp/internal/stats"
)

// CombinedSearchResult is the combined_search response.
type CombinedSearchResult struct {
	Concept         string           `json:"concept"`
	SearchTermsUsed []string         `json:"search_terms_used"`
	VariablesFound  []VariableMatch  `json:"variables_found"`
	CodeListsFound  []CodeListMatch  `json:"codelists_found"`
	Statistics      []FieldAggregate `json:"statistics,omitempty"`
	DataSource      string           `json:"data_source,omitempty"`
	Summary         string           `json:"summary"`
	Guidance        string           `json:"guidance,omitempty"`
}

// combinedSearch implements combined_search: synonym expansion,
// dictionary and code-list search, optional aggregates for the matches.
func (k *Kernel) combinedSearch(ctx context.Context, snap *dataset.Snapshot, args map[string]interface{}) (interface{}, error) {
	concept, _ := args["concept"].(string)
	includeStats, _ := args["include_statistics"].(bool)

	terms := expandConcept(concept)

	result := &CombinedSearchResult{
		Concept:         concept,
		SearchTermsUsed: terms,
		VariablesFound:  searchDictionaryFields(snap, terms, maxVariableHits),
		CodeListsFound:  searchCodeLists(snap, terms, maxCodeListHits),
	}

	if includeStats && len(result.VariablesFound) > 0 {
		result.Statistics, result.DataSource = k.aggregatesForMatches(snap, result.VariablesFound)
	}

	result.Summary = fmt.Sprintf("Concept %q expanded to %d term(s); matched %d variable(s) and %d code list(s).",
		concept, len(terms), len(result.VariablesFound), len(result.CodeListsFound))
	if includeStats {
		result.Summary += fmt.Sprintf(" Computed %d aggregate(s).", len(result.Statistics))
	}

	if len(result.VariablesFound) == 0 && len(result.CodeListsFound) == 0 {
		result.Guidance = "No dictionary entries matched. Try a broader concept, or search_data_dictionary with a raw variable name fragment."
	}

	return result, nil
}

// aggregatesForMatches computes up to maxAggregates aggregates for the
// matched variables. Field names resolve against the cleaned dataset
// first; fields absent there fall back to the original dataset.
func (k *Kernel) aggregatesForMatches(snap *dataset.Snapshot, matches []VariableMatch) ([]FieldAggregate, string) {
	var aggregates []FieldAggregate
	usedCleaned, usedOriginal := false, false

	for _, m := range matches {
		if len(aggregates) >= maxAggregates {
			break
		}
		if m.Name == "" {
			continue
		}

		refs := resolveField(snap.Cleaned, m.Name)
		ds := snap.Cleaned
		source := "cleaned"
		if len(refs) == 0 {
			refs = resolveField(snap.Original, m.Name)
			ds = snap.Original
			source = "original"
		}

		for _, ref := range refs {
			if len(aggregates) >= maxAggregates {
				break
			}
			agg := stats.Analyze(ds[ref.Table], ref.Field, k.kThreshold())
			if agg.Kind == stats.KindSuppressed {
				metrics.SuppressedResults.Inc()
			}
			aggregates = append(aggregates, FieldAggregate{
				Table:      ref.Table,
				Field:      ref.Field,
				DataSource: source,
				Result:     agg,
			})
			if source == "cleaned" {
				usedCleaned = true
			} else {
				usedOriginal = true
			}
		}
	}

	switch {
	case usedCleaned && usedOriginal:
		return aggregates, "mixed"
	case usedOriginal:
		return aggregates, "original"
	case usedCleaned:
		return aggregates, "cleaned"
	default:
		return aggregates, ""
	}
}
