package tools

import (
	"context"
	"fmt"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/metrics"
	"github.com/reportalin/reportalin-mcp/internal/stats"
)

// FieldAggregate is one aggregate tagged with its source.
type FieldAggregate struct {
	Table      string        `json:"table"`
	Field      string        `json:"field"`
	DataSource string        `json:"data_source"` // cleaned | original
	Result     *stats.Result `json:"result"`
}

// DatasetSearchResult is the search_cleaned_dataset response.
type DatasetSearchResult struct {
	Variable   string           `json:"variable"`
	Status     string           `json:"status"` // found | not_found
	Aggregates []FieldAggregate `json:"aggregates,omitempty"`
	Guidance   string           `json:"guidance,omitempty"`
}

// searchCleanedDataset implements search_cleaned_dataset: one
// aggregate per matching field per table. Cleaned tables take precedence;
// the original dataset is consulted only when no cleaned table carries the
// variable.
func (k *Kernel) searchCleanedDataset(ctx context.Context, snap *dataset.Snapshot, args map[string]interface{}) (interface{}, error) {
	variable, _ := args["variable"].(string)
	tableFilter, _ := args["table_filter"].(string)

	refs := findFieldsContaining(snap.Cleaned, variable, tableFilter)
	source := "cleaned"
	ds := snap.Cleaned

	if len(refs) == 0 {
		refs = findFieldsContaining(snap.Original, variable, tableFilter)
		source = "original"
		ds = snap.Original
	}

	if len(refs) == 0 {
		return &DatasetSearchResult{
			Variable: variable,
			Status:   "not_found",
			Guidance: fmt.Sprintf("No field containing %q exists in any dataset table. Try search_data_dictionary to discover variable names, or combined_search with a broader clinical concept.", variable),
		}, nil
	}

	result := &DatasetSearchResult{
		Variable:   variable,
		Status:     "found",
		Aggregates: make([]FieldAggregate, 0, len(refs)),
	}

	for _, ref := range refs {
		agg := stats.Analyze(ds[ref.Table], ref.Field, k.kThreshold())
		if agg.Kind == stats.KindSuppressed {
			metrics.SuppressedResults.Inc()
		}
		result.Aggregates = append(result.Aggregates, FieldAggregate{
			Table:      ref.Table,
			Field:      ref.Field,
			DataSource: source,
			Result:     agg,
		})
	}

	return result, nil
}
