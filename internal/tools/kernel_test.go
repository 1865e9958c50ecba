package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/stats"
)

// newTestKernel loads a realistic fixture tree and returns a kernel over it.
func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("results/data_dictionary_mappings/main/variables.jsonl",
		`{"field_name":"AGE","question":"Age at enrolment","type":"number","module":"demographics"}
{"field_name":"SEX","question":"Sex at birth","type":"radio","codelist":"sex_codes","module":"demographics"}
{"field_name":"FBG","question":"Fasting blood glucose (mmol/L)","type":"number","module":"labs"}
{"field_name":"HBA1C","question":"Glycated hemoglobin","type":"number","module":"labs"}
{"field_name":"SBP","question":"Systolic blood pressure","type":"number","module":"vitals"}
`)
	write("results/data_dictionary_mappings/main/sex_codes.jsonl",
		`{"code":"1","descriptor":"Male"}
{"code":"2","descriptor":"Female"}
`)

	// 100 visit records with AGE in [18,90].
	visits := ""
	for i := 0; i < 100; i++ {
		visits += fmt.Sprintf(`{"AGE":%d,"SEX":"%d","FBG":%0.1f}`+"\n", 18+(i*72)/99, 1+i%2, 4.0+float64(i%40)/10)
	}
	write("results/deidentified/study1/cleaned/visits.jsonl", visits)

	// A small table that trips k-anonymity.
	write("results/deidentified/study1/cleaned/followup.jsonl",
		`{"HBA1C":6.1}
{"HBA1C":5.9}
{"HBA1C":7.2}
`)

	// SBP exists only in the original dataset.
	originals := ""
	for i := 0; i < 10; i++ {
		originals += fmt.Sprintf(`{"SBP":%d}`+"\n", 110+i*3)
	}
	write("results/deidentified/study1/original/vitals.jsonl", originals)

	store := dataset.NewStore(&dataset.Loader{Root: dir}, zap.NewNop())
	require.NoError(t, store.Load())

	return NewKernel(store, stats.DefaultK, zap.NewNop(), nil)
}

func TestKernelListStable(t *testing.T) {
	k := newTestKernel(t)

	first := k.List()
	second := k.List()

	require.Len(t, first, 4)
	names := []string{first[0].Name, first[1].Name, first[2].Name, first[3].Name}
	assert.Equal(t, []string{
		ToolPromptEnhancer, ToolCombinedSearch, ToolSearchDictionary, ToolSearchCleanedDataset,
	}, names)

	// The advertised surface is identical across calls.
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Description, second[i].Description)
		assert.Equal(t, first[i].InputSchema, second[i].InputSchema)
	}
	for _, def := range first {
		assert.NotEmpty(t, def.Description)
		assert.NotNil(t, def.InputSchema)
	}
}

func TestKernelUnknownTool(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.Execute(context.Background(), "drop_tables", nil)
	require.Error(t, err)
}

func TestKernelValidation(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	// Empty query violates minLength and names the field.
	_, err := k.Execute(ctx, ToolSearchDictionary, map[string]interface{}{"query": ""})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "query", ve.Field)

	// Missing required argument.
	_, err = k.Execute(ctx, ToolCombinedSearch, map[string]interface{}{"concept": "diabetes"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "include_statistics", ve.Field)

	// Wrong type.
	_, err = k.Execute(ctx, ToolSearchCleanedDataset, map[string]interface{}{"variable": 7.0})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "variable", ve.Field)
}

func TestSearchCleanedDatasetNumericAggregate(t *testing.T) {
	k := newTestKernel(t)

	raw, err := k.Execute(context.Background(), ToolSearchCleanedDataset,
		map[string]interface{}{"variable": "AGE"})
	require.NoError(t, err)

	res := raw.(*DatasetSearchResult)
	assert.Equal(t, "found", res.Status)
	require.Len(t, res.Aggregates, 1)

	agg := res.Aggregates[0]
	assert.Equal(t, "visits", agg.Table)
	assert.Equal(t, "cleaned", agg.DataSource)
	require.Equal(t, stats.KindNumeric, agg.Result.Kind)
	assert.Equal(t, float64(18), agg.Result.Numeric.Min)
	assert.Equal(t, float64(90), agg.Result.Numeric.Max)
	require.Len(t, agg.Result.Numeric.Histogram, 10)

	sum := 0
	for _, bin := range agg.Result.Numeric.Histogram {
		sum += bin.Count
	}
	assert.Equal(t, 100, sum)
}

func TestSearchCleanedDatasetSuppression(t *testing.T) {
	k := newTestKernel(t)

	raw, err := k.Execute(context.Background(), ToolSearchCleanedDataset,
		map[string]interface{}{"variable": "HBA1C"})
	require.NoError(t, err)

	res := raw.(*DatasetSearchResult)
	require.Len(t, res.Aggregates, 1)
	agg := res.Aggregates[0].Result
	assert.Equal(t, stats.KindSuppressed, agg.Kind)
	assert.Nil(t, agg.Numeric)
	require.NotNil(t, agg.Suppression)
	assert.Equal(t, "k-anonymity", agg.Suppression.Reason)
}

func TestSearchCleanedDatasetNotFound(t *testing.T) {
	k := newTestKernel(t)

	raw, err := k.Execute(context.Background(), ToolSearchCleanedDataset,
		map[string]interface{}{"variable": "NO_SUCH_FIELD"})
	require.NoError(t, err)

	res := raw.(*DatasetSearchResult)
	assert.Equal(t, "not_found", res.Status)
	assert.Empty(t, res.Aggregates)
	assert.NotEmpty(t, res.Guidance)
}

func TestSearchCleanedDatasetOriginalFallback(t *testing.T) {
	k := newTestKernel(t)

	raw, err := k.Execute(context.Background(), ToolSearchCleanedDataset,
		map[string]interface{}{"variable": "SBP"})
	require.NoError(t, err)

	res := raw.(*DatasetSearchResult)
	require.Equal(t, "found", res.Status)
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, "original", res.Aggregates[0].DataSource)
	assert.Equal(t, "vitals", res.Aggregates[0].Table)
}

func TestSearchCleanedDatasetTableFilter(t *testing.T) {
	k := newTestKernel(t)

	raw, err := k.Execute(context.Background(), ToolSearchCleanedDataset,
		map[string]interface{}{"variable": "AGE", "table_filter": "followup"})
	require.NoError(t, err)

	res := raw.(*DatasetSearchResult)
	assert.Equal(t, "not_found", res.Status)
}
