package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeTestTree lays out a minimal data root in dir.
func writeTestTree(t *testing.T, dir string) {
	t.Helper()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("results/data_dictionary_mappings/main/variables.jsonl",
		`{"field_name":"AGE","question":"Age at enrolment","type":"number","module":"demographics","__sheet__":"main","__table__":"variables"}
{"field_name":"SEX","question":"Sex at birth","type":"radio","codelist":"sex_codes","module":"demographics"}
`)
	write("results/data_dictionary_mappings/main/sex_codes.jsonl",
		`{"code":"1","descriptor":"Male"}
{"code":"2","descriptor":"Female"}
{"code":"9","descriptor":"Not stated"}
`)
	write("results/deidentified/study1/cleaned/visits.jsonl",
		`{"AGE":34,"SEX":"1"}
{"AGE":41,"SEX":"2"}
`)
	write("results/deidentified/study1/original/visits.jsonl",
		`{"AGE":34,"SEX":"1","EXTRA":"x"}
`)
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	loader := &Loader{Root: dir}
	snap, err := loader.Load()
	require.NoError(t, err)

	// Dictionary table
	defs, ok := snap.Dictionary["variables"]
	require.True(t, ok, "variables table should be a dictionary table")
	require.Len(t, defs, 2)
	assert.Equal(t, "AGE", defs[0].Name)
	assert.Equal(t, "Age at enrolment", defs[0].Question)
	assert.Equal(t, "main", defs[0].Sheet)
	assert.Equal(t, "sex_codes", defs[1].CodeListRef)

	// Code list classification
	codes, ok := snap.CodeLists["sex_codes"]
	require.True(t, ok, "sex_codes should be classified as a code list")
	require.Len(t, codes, 3)
	assert.Equal(t, "Male", codes[0].Descriptor)

	// Datasets
	require.Len(t, snap.Cleaned["visits"], 2)
	require.Len(t, snap.Original["visits"], 1)
	assert.Equal(t, float64(34), snap.Cleaned["visits"][0]["AGE"])
}

func TestLoaderMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	bad := filepath.Join(dir, "results/deidentified/study1/cleaned/broken.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"ok\":1}\nnot json\n"), 0o644))

	loader := &Loader{Root: dir}
	_, err := loader.Load()
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.Path)
	assert.Equal(t, 2, le.Line)
}

func TestLoaderMissingRoot(t *testing.T) {
	loader := &Loader{Root: filepath.Join(t.TempDir(), "nope")}
	_, err := loader.Load()
	require.Error(t, err)
}

func TestStoreReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	store := NewStore(&Loader{Root: dir}, zap.NewNop())
	require.False(t, store.Ready())
	require.NoError(t, store.Load())
	require.True(t, store.Ready())

	before := store.Current()
	require.NotNil(t, before)
	require.Len(t, before.Cleaned["visits"], 2)

	// Append a record and reload.
	path := filepath.Join(dir, "results/deidentified/study1/cleaned/visits.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"AGE":58,"SEX":"1"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Reload())

	after := store.Current()
	assert.Len(t, after.Cleaned["visits"], 3)
	// The snapshot held before the reload is untouched.
	assert.Len(t, before.Cleaned["visits"], 2)
}

func TestStoreReloadKeepsOldSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	writeTestTree(t, dir)

	store := NewStore(&Loader{Root: dir}, zap.NewNop())
	require.NoError(t, store.Load())
	good := store.Current()

	bad := filepath.Join(dir, "results/deidentified/study1/cleaned/broken.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{oops\n"), 0o644))

	require.Error(t, store.Reload())
	assert.Same(t, good, store.Current())
}
