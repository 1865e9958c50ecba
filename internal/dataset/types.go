package dataset

import (
	"sort"
	"time"
)

// Package dataset loads de-identified JSONL study data and the data
// dictionary into immutable in-memory snapshots.
//
// Responsibilities:
//   - Parse JSONL files (one JSON object per line) into tables
//   - Classify dictionary tables into field definitions and code lists
//   - Maintain the active snapshot behind an atomic pointer
//   - Reload atomically; in-flight readers keep the snapshot they started with
//   - Watch the data root for changes in dev reload mode

// Record is a single row: field name to JSON primitive
// (string | float64 | bool | nil). Records are never mutated after load.
type Record map[string]interface{}

// Table is an ordered sequence of records from one JSONL file.
type Table []Record

// Dataset maps table name (file stem) to its records.
type Dataset map[string]Table

// FieldDef describes one variable in the data dictionary.
type FieldDef struct {
	Name        string `json:"name"`
	Question    string `json:"question"`
	Type        string `json:"type"`
	CodeListRef string `json:"codelist_ref"`
	Module      string `json:"module"`
	Form        string `json:"form"`
	Notes       string `json:"notes"`
	Sheet       string `json:"sheet"`
	Table       string `json:"table"`
}

// CodeEntry is a single {code, descriptor} pair in a code list.
type CodeEntry struct {
	Code       string `json:"code"`
	Descriptor string `json:"descriptor"`
}

// Snapshot is a consistent read-only view of everything on disk. A new
// snapshot replaces the old one wholesale; snapshots are never mutated.
type Snapshot struct {
	Dictionary map[string][]FieldDef
	CodeLists  map[string][]CodeEntry
	Cleaned    Dataset
	Original   Dataset
	LoadedAt   time.Time
}

// TableNames returns the cleaned table names in sorted order.
func (s *Snapshot) TableNames() []string {
	return sortedKeys(s.Cleaned)
}

// DictionaryFields returns all field definitions across dictionary tables.
func (s *Snapshot) DictionaryFields() []FieldDef {
	var fields []FieldDef
	for _, name := range sortedDictKeys(s.Dictionary) {
		fields = append(fields, s.Dictionary[name]...)
	}
	return fields
}

// RecordCount returns the total number of records in ds.
func (ds Dataset) RecordCount() int {
	total := 0
	for _, table := range ds {
		total += len(table)
	}
	return total
}

func sortedKeys(ds Dataset) []string {
	keys := make([]string, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedDictKeys(m map[string][]FieldDef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
