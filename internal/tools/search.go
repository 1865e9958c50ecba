package tools

import (
	"sort"
	"strings"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
)

// Shared matching helpers for the dictionary, code-list, and dataset
// searches. All matching is case-insensitive substring matching.

// VariableMatch is one dictionary hit.
type VariableMatch struct {
	Name        string `json:"name"`
	Question    string `json:"question,omitempty"`
	Type        string `json:"type,omitempty"`
	CodeListRef string `json:"codelist_ref,omitempty"`
	Module      string `json:"module,omitempty"`
	Form        string `json:"form,omitempty"`
	Table       string `json:"table,omitempty"`
}

// CodeListMatch is one code-list hit with capped examples.
type CodeListMatch struct {
	Name       string            `json:"name"`
	TotalCodes int               `json:"total_codes"`
	Examples   []dataset.CodeEntry `json:"examples"`
}

// fieldMatchesAny reports whether any term is a substring of the field's
// searchable attributes.
func fieldMatchesAny(def dataset.FieldDef, terms []string) bool {
	haystacks := []string{
		strings.ToLower(def.Name),
		strings.ToLower(def.Question),
		strings.ToLower(def.Module),
		strings.ToLower(def.CodeListRef),
		strings.ToLower(def.Notes),
	}
	for _, term := range terms {
		for _, h := range haystacks {
			if h != "" && strings.Contains(h, term) {
				return true
			}
		}
	}
	return false
}

// searchDictionaryFields scans every dictionary field, returning at most
// limit matches.
func searchDictionaryFields(snap *dataset.Snapshot, terms []string, limit int) []VariableMatch {
	var matches []VariableMatch
	for _, def := range snap.DictionaryFields() {
		if !fieldMatchesAny(def, terms) {
			continue
		}
		matches = append(matches, VariableMatch{
			Name:        def.Name,
			Question:    def.Question,
			Type:        def.Type,
			CodeListRef: def.CodeListRef,
			Module:      def.Module,
			Form:        def.Form,
			Table:       def.Table,
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches
}

// searchCodeLists matches code lists by name substring first, then by any
// descriptor substring. Examples are capped; the total count is always
// reported.
func searchCodeLists(snap *dataset.Snapshot, terms []string, limit int) []CodeListMatch {
	names := make([]string, 0, len(snap.CodeLists))
	for name := range snap.CodeLists {
		names = append(names, name)
	}
	sort.Strings(names)

	var matches []CodeListMatch
	for _, name := range names {
		entries := snap.CodeLists[name]
		if !codeListMatches(name, entries, terms) {
			continue
		}
		examples := entries
		if len(examples) > maxCodeExamples {
			examples = examples[:maxCodeExamples]
		}
		matches = append(matches, CodeListMatch{
			Name:       name,
			TotalCodes: len(entries),
			Examples:   examples,
		})
		if len(matches) >= limit {
			break
		}
	}
	return matches
}

func codeListMatches(name string, entries []dataset.CodeEntry, terms []string) bool {
	lowered := strings.ToLower(name)
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	for _, e := range entries {
		desc := strings.ToLower(e.Descriptor)
		for _, term := range terms {
			if desc != "" && strings.Contains(desc, term) {
				return true
			}
		}
	}
	return false
}

// fieldRef names one concrete field in one table.
type fieldRef struct {
	Table string
	Field string
}

// resolveField finds tables carrying a field for fieldName in ds:
// exact (case-insensitive) key match first, then suffix/prefix partial
// matches. Results are ordered by table name for determinism.
func resolveField(ds dataset.Dataset, fieldName string) []fieldRef {
	lowered := strings.ToLower(fieldName)

	var exact, partial []fieldRef
	tables := make([]string, 0, len(ds))
	for t := range ds {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		records := ds[table]
		if len(records) == 0 {
			continue
		}
		for _, key := range fieldKeys(records) {
			kl := strings.ToLower(key)
			switch {
			case kl == lowered:
				exact = append(exact, fieldRef{Table: table, Field: key})
			case strings.HasPrefix(kl, lowered) || strings.HasSuffix(kl, lowered):
				partial = append(partial, fieldRef{Table: table, Field: key})
			}
		}
	}

	if len(exact) > 0 {
		return exact
	}
	return partial
}

// findFieldsContaining returns every field in ds whose name contains the
// fragment, optionally restricted to tables matching tableFilter.
func findFieldsContaining(ds dataset.Dataset, fragment, tableFilter string) []fieldRef {
	fragment = strings.ToLower(fragment)
	tableFilter = strings.ToLower(tableFilter)

	tables := make([]string, 0, len(ds))
	for t := range ds {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var refs []fieldRef
	for _, table := range tables {
		if tableFilter != "" && !strings.Contains(strings.ToLower(table), tableFilter) {
			continue
		}
		for _, key := range fieldKeys(ds[table]) {
			if strings.Contains(strings.ToLower(key), fragment) {
				refs = append(refs, fieldRef{Table: table, Field: key})
			}
		}
	}
	return refs
}

// fieldKeys collects the union of keys over the first records of a table,
// sorted. Sampling the head is enough: JSONL rows from one extracted sheet
// share a schema.
func fieldKeys(records dataset.Table) []string {
	const sample = 25
	set := make(map[string]bool)
	for i, rec := range records {
		if i >= sample {
			break
		}
		for k := range rec {
			set[k] = true
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
