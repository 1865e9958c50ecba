package dataset

import (
	"fmt"
	"strings"
)

// Candidate keys for each recognized field-definition attribute. The
// ingestion pipeline preserves the spreadsheet column headers, so the same
// attribute appears under different names across study sheets.
var (
	nameKeys     = []string{"field_name", "variable", "variable_name", "name", "short_name"}
	questionKeys = []string{"question", "question_text", "field_label", "label"}
	typeKeys     = []string{"type", "field_type", "data_type"}
	codeListKeys = []string{"codelist", "code_list", "codelist_name", "choices"}
	moduleKeys   = []string{"module", "section"}
	formKeys     = []string{"form", "form_name", "crf"}
	notesKeys    = []string{"notes", "note", "comment", "comments"}

	codeKeys       = []string{"code", "value", "code_value"}
	descriptorKeys = []string{"descriptor", "description", "label", "meaning"}
)

// isCodeListTable reports whether a dictionary table is a code list: the
// majority of its records carry a {code, descriptor} pair.
func isCodeListTable(records Table) bool {
	if len(records) == 0 {
		return false
	}
	matches := 0
	for _, rec := range records {
		if firstString(rec, codeKeys) != "" && firstString(rec, descriptorKeys) != "" &&
			firstString(rec, nameKeys) == "" {
			matches++
		}
	}
	return matches*2 > len(records)
}

func toCodeEntries(records Table) []CodeEntry {
	entries := make([]CodeEntry, 0, len(records))
	for _, rec := range records {
		code := firstString(rec, codeKeys)
		desc := firstString(rec, descriptorKeys)
		if code == "" && desc == "" {
			continue
		}
		entries = append(entries, CodeEntry{Code: code, Descriptor: desc})
	}
	return entries
}

func toFieldDefs(records Table, sheet, table string) []FieldDef {
	defs := make([]FieldDef, 0, len(records))
	for _, rec := range records {
		def := FieldDef{
			Name:        firstString(rec, nameKeys),
			Question:    firstString(rec, questionKeys),
			Type:        firstString(rec, typeKeys),
			CodeListRef: firstString(rec, codeListKeys),
			Module:      firstString(rec, moduleKeys),
			Form:        firstString(rec, formKeys),
			Notes:       firstString(rec, notesKeys),
			Sheet:       sheet,
			Table:       table,
		}
		if s, ok := rec[metaSheetKey].(string); ok && s != "" {
			def.Sheet = s
		}
		if t, ok := rec[metaTableKey].(string); ok && t != "" {
			def.Table = t
		}
		if def.Name == "" && def.Question == "" {
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// firstString returns the first non-empty string value found for any of the
// candidate keys. Key matching is case-insensitive; numeric values are
// stringified.
func firstString(rec Record, candidates []string) string {
	for _, key := range candidates {
		for k, v := range rec {
			if !strings.EqualFold(k, key) {
				continue
			}
			switch val := v.(type) {
			case string:
				if s := strings.TrimSpace(val); s != "" {
					return s
				}
			case float64:
				return trimFloat(val)
			}
		}
	}
	return ""
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
