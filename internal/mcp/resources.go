package mcp

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
)

// Resource URIs exposed through resources/list.
const (
	ResourceStudyOverview     = "reportalin://study/overview"
	ResourceTablesIndex       = "reportalin://tables/index"
	ResourceCodeListsCatalog  = "reportalin://codelists/catalog"
	ResourceDictionarySummary = "reportalin://dictionary/summary"
)

// ResourceDescriptor is one resources/list entry.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContents is one resources/read content entry.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Catalog serves the static study resources. Contents are derived from
// the active snapshot at read time, so a reload is reflected on the
// next read without any cache invalidation.
type Catalog struct {
	store *dataset.Store
}

// NewCatalog builds the resource catalog over the snapshot store.
func NewCatalog(store *dataset.Store) *Catalog {
	return &Catalog{store: store}
}

// List returns the fixed resource descriptors.
func (c *Catalog) List() []ResourceDescriptor {
	return []ResourceDescriptor{
		{
			URI:         ResourceStudyOverview,
			Name:        "Study overview",
			Description: "High-level shape of the loaded study: dataset and dictionary table counts, record totals.",
			MimeType:    "application/json",
		},
		{
			URI:         ResourceTablesIndex,
			Name:        "Table index",
			Description: "Every cleaned and original table with its record count.",
			MimeType:    "application/json",
		},
		{
			URI:         ResourceCodeListsCatalog,
			Name:        "Code list catalog",
			Description: "Every code list with its code count.",
			MimeType:    "application/json",
		},
		{
			URI:         ResourceDictionarySummary,
			Name:        "Dictionary summary",
			Description: "Variable counts per dictionary sheet and table.",
			MimeType:    "application/json",
		},
	}
}

// Read renders one resource from the current snapshot.
func (c *Catalog) Read(uri string) ([]ResourceContents, error) {
	snap := c.store.Current()
	if snap == nil {
		return nil, fmt.Errorf("snapshot not loaded")
	}

	var payload interface{}
	switch uri {
	case ResourceStudyOverview:
		payload = overview(snap)
	case ResourceTablesIndex:
		payload = tablesIndex(snap)
	case ResourceCodeListsCatalog:
		payload = codeListsCatalog(snap)
	case ResourceDictionarySummary:
		payload = dictionarySummary(snap)
	default:
		return nil, fmt.Errorf("unknown resource uri: %s", uri)
	}

	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return []ResourceContents{{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(text),
	}}, nil
}

func overview(snap *dataset.Snapshot) map[string]interface{} {
	fields := 0
	for _, defs := range snap.Dictionary {
		fields += len(defs)
	}

	return map[string]interface{}{
		"loaded_at":              snap.LoadedAt,
		"dictionary_tables":      len(snap.Dictionary),
		"dictionary_fields":      fields,
		"code_lists":             len(snap.CodeLists),
		"cleaned_tables":         len(snap.Cleaned),
		"cleaned_record_count":   snap.Cleaned.RecordCount(),
		"original_tables":        len(snap.Original),
		"original_record_count":  snap.Original.RecordCount(),
	}
}

func tablesIndex(snap *dataset.Snapshot) map[string]interface{} {
	index := func(ds dataset.Dataset) []map[string]interface{} {
		names := make([]string, 0, len(ds))
		for name := range ds {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]map[string]interface{}, 0, len(names))
		for _, name := range names {
			out = append(out, map[string]interface{}{
				"table":   name,
				"records": len(ds[name]),
			})
		}
		return out
	}

	return map[string]interface{}{
		"cleaned":  index(snap.Cleaned),
		"original": index(snap.Original),
	}
}

func codeListsCatalog(snap *dataset.Snapshot) []map[string]interface{} {
	names := make([]string, 0, len(snap.CodeLists))
	for name := range snap.CodeLists {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]interface{}{
			"name":  name,
			"codes": len(snap.CodeLists[name]),
		})
	}
	return out
}

func dictionarySummary(snap *dataset.Snapshot) []map[string]interface{} {
	names := make([]string, 0, len(snap.Dictionary))
	for name := range snap.Dictionary {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		defs := snap.Dictionary[name]
		sheet := ""
		if len(defs) > 0 {
			sheet = defs[0].Sheet
		}
		out = append(out, map[string]interface{}{
			"table":     name,
			"sheet":     sheet,
			"variables": len(defs),
		})
	}
	return out
}
