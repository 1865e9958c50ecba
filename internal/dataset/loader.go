package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dictionarySubdir = "results/data_dictionary_mappings"
	deidentSubdir    = "results/deidentified"
)

// Metadata keys stamped onto dictionary records by the ingestion pipeline.
const (
	metaSheetKey = "__sheet__"
	metaTableKey = "__table__"
)

// LoadError identifies exactly where a load failed.
type LoadError struct {
	Path  string
	Line  int // 0 when the failure is not line-scoped
	Cause error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s line %d: %v", e.Path, e.Line, e.Cause)
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Loader reads snapshots from a data root directory.
type Loader struct {
	// Root is the directory containing results/ as produced by the
	// ingestion pipeline.
	Root string

	// DatasetName optionally selects one dataset under
	// results/deidentified. Empty loads every dataset found; table names
	// are prefixed "<dataset>/" when more than one is present.
	DatasetName string
}

// Load reads dictionary, code lists, and both dataset variants from disk.
func (l *Loader) Load() (*Snapshot, error) {
	snap := &Snapshot{
		Dictionary: make(map[string][]FieldDef),
		CodeLists:  make(map[string][]CodeEntry),
		Cleaned:    make(Dataset),
		Original:   make(Dataset),
		LoadedAt:   time.Now(),
	}

	if err := l.loadDictionary(snap); err != nil {
		return nil, err
	}

	names, err := l.datasetNames()
	if err != nil {
		return nil, err
	}
	prefix := len(names) > 1

	for _, name := range names {
		base := filepath.Join(l.Root, deidentSubdir, name)
		if err := l.loadDataset(filepath.Join(base, "cleaned"), name, prefix, snap.Cleaned); err != nil {
			return nil, err
		}
		if err := l.loadDataset(filepath.Join(base, "original"), name, prefix, snap.Original); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// datasetNames lists the dataset directories to load.
func (l *Loader) datasetNames() ([]string, error) {
	if l.DatasetName != "" {
		return []string{l.DatasetName}, nil
	}

	dir := filepath.Join(l.Root, deidentSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{Path: dir, Cause: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, &LoadError{Path: dir, Cause: fmt.Errorf("no dataset directories found")}
	}
	return names, nil
}

// loadDictionary walks every sheet directory under the dictionary root and
// classifies each table as field definitions or a code list.
func (l *Loader) loadDictionary(snap *Snapshot) error {
	root := filepath.Join(l.Root, dictionarySubdir)
	sheets, err := os.ReadDir(root)
	if err != nil {
		return &LoadError{Path: root, Cause: err}
	}

	for _, sheet := range sheets {
		if !sheet.IsDir() {
			continue
		}
		sheetDir := filepath.Join(root, sheet.Name())
		files, err := os.ReadDir(sheetDir)
		if err != nil {
			return &LoadError{Path: sheetDir, Cause: err}
		}

		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(sheetDir, f.Name())
			records, err := readJSONL(path)
			if err != nil {
				return err
			}
			tableName := strings.TrimSuffix(f.Name(), ".jsonl")

			if isCodeListTable(records) {
				snap.CodeLists[tableName] = toCodeEntries(records)
			} else {
				snap.Dictionary[tableName] = toFieldDefs(records, sheet.Name(), tableName)
			}
		}
	}

	return nil
}

// loadDataset loads every .jsonl table in dir into dst. A missing directory
// is tolerated; original data in particular is optional.
func (l *Loader) loadDataset(dir, datasetName string, prefix bool, dst Dataset) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &LoadError{Path: dir, Cause: err}
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		records, err := readJSONL(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(f.Name(), ".jsonl")
		if prefix {
			name = datasetName + "/" + name
		}
		dst[name] = records
	}
	return nil
}

// readJSONL parses one JSON object per line. Parsing is strict: a malformed
// line fails the whole load with file and line number.
func readJSONL(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	defer f.Close()

	var records Table
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &LoadError{Path: path, Line: lineNo, Cause: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &LoadError{Path: path, Line: lineNo, Cause: err}
	}

	return records, nil
}
