package tools

import (
	"sort"
	"strings"
)

// Built-in clinical synonym table for concept expansion. Hand-curated for
// the study domain; terms shorter than 3 characters are dropped at
// expansion time, so abbreviations below that length do not belong here.
var clinicalSynonyms = map[string][]string{
	"diabetes": {
		"glucose", "hba1c", "fbg", "rbg", "ogtt", "glycemia", "hyperglycemia",
		"insulin", "t2dm", "gdm", "gestational diabetes",
	},
	"glucose": {
		"hba1c", "fbg", "rbg", "ogtt", "glycemia", "diabetes", "sugar",
	},
	"hypertension": {
		"blood pressure", "systolic", "diastolic", "sbp", "dbp", "htn",
	},
	"blood pressure": {
		"systolic", "diastolic", "sbp", "dbp", "hypertension",
	},
	"obesity": {
		"bmi", "weight", "waist", "body mass", "overweight", "adiposity",
	},
	"weight": {
		"bmi", "waist", "body mass", "height", "obesity",
	},
	"pregnancy": {
		"gestation", "gravida", "parity", "antenatal", "trimester",
		"gestational age", "delivery",
	},
	"anemia": {
		"hemoglobin", "haemoglobin", "hgb", "ferritin", "iron", "hct", "hematocrit",
	},
	"lipids": {
		"cholesterol", "hdl", "ldl", "triglycerides", "tgl", "lipid profile",
	},
	"cholesterol": {
		"hdl", "ldl", "triglycerides", "lipids", "lipid profile",
	},
	"kidney": {
		"creatinine", "egfr", "urea", "albumin", "proteinuria", "renal",
	},
	"smoking": {
		"tobacco", "cigarette", "smoker", "pack years",
	},
	"alcohol": {
		"drinking", "ethanol", "drinks per week",
	},
	"cardiovascular": {
		"heart", "cardiac", "ecg", "myocardial", "stroke", "cvd",
	},
	"medication": {
		"drug", "dose", "treatment", "therapy", "prescription",
	},
	"diet": {
		"nutrition", "dietary", "food", "intake", "calories",
	},
}

const (
	maxSearchTerms    = 15
	minTermLength     = 3
	maxVariableHits   = 30
	maxCodeListHits   = 10
	maxAggregates     = 8
	maxDictionaryHits = 50
	maxCodeExamples   = 15
)

// expandConcept turns a concept into its search-term set: the concept
// itself plus the synonym table entry, capped and filtered.
func expandConcept(concept string) []string {
	concept = strings.ToLower(strings.TrimSpace(concept))

	seen := map[string]bool{}
	terms := make([]string, 0, maxSearchTerms)
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if len(term) < minTermLength || seen[term] || len(terms) >= maxSearchTerms {
			return
		}
		seen[term] = true
		terms = append(terms, term)
	}

	add(concept)
	for _, syn := range clinicalSynonyms[concept] {
		add(syn)
	}

	// A multi-word concept also searches its individual words.
	for _, word := range strings.Fields(concept) {
		add(word)
	}

	return terms
}

// Query-intent keyword table used by prompt_enhancer classification.
// Checked in order; the first bucket with a hit wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{"comparison_analysis", []string{"compare", "versus", " vs ", "difference between", "between groups"}},
	{"distribution_analysis", []string{"distribution", "histogram", "spread", "range of", "quartile"}},
	{"statistical_query", []string{"mean", "average", "median", "count", "how many", "statistics", "std", "min", "max", "percentage"}},
	{"variable_definition", []string{"what is", "definition", "define", "meaning of", "what does"}},
	{"metadata_discovery", []string{"which variables", "what variables", "list variables", "available", "dictionary", "fields", "tables", "codelist", "code list"}},
}

const intentGeneral = "general_analysis"

// classifyIntent maps a lowered query onto one of the six intents.
func classifyIntent(query string) string {
	q := " " + strings.ToLower(query) + " "
	for _, bucket := range intentKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(q, kw) {
				return bucket.intent
			}
		}
	}
	return intentGeneral
}

// extractConcepts finds known clinical concepts mentioned in the query.
func extractConcepts(query string) []string {
	q := strings.ToLower(query)
	var found []string
	for concept := range clinicalSynonyms {
		if strings.Contains(q, concept) {
			found = append(found, concept)
			continue
		}
		for _, syn := range clinicalSynonyms[concept] {
			if strings.Contains(q, syn) {
				found = append(found, concept)
				break
			}
		}
	}
	// Deterministic output; map iteration order is not.
	sort.Strings(found)
	return found
}

// extractMatchedTerm returns the longest concept key or synonym literally
// present in the query, or "" when nothing from the table appears. Longest
// wins so "blood pressure" beats "sbp".
func extractMatchedTerm(query string) string {
	q := strings.ToLower(query)
	best := ""
	consider := func(term string) {
		if !strings.Contains(q, term) {
			return
		}
		if len(term) > len(best) || (len(term) == len(best) && term < best) {
			best = term
		}
	}
	for concept, syns := range clinicalSynonyms {
		consider(concept)
		for _, syn := range syns {
			consider(syn)
		}
	}
	return best
}
