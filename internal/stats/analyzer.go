package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
)

// Package stats computes privacy-preserving aggregates over loaded records.
//
// Every result is a tagged variant: numeric, categorical, suppressed, or
// no_data. Aggregates representing fewer than k individuals are replaced by
// a suppression marker before they can reach the wire.

// DefaultK is the default k-anonymity threshold.
const DefaultK = 5

// Result kinds.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
	KindSuppressed  = "suppressed"
	KindNoData      = "no_data"
)

const (
	histogramBins     = 10
	topValueCounts    = 20
	suppressionReason = "k-anonymity"
)

// HistogramBin is one uniform-width bin; the last bin includes the max.
type HistogramBin struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// NumericStats summarizes a numeric variable.
type NumericStats struct {
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Mean      float64        `json:"mean"`
	Median    float64        `json:"median"`
	StdDev    *float64       `json:"stddev,omitempty"` // nil below 2 samples
	Histogram []HistogramBin `json:"histogram"`
}

// ValueCount is one categorical value with its frequency.
type ValueCount struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CategoricalStats summarizes a categorical variable. ValueCounts holds at
// most the top 20 values; UniqueValuesCount is always the full count.
type CategoricalStats struct {
	ValueCounts       []ValueCount `json:"value_counts"`
	UniqueValuesCount int          `json:"unique_values_count"`
}

// Suppression marks an aggregate withheld by the k-anonymity guard.
type Suppression struct {
	Reason    string `json:"reason"`
	Threshold int    `json:"threshold"`
}

// Result is the tagged aggregate variant plus the common count fields.
type Result struct {
	Kind           string            `json:"kind"`
	TotalRecords   int               `json:"total_records"`
	NonNullCount   int               `json:"non_null_count"`
	NullCount      int               `json:"null_count"`
	NullPercentage float64           `json:"null_percentage"`
	Numeric        *NumericStats     `json:"statistics,omitempty"`
	Categorical    *CategoricalStats `json:"categorical,omitempty"`
	Suppression    *Suppression      `json:"suppression,omitempty"`
}

// Analyze computes the aggregate for one field over records, enforcing the
// k-anonymity threshold k (values < 1 fall back to DefaultK).
func Analyze(records dataset.Table, fieldName string, k int) *Result {
	if k < 1 {
		k = DefaultK
	}

	total := len(records)
	values := make([]interface{}, 0, total)
	for _, rec := range records {
		if v, ok := rec[fieldName]; ok && v != nil {
			values = append(values, v)
		}
	}

	nonNull := len(values)
	result := &Result{
		TotalRecords:   total,
		NonNullCount:   nonNull,
		NullCount:      total - nonNull,
		NullPercentage: round1(percent(total-nonNull, total)),
	}

	if nonNull == 0 {
		result.Kind = KindNoData
		return result
	}

	if numbers, ok := numericSample(values); ok {
		// Values that would not coerce are excluded from the aggregate,
		// so the count fields must describe the coerced sample only:
		// every reported count refers to the same population the
		// statistics and histogram were computed from.
		result.NonNullCount = len(numbers)
		result.NullCount = total - len(numbers)
		result.NullPercentage = round1(percent(result.NullCount, total))
		if len(numbers) < k {
			result.Kind = KindSuppressed
			result.Suppression = &Suppression{Reason: suppressionReason, Threshold: k}
			return result
		}
		result.Kind = KindNumeric
		result.Numeric = summarizeNumeric(numbers)
		return result
	}

	if nonNull < k {
		result.Kind = KindSuppressed
		result.Suppression = &Suppression{Reason: suppressionReason, Threshold: k}
		return result
	}
	result.Kind = KindCategorical
	result.Categorical = summarizeCategorical(values, nonNull)
	return result
}

// numericSample extracts the numeric values and reports whether the field
// classifies as numeric: the majority of non-null values are numeric
// primitives. Booleans never count as numeric. Numeric strings are coerced
// into the sample once the field classifies, so mixed encodings from the
// spreadsheet extraction still aggregate.
func numericSample(values []interface{}) ([]float64, bool) {
	primitives := 0
	sample := make([]float64, 0, len(values))

	for _, v := range values {
		switch n := v.(type) {
		case float64:
			primitives++
			sample = append(sample, n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				sample = append(sample, f)
			}
		}
	}

	if primitives*2 <= len(values) {
		return nil, false
	}
	return sample, true
}

func summarizeNumeric(numbers []float64) *NumericStats {
	sorted := make([]float64, len(numbers))
	copy(sorted, numbers)
	sort.Float64s(sorted)

	min := sorted[0]
	max := sorted[len(sorted)-1]

	sum := 0.0
	for _, n := range numbers {
		sum += n
	}
	mean := sum / float64(len(numbers))

	stats := &NumericStats{
		Min:       round2(min),
		Max:       round2(max),
		Mean:      round2(mean),
		Median:    round2(median(sorted)),
		Histogram: histogram(numbers, min, max),
	}

	if len(numbers) >= 2 {
		variance := 0.0
		for _, n := range numbers {
			variance += (n - mean) * (n - mean)
		}
		sd := round2(math.Sqrt(variance / float64(len(numbers)-1)))
		stats.StdDev = &sd
	}

	return stats
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// histogram builds 10 uniform bins over [min, max]. A degenerate range
// collapses to one bin. Values equal to max land in the last bin.
func histogram(numbers []float64, min, max float64) []HistogramBin {
	if min == max {
		return []HistogramBin{{
			Range: fmt.Sprintf("%.2f-%.2f", min, max),
			Count: len(numbers),
		}}
	}

	width := (max - min) / histogramBins
	counts := make([]int, histogramBins)
	for _, n := range numbers {
		idx := int((n - min) / width)
		if idx >= histogramBins {
			idx = histogramBins - 1
		}
		counts[idx]++
	}

	bins := make([]HistogramBin, histogramBins)
	for i := range bins {
		lo := min + width*float64(i)
		hi := lo + width
		if i == histogramBins-1 {
			hi = max
		}
		bins[i] = HistogramBin{
			Range: fmt.Sprintf("%.2f-%.2f", lo, hi),
			Count: counts[i],
		}
	}
	return bins
}

func summarizeCategorical(values []interface{}, nonNull int) *CategoricalStats {
	type entry struct {
		value     string
		count     int
		firstSeen int
	}

	index := make(map[string]*entry)
	order := make([]*entry, 0)
	for i, v := range values {
		s := stringify(v)
		if e, ok := index[s]; ok {
			e.count++
			continue
		}
		e := &entry{value: s, count: 1, firstSeen: i}
		index[s] = e
		order = append(order, e)
	}

	// Top values by count; ties broken by first-seen order.
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].firstSeen < order[j].firstSeen
	})

	top := order
	if len(top) > topValueCounts {
		top = top[:topValueCounts]
	}

	counts := make([]ValueCount, len(top))
	for i, e := range top {
		counts[i] = ValueCount{
			Value:      e.value,
			Count:      e.count,
			Percentage: round1(percent(e.count, nonNull)),
		}
	}

	return &CategoricalStats{
		ValueCounts:       counts,
		UniqueValuesCount: len(order),
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
