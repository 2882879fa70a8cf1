package summary

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zombor/expense-tracker/internal/amount"
	"github.com/zombor/expense-tracker/internal/category"
)

// Record is the part of a transaction the aggregator reads.
type Record struct {
	// Date is nil when the record has no usable timestamp.
	Date         *time.Time
	Category     string
	SupplierName string
	FullText     string
	ItemNames    []string
	TotalAmount  string
}

// Source is implemented by anything that can be summarized.
type Source interface {
	SummaryRecord() Record
}

// CategoryTotal is one slice of the category breakdown.
type CategoryTotal struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Color    string  `json:"color"`
}

// BucketTotal is one point of the time series.
type BucketTotal struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// Result is the outcome of one aggregation call.
type Result struct {
	TotalExpenses     float64         `json:"totalExpenses"`
	CategoryBreakdown []CategoryTotal `json:"categoryBreakdown"`
	BucketBreakdown   []BucketTotal   `json:"bucketBreakdown"`

	// Visible holds indexes into the input slice of the records that passed
	// every filter, in the requested sort order.
	Visible []int `json:"-"`
}

// AggregateSources converts records with SummaryRecord and aggregates them.
func AggregateSources[T Source](records []T, spec FilterSpec) Result {
	converted := make([]Record, len(records))
	for i, r := range records {
		converted[i] = r.SummaryRecord()
	}
	return Aggregate(converted, spec)
}

// Aggregate filters records by date range, category set and search text, then
// totals the survivors. Income records stay visible but are never counted.
// records is not modified.
func Aggregate(records []Record, spec FilterSpec) Result {
	loc := spec.location()
	amounts := make([]float64, len(records))

	var start, end *time.Time
	if spec.Start != nil {
		s := startOfDay(*spec.Start, loc)
		start = &s
	}
	if spec.End != nil {
		e := endOfDay(*spec.End, loc)
		end = &e
	}

	categories := make(map[string]bool, len(spec.Categories))
	for _, c := range spec.Categories {
		categories[c] = true
	}

	query := lower(spec.Search)

	visible := make([]int, 0, len(records))
	for i, r := range records {
		amounts[i] = amount.Normalize(r.TotalAmount)

		if !inRange(r.Date, start, end) {
			continue
		}
		if len(categories) > 0 && !categories[r.Category] {
			continue
		}
		if query != "" && !matches(r, amounts[i], query) {
			continue
		}
		visible = append(visible, i)
	}

	sortVisible(visible, records, amounts, spec.Sort)

	var total amount.Accumulator
	byCategory := make(map[string]*amount.Accumulator)
	byBucket := make(map[string]*amount.Accumulator)
	labels := make(map[string]string)

	for _, i := range visible {
		r := records[i]
		if category.IsIncome(r.Category) {
			continue
		}
		total.Add(amounts[i])

		label := r.Category
		if label == "" {
			label = string(category.Other)
		}
		if byCategory[label] == nil {
			byCategory[label] = &amount.Accumulator{}
		}
		byCategory[label].Add(amounts[i])

		if r.Date == nil {
			continue
		}
		key, display := bucketKey(*r.Date, spec.Bucket, loc)
		if byBucket[key] == nil {
			byBucket[key] = &amount.Accumulator{}
			labels[key] = display
		}
		byBucket[key].Add(amounts[i])
	}

	result := Result{
		TotalExpenses:     total.Float64(),
		CategoryBreakdown: make([]CategoryTotal, 0, len(byCategory)),
		BucketBreakdown:   make([]BucketTotal, 0, len(byBucket)),
		Visible:           visible,
	}

	for idx, label := range orderCategories(byCategory) {
		result.CategoryBreakdown = append(result.CategoryBreakdown, CategoryTotal{
			Category: label,
			Amount:   byCategory[label].Float64(),
			Color:    category.Color(idx),
		})
	}

	keys := make([]string, 0, len(byBucket))
	for k := range byBucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result.BucketBreakdown = append(result.BucketBreakdown, BucketTotal{
			Key:    k,
			Label:  labels[k],
			Amount: byBucket[k].Float64(),
		})
	}

	return result
}

func inRange(date, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}
	if date == nil {
		return false
	}
	if start != nil && date.Before(*start) {
		return false
	}
	if end != nil && date.After(*end) {
		return false
	}
	return true
}

func matches(r Record, value float64, query string) bool {
	description := r.FullText
	if len(r.ItemNames) > 0 {
		description = strings.Join(r.ItemNames, ", ")
	}
	for _, field := range []string{r.SupplierName, r.Category, description, amount.String(value)} {
		if strings.Contains(lower(field), query) {
			return true
		}
	}
	return false
}

func sortVisible(visible []int, records []Record, amounts []float64, order SortOrder) {
	sort.SliceStable(visible, func(a, b int) bool {
		i, j := visible[a], visible[b]
		switch order {
		case SortAmountAsc:
			return amounts[i] < amounts[j]
		case SortAmountDesc:
			return amounts[i] > amounts[j]
		}
		di, dj := records[i].Date, records[j].Date
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		}
		return di.After(*dj)
	})
}

// orderCategories lists taxonomy labels in display order, then any other
// labels alphabetically, so slice colours do not depend on record order.
func orderCategories(totals map[string]*amount.Accumulator) []string {
	out := make([]string, 0, len(totals))
	for _, c := range category.All() {
		if _, ok := totals[string(c)]; ok {
			out = append(out, string(c))
		}
	}
	var extra []string
	for label := range totals {
		if !category.Known(label) {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func bucketKey(t time.Time, size BucketSize, loc *time.Location) (key, label string) {
	t = t.In(loc)
	if size == BucketMonth {
		return t.Format("2006-01"), t.Format("01/06")
	}
	return t.Format(DayLayout), t.Format("1/2/2006")
}

func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}
