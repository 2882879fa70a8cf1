package summary

import "github.com/zombor/expense-tracker/internal/category"

// PieSlice is one category slice in the shape the chart widget expects.
type PieSlice struct {
	Name            string  `json:"name"`
	Population      float64 `json:"population"`
	Color           string  `json:"color"`
	LegendFontColor string  `json:"legendFontColor"`
	LegendFontSize  int     `json:"legendFontSize"`
}

// BarData is the time series in the shape the chart widget expects.
type BarData struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
}

// PieChart converts the category breakdown, skipping empty slices.
func PieChart(r Result) []PieSlice {
	slices := make([]PieSlice, 0, len(r.CategoryBreakdown))
	for _, c := range r.CategoryBreakdown {
		if c.Amount <= 0 {
			continue
		}
		slices = append(slices, PieSlice{
			Name:            c.Category,
			Population:      c.Amount,
			Color:           c.Color,
			LegendFontColor: category.LegendFontColor,
			LegendFontSize:  15,
		})
	}
	return slices
}

// BarChart converts the bucket breakdown.
func BarChart(r Result) BarData {
	data := BarData{
		Labels: make([]string, 0, len(r.BucketBreakdown)),
		Data:   make([]float64, 0, len(r.BucketBreakdown)),
	}
	for _, b := range r.BucketBreakdown {
		data.Labels = append(data.Labels, b.Label)
		data.Data = append(data.Data, b.Amount)
	}
	return data
}
