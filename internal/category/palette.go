package category

var palette = []string{
	"#FF6384", "#36A2EB", "#FFCE56", "#4BC0C0", "#9966FF",
	"#FF9F40", "#E7E9ED", "#8B0000", "#008000", "#ADD8E6",
}

// LegendFontColor is the legend text colour for every chart slice.
const LegendFontColor = "#7F7F7F"

// Color returns the chart colour for the slice at index, cycling through the
// palette.
func Color(index int) string {
	if index < 0 {
		index = -index
	}
	return palette[index%len(palette)]
}
