// Package category holds the fixed expense taxonomy and the keyword fallback
// used when the OCR workflow does not return a usable category.
package category

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is a label from the expense taxonomy, or Income.
type Category string

const (
	FoodAndDining  Category = "Food & Dining"
	Transportation Category = "Transportation"
	Shopping       Category = "Shopping"
	Utilities      Category = "Utilities"
	Housing        Category = "Housing"
	Entertainment  Category = "Entertainment"
	Health         Category = "Health"
	Education      Category = "Education"
	Other          Category = "Other"

	// Income marks revenue. It is listed with transactions but never counted
	// as an expense.
	Income Category = "Income"

	// Uncategorized is what the OCR workflow returns when it gives up.
	Uncategorized = "Uncategorized"
)

var taxonomy = []Category{
	FoodAndDining, Transportation, Shopping, Utilities, Housing,
	Entertainment, Health, Education, Income, Other,
}

// All returns every label in display order.
func All() []Category {
	return append([]Category(nil), taxonomy...)
}

// Expense returns every label except Income, in display order.
func Expense() []Category {
	out := make([]Category, 0, len(taxonomy)-1)
	for _, c := range taxonomy {
		if c != Income {
			out = append(out, c)
		}
	}
	return out
}

// Known reports whether label is part of the taxonomy.
func Known(label string) bool {
	for _, c := range taxonomy {
		if string(c) == label {
			return true
		}
	}
	return false
}

// IsIncome reports whether label marks a revenue record.
func IsIncome(label string) bool {
	return label == string(Income)
}

// Normalize maps label onto the taxonomy. Unknown labels become Other.
// Filtering and search must keep using the verbatim label.
func Normalize(label string) Category {
	if Known(label) {
		return Category(label)
	}
	return Other
}

type rule struct {
	category Category
	keywords []string
}

// Checked in order; the first matching rule wins.
var rules = []rule{
	{FoodAndDining, []string{"cafe", "restaurant", "food", "meal", "coffee", "drink"}},
	{Transportation, []string{"gas", "bus", "taxi", "travel", "transport", "fuel"}},
	{Shopping, []string{"supermarket", "shopping", "store", "market", "groceries"}},
	{Utilities, []string{"electricity", "water", "internet", "utilities", "bill"}},
	{Housing, []string{"rent", "housing", "home"}},
}

// Categorize guesses a category from free text by keyword. It never returns
// Income; text that matches nothing is Other.
func Categorize(text string) Category {
	lower := cases.Lower(language.Und).String(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return Other
}

// NeedsCategorization reports whether an upstream label should be replaced by
// the keyword guess. An upstream Other is re-tried on purpose.
func NeedsCategorization(upstream string) bool {
	upstream = strings.TrimSpace(upstream)
	return upstream == "" ||
		strings.EqualFold(upstream, Uncategorized) ||
		upstream == string(Other)
}

// Resolve returns upstream unless it needs categorization, in which case the
// keyword guess for text is used.
func Resolve(upstream, text string) Category {
	if NeedsCategorization(upstream) {
		return Categorize(text)
	}
	return Category(strings.TrimSpace(upstream))
}
