package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// Category names one of a user's vaults.
type Category string

const (
	CategoryDefault Category = "default"
	CategorySocial  Category = "social"
	CategoryWork    Category = "work"
	CategoryFinance Category = "finance"
	CategoryEmail   Category = "email"
	CategoryOther   Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryDefault,
	CategorySocial,
	CategoryWork,
	CategoryFinance,
	CategoryEmail,
	CategoryOther,
}

func (c Category) String() string { return string(c) }

// ParseCategory maps user input onto the closed category set. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: invalid category %q, expected one of: %s", common.ErrValidation, s, CategoryList())
}

// CategoryList renders the valid categories as "default, social, ...".
func CategoryList() string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
