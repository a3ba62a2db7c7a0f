package search

import (
	"fmt"
	"strings"

	"github.com/openartifacts/catalog/pkg/catalog"
)

const (
	SortDefault = "default"
	SortDate    = "date"
	SortRating  = "rating"
	SortViews   = "views"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Criteria is the full set of optional search constraints. Absent filters
// mean "no constraint", never "exclude all". Filter categories combine with
// AND; values inside a multi-valued filter combine with OR.
type Criteria struct {
	Keywords       string
	Types          []string
	AuthorKeywords []string
	Organizations  []string
	OwnerKeywords  []string
	BadgeIDs       []int64
	VenueIDs       []int64
	VenueKeywords  string
	SortBy         string
	SortOrder      string
	Page           int
	ItemsPerPage   int
}

// ValidationError rejects a request before any query executes.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Validate checks filter values and normalizes paging and sort defaults.
func (c *Criteria) Validate(defaultPerPage, maxPerPage int) error {
	for _, t := range c.Types {
		if !catalog.IsValidArtifactType(t) {
			return &ValidationError{Field: "type", Value: t}
		}
	}

	if c.SortBy == "" {
		c.SortBy = SortDefault
	}
	switch c.SortBy {
	case SortDefault, SortDate, SortRating, SortViews:
	default:
		return &ValidationError{Field: "sort", Value: c.SortBy}
	}

	if c.SortOrder == "" {
		c.SortOrder = OrderDesc
	}
	switch c.SortOrder {
	case OrderAsc, OrderDesc:
	default:
		return &ValidationError{Field: "order", Value: c.SortOrder}
	}

	if c.Page < 1 {
		c.Page = 1
	}
	if c.ItemsPerPage <= 0 {
		c.ItemsPerPage = defaultPerPage
	}
	// Oversized page requests are clamped, not rejected.
	if c.ItemsPerPage > maxPerPage {
		c.ItemsPerPage = maxPerPage
	}

	return nil
}

// joinOr collapses a multi-valued keyword filter into the OR syntax the
// web-search query parser understands.
func joinOr(values []string) string {
	trimmed := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			trimmed = append(trimmed, v)
		}
	}
	return strings.Join(trimmed, " or ")
}
