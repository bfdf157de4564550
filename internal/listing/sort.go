package listing

import (
	"errors"
	"sort"
	"strings"

	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// SortKey orders the result list.
type SortKey string

const (
	SortNewest    SortKey = "newest"
	SortOldest    SortKey = "oldest"
	SortPriceAsc  SortKey = "price-asc"
	SortPriceDesc SortKey = "price-desc"
)

// DefaultSort is the order a new listing starts in.
const DefaultSort = SortNewest

// ErrUnknownSort is returned by ParseSortKey for unrecognized keys.
var ErrUnknownSort = errors.New("listing: unknown sort key")

// ParseSortKey accepts the canonical keys and the legacy price-low and
// price-high aliases.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "newest":
		return SortNewest, nil
	case "oldest":
		return SortOldest, nil
	case "price-asc", "price-low":
		return SortPriceAsc, nil
	case "price-desc", "price-high":
		return SortPriceDesc, nil
	}
	return "", ErrUnknownSort
}

// Sort returns a sorted copy of props. Every key is total: ties break by
// ascending id, so equal inputs always produce the same order.
func Sort(props []models.Property, key SortKey) []models.Property {
	out := make([]models.Property, len(props))
	copy(out, props)

	less := func(a, b models.Property) (bool, bool) {
		switch key {
		case SortOldest:
			if !a.PostedDate.Equal(b.PostedDate) {
				return a.PostedDate.Before(b.PostedDate), true
			}
		case SortPriceAsc:
			if a.PricePerMonth != b.PricePerMonth {
				return a.PricePerMonth < b.PricePerMonth, true
			}
		case SortPriceDesc:
			if a.PricePerMonth != b.PricePerMonth {
				return a.PricePerMonth > b.PricePerMonth, true
			}
		default:
			if !a.PostedDate.Equal(b.PostedDate) {
				return a.PostedDate.After(b.PostedDate), true
			}
		}
		return false, false
	}

	sort.SliceStable(out, func(i, j int) bool {
		if l, decided := less(out[i], out[j]); decided {
			return l
		}
		return out[i].ID < out[j].ID
	})
	return out
}
