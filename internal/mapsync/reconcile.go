package mapsync

import (
	"sort"

	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// Binding is one marker placed on the map.
type Binding struct {
	ID    int          `json:"id"`
	Point models.Point `json:"point"`
	Style MarkerStyle  `json:"style"`
	Popup Popup        `json:"popup"`
}

// NewBinding derives the marker for p. The second result is false when p has
// no coordinates.
func NewBinding(p models.Property) (Binding, bool) {
	pt, ok := p.Point()
	if !ok {
		return Binding{}, false
	}
	return Binding{
		ID:    p.ID,
		Point: pt,
		Style: StyleFor(p.PropertyType),
		Popup: PopupFor(p),
	}, true
}

// Diff is the set of marker operations that turns one marker set into
// another.
type Diff struct {
	// ToAdd keeps the order of the desired properties.
	ToAdd []models.Property
	// ToRemove is sorted ascending.
	ToRemove []int
	// ToUpdate holds markers that stay in place with new popup content or
	// style.
	ToUpdate []Binding
}

// Empty reports whether applying d changes nothing.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Reconcile compares the placed markers with the desired properties.
// Properties without coordinates are skipped and a repeated id keeps its
// first occurrence. A marker whose position changed is removed and added
// again. Reconcile never modifies its arguments.
func Reconcile(prev map[int]Binding, desired []models.Property) Diff {
	diff := Diff{
		ToAdd:    []models.Property{},
		ToRemove: []int{},
		ToUpdate: []Binding{},
	}

	seen := make(map[int]bool, len(desired))
	kept := make(map[int]bool, len(desired))
	for _, p := range desired {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		next, ok := NewBinding(p)
		if !ok {
			continue
		}
		kept[p.ID] = true

		cur, placed := prev[p.ID]
		switch {
		case !placed:
			diff.ToAdd = append(diff.ToAdd, p)
		case cur.Point != next.Point:
			diff.ToRemove = append(diff.ToRemove, p.ID)
			diff.ToAdd = append(diff.ToAdd, p)
		case !sameContent(cur, next):
			diff.ToUpdate = append(diff.ToUpdate, next)
		}
	}

	for id := range prev {
		if !kept[id] {
			diff.ToRemove = append(diff.ToRemove, id)
		}
	}
	sort.Ints(diff.ToRemove)

	return diff
}

// sameContent ignores the favorite overlay.
func sameContent(a, b Binding) bool {
	a.Popup.Favorite, b.Popup.Favorite = false, false
	return a.Style == b.Style && a.Popup == b.Popup
}
