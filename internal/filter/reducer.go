package filter

import (
	"fmt"
	"strings"
)

// Action is a single edit applied by Reduce.
type Action interface {
	apply(State) (State, error)
}

// SetLocation changes the free-text location. Coordinates are left as they
// are until a new geocode resolution arrives.
type SetLocation struct {
	Location string
}

func (a SetLocation) apply(s State) (State, error) {
	s.Location = strings.TrimSpace(a.Location)
	return s, nil
}

// ResolveLocation records a successful geocode: the searched text and the
// coordinates it resolved to.
type ResolveLocation struct {
	Location    string
	Coordinates Coordinates
}

func (a ResolveLocation) apply(s State) (State, error) {
	if !a.Coordinates.Valid() {
		return s, fmt.Errorf("%w: coordinates (%f, %f) out of range",
			ErrValidation, a.Coordinates.Lat, a.Coordinates.Lng)
	}
	c := a.Coordinates
	s.Location = strings.TrimSpace(a.Location)
	s.Coordinates = &c
	return s, nil
}

// SetPropertyType selects a property type. The empty type clears it.
type SetPropertyType struct {
	PropertyType PropertyType
}

func (a SetPropertyType) apply(s State) (State, error) {
	if !a.PropertyType.Valid() {
		return s, fmt.Errorf("%w: unknown property type %q", ErrValidation, a.PropertyType)
	}
	s.PropertyType = a.PropertyType
	return s, nil
}

// SetPriceRange moves the monthly price slider.
type SetPriceRange struct {
	Range Range
}

func (a SetPriceRange) apply(s State) (State, error) {
	if err := a.Range.validate("price range", MaxPrice); err != nil {
		return s, err
	}
	s.PriceRange = a.Range
	return s, nil
}

// SetSquareFeet moves the square footage slider.
type SetSquareFeet struct {
	Range Range
}

func (a SetSquareFeet) apply(s State) (State, error) {
	if err := a.Range.validate("square feet", MaxSquareFeet); err != nil {
		return s, err
	}
	s.SquareFeet = a.Range
	return s, nil
}

// SetBeds sets the minimum bedroom count.
type SetBeds struct {
	Beds MinCount
}

func (a SetBeds) apply(s State) (State, error) {
	if a.Beds < 0 {
		return s, fmt.Errorf("%w: beds must be any or at least 1", ErrValidation)
	}
	s.Beds = a.Beds
	return s, nil
}

// SetBaths sets the minimum bathroom count.
type SetBaths struct {
	Baths MinCount
}

func (a SetBaths) apply(s State) (State, error) {
	if a.Baths < 0 {
		return s, fmt.Errorf("%w: baths must be any or at least 1", ErrValidation)
	}
	s.Baths = a.Baths
	return s, nil
}

// ToggleAmenity adds the amenity if absent and removes it if present.
type ToggleAmenity struct {
	Amenity Amenity
}

func (a ToggleAmenity) apply(s State) (State, error) {
	if !a.Amenity.Valid() {
		return s, fmt.Errorf("%w: unknown amenity %q", ErrValidation, a.Amenity)
	}
	next := make([]Amenity, 0, len(s.Amenities)+1)
	found := false
	for _, existing := range s.Amenities {
		if existing == a.Amenity {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, a.Amenity)
	}
	s.Amenities = NormalizeAmenities(next)
	return s, nil
}

// SetAvailableFrom sets the move-in date. The zero Date means any.
type SetAvailableFrom struct {
	Date Date
}

func (a SetAvailableFrom) apply(s State) (State, error) {
	s.AvailableFrom = a.Date
	return s, nil
}

// ResetFilters restores the default state.
type ResetFilters struct{}

func (ResetFilters) apply(State) (State, error) {
	return Default(), nil
}

// Reduce applies a to s and returns the resulting state. Neither s nor any
// previously returned state is modified. When the action would leave a field
// outside its domain, s is returned unchanged with an ErrValidation error.
func Reduce(s State, a Action) (State, error) {
	if a == nil {
		return s, fmt.Errorf("%w: nil action", ErrValidation)
	}
	next, err := a.apply(s.clone())
	if err != nil {
		return s, err
	}
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}
