package filter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Slider ceilings for the numeric ranges.
const (
	MaxPrice      = 10000
	MaxSquareFeet = 5000
)

// DateLayout is the ISO date format used for AvailableFrom.
const DateLayout = "2006-01-02"

// ErrValidation marks a filter value outside its declared domain.
var ErrValidation = errors.New("filter validation failed")

// Coordinates is a resolved center point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether c lies within WGS84 latitude/longitude ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// PropertyType is the kind of rental. The empty value means no constraint.
type PropertyType string

// Known property types.
const (
	PropertyTypeRooms      PropertyType = "Rooms"
	PropertyTypeApartment  PropertyType = "Apartment"
	PropertyTypeHouse      PropertyType = "House"
	PropertyTypeHostel     PropertyType = "Hostel"
	PropertyTypeLand       PropertyType = "Land"
	PropertyTypeCommercial PropertyType = "Commercial"
)

// PropertyTypes lists every known property type in display order.
var PropertyTypes = []PropertyType{
	PropertyTypeRooms,
	PropertyTypeApartment,
	PropertyTypeHouse,
	PropertyTypeHostel,
	PropertyTypeLand,
	PropertyTypeCommercial,
}

// Valid reports whether t is empty or a known property type.
func (t PropertyType) Valid() bool {
	if t == "" {
		return true
	}
	for _, known := range PropertyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Amenity is a tag a listing can carry.
type Amenity string

// Known amenities.
const (
	AmenityWiFi              Amenity = "WiFi"
	AmenityAirConditioning   Amenity = "AirConditioning"
	AmenityParking           Amenity = "Parking"
	AmenityWaterSupply       Amenity = "WaterSupply"
	AmenityBackupPower       Amenity = "BackupPower"
	AmenitySecurity          Amenity = "Security"
	AmenityFurnished         Amenity = "Furnished"
	AmenityWasherDryer       Amenity = "WasherDryer"
	AmenityPetsAllowed       Amenity = "PetsAllowed"
	AmenityHighSpeedInternet Amenity = "HighSpeedInternet"
)

// Amenities lists every known amenity.
var Amenities = []Amenity{
	AmenityWiFi,
	AmenityAirConditioning,
	AmenityParking,
	AmenityWaterSupply,
	AmenityBackupPower,
	AmenitySecurity,
	AmenityFurnished,
	AmenityWasherDryer,
	AmenityPetsAllowed,
	AmenityHighSpeedInternet,
}

// Valid reports whether a is a known amenity.
func (a Amenity) Valid() bool {
	for _, known := range Amenities {
		if a == known {
			return true
		}
	}
	return false
}

// Range is an inclusive numeric interval.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r Range) validate(field string, ceiling int) error {
	if r.Min < 0 || r.Max < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrValidation, field)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: %s min %d exceeds max %d", ErrValidation, field, r.Min, r.Max)
	}
	if r.Max > ceiling {
		return fmt.Errorf("%w: %s max %d exceeds %d", ErrValidation, field, r.Max, ceiling)
	}
	return nil
}

// MinCount is a "N or more" constraint for beds and baths. Zero means any.
type MinCount int

// Any is the unconstrained MinCount.
const Any MinCount = 0

// String renders "any" or the count.
func (m MinCount) String() string {
	if m == Any {
		return "any"
	}
	return strconv.Itoa(int(m))
}

// MarshalJSON renders "any" as a string and counts as numbers.
func (m MinCount) MarshalJSON() ([]byte, error) {
	if m == Any {
		return []byte(`"any"`), nil
	}
	return []byte(strconv.Itoa(int(m))), nil
}

// UnmarshalJSON accepts "any", a numeric string or a number.
func (m *MinCount) UnmarshalJSON(b []byte) error {
	parsed, err := ParseMinCount(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMinCount accepts "any", "" or an integer >= 1.
func ParseMinCount(s string) (MinCount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") {
		return Any, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return Any, fmt.Errorf("%w: %q is not \"any\" or a positive integer", ErrValidation, s)
	}
	return MinCount(n), nil
}

// Date is a calendar day. The zero value means any.
type Date struct {
	t time.Time
}

// NewDate truncates t to its calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts "any", "" or an ISO date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q is not an ISO date", ErrValidation, s)
	}
	return Date{t: t}, nil
}

// IsAny reports whether the date is unconstrained.
func (d Date) IsAny() bool { return d.t.IsZero() }

// Time returns the underlying day at midnight UTC.
func (d Date) Time() time.Time { return d.t }

// String renders "any" or the ISO date.
func (d Date) String() string {
	if d.IsAny() {
		return "any"
	}
	return d.t.Format(DateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// State is the user's current search intent. Values are never mutated in
// place; every change produces a new State.
type State struct {
	Location      string       `json:"location"`
	Coordinates   *Coordinates `json:"coordinates"`
	PropertyType  PropertyType `json:"property_type,omitempty"`
	PriceRange    Range        `json:"price_range"`
	SquareFeet    Range        `json:"square_feet"`
	Beds          MinCount     `json:"beds"`
	Baths         MinCount     `json:"baths"`
	Amenities     []Amenity    `json:"amenities"`
	AvailableFrom Date         `json:"available_from"`
}

// Default returns the documented default state.
func Default() State {
	return State{
		PriceRange: DefaultPriceRange(),
		SquareFeet: DefaultSquareFeet(),
		Amenities:  []Amenity{},
	}
}

// DefaultPriceRange is the full price slider range.
func DefaultPriceRange() Range { return Range{Min: 0, Max: MaxPrice} }

// DefaultSquareFeet is the full square footage slider range.
func DefaultSquareFeet() Range { return Range{Min: 0, Max: MaxSquareFeet} }

// Validate checks every field against its domain.
func (s State) Validate() error {
	if s.Coordinates != nil && !s.Coordinates.Valid() {
		return fmt.Errorf("%w: coordinates (%f, %f) out of range",
			ErrValidation, s.Coordinates.Lat, s.Coordinates.Lng)
	}
	if !s.PropertyType.Valid() {
		return fmt.Errorf("%w: unknown property type %q", ErrValidation, s.PropertyType)
	}
	if err := s.PriceRange.validate("price range", MaxPrice); err != nil {
		return err
	}
	if err := s.SquareFeet.validate("square feet", MaxSquareFeet); err != nil {
		return err
	}
	if s.Beds < 0 {
		return fmt.Errorf("%w: beds must be any or at least 1", ErrValidation)
	}
	if s.Baths < 0 {
		return fmt.Errorf("%w: baths must be any or at least 1", ErrValidation)
	}
	for i, a := range s.Amenities {
		if !a.Valid() {
			return fmt.Errorf("%w: unknown amenity %q", ErrValidation, a)
		}
		if i > 0 && s.Amenities[i-1] >= a {
			return fmt.Errorf("%w: amenities must be sorted and unique", ErrValidation)
		}
	}
	return nil
}

// IsDefault reports whether s equals the default state.
func (s State) IsDefault() bool {
	return s.Key() == Default().Key()
}

// HasCoordinates reports whether a location has been resolved.
func (s State) HasCoordinates() bool { return s.Coordinates != nil }

// Key is a canonical identity of every query-relevant field. Two states with
// the same key produce the same property query.
func (s State) Key() string {
	var b strings.Builder
	// Location is free text; quoting keeps delimiters inside it inert.
	b.WriteString("loc=")
	b.WriteString(strconv.Quote(s.Location))
	b.WriteString("|coords=")
	if s.Coordinates != nil {
		b.WriteString(strconv.FormatFloat(s.Coordinates.Lat, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(s.Coordinates.Lng, 'f', -1, 64))
	}
	fmt.Fprintf(&b, "|type=%s|price=%d-%d|sqft=%d-%d|beds=%s|baths=%s|amenities=",
		s.PropertyType, s.PriceRange.Min, s.PriceRange.Max,
		s.SquareFeet.Min, s.SquareFeet.Max, s.Beds, s.Baths)
	for i, a := range s.Amenities {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(a))
	}
	b.WriteString("|from=")
	b.WriteString(s.AvailableFrom.String())
	return b.String()
}

// clone returns a deep copy so the receiver's slices and pointers are never shared.
func (s State) clone() State {
	out := s
	if s.Coordinates != nil {
		c := *s.Coordinates
		out.Coordinates = &c
	}
	out.Amenities = append([]Amenity{}, s.Amenities...)
	return out
}

// NormalizeAmenities sorts and deduplicates a list of amenities.
func NormalizeAmenities(in []Amenity) []Amenity {
	seen := make(map[Amenity]struct{}, len(in))
	out := make([]Amenity, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
