package querysync

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/stwalsh4118/homefinder/api/internal/filter"
)

// URL query parameter names, one per filter field.
const (
	ParamLocation      = "location"
	ParamLat           = "lat"
	ParamLng           = "lng"
	ParamPropertyType  = "propertyType"
	ParamPriceRange    = "priceRange"
	ParamSquareFeet    = "squareFeet"
	ParamBeds          = "beds"
	ParamBaths         = "baths"
	ParamAmenities     = "amenities"
	ParamAvailableFrom = "availableFrom"
)

// Encode serializes s into query parameters. Fields equal to their default
// are omitted, so the default state encodes to an empty set.
func Encode(s filter.State) url.Values {
	v := url.Values{}

	if s.Location != "" {
		v.Set(ParamLocation, s.Location)
	}
	if s.Coordinates != nil {
		v.Set(ParamLat, formatFloat(s.Coordinates.Lat))
		v.Set(ParamLng, formatFloat(s.Coordinates.Lng))
	}
	if s.PropertyType != "" {
		v.Set(ParamPropertyType, string(s.PropertyType))
	}
	if s.PriceRange != filter.DefaultPriceRange() {
		v.Set(ParamPriceRange, formatRange(s.PriceRange))
	}
	if s.SquareFeet != filter.DefaultSquareFeet() {
		v.Set(ParamSquareFeet, formatRange(s.SquareFeet))
	}
	if s.Beds != filter.Any {
		v.Set(ParamBeds, s.Beds.String())
	}
	if s.Baths != filter.Any {
		v.Set(ParamBaths, s.Baths.String())
	}
	if len(s.Amenities) > 0 {
		tags := make([]string, len(s.Amenities))
		for i, a := range s.Amenities {
			tags[i] = string(a)
		}
		v.Set(ParamAmenities, strings.Join(tags, ","))
	}
	if !s.AvailableFrom.IsAny() {
		v.Set(ParamAvailableFrom, s.AvailableFrom.String())
	}

	return v
}

// Query returns the encoded query string for s, without a leading "?".
func Query(s filter.State) string {
	return Encode(s).Encode()
}

// URL joins path with the encoded query for s.
func URL(path string, s filter.State) string {
	q := Query(s)
	if q == "" {
		return path
	}
	return path + "?" + q
}

// Parse decodes a raw query string. See Decode.
func Parse(rawQuery string) (filter.State, error) {
	v, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		return filter.Default(), fmt.Errorf("malformed query %q: %w", rawQuery, err)
	}
	return Decode(v)
}

// Decode builds a state from query parameters. Decoding is lenient: a field
// that fails to parse or violates its domain keeps its default value and is
// reported in the returned error. The returned state is always valid.
func Decode(v url.Values) (filter.State, error) {
	s := filter.Default()
	var errs []error

	apply := func(param string, action filter.Action) {
		next, err := filter.Reduce(s, action)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", param, err))
			return
		}
		s = next
	}

	if loc := strings.TrimSpace(v.Get(ParamLocation)); loc != "" {
		apply(ParamLocation, filter.SetLocation{Location: loc})
	}

	if v.Has(ParamLat) || v.Has(ParamLng) {
		coords, err := parseCoordinates(v.Get(ParamLat), v.Get(ParamLng))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", ParamLat, ParamLng, err))
		} else {
			apply(ParamLat, filter.ResolveLocation{Location: s.Location, Coordinates: coords})
		}
	}

	if pt := strings.TrimSpace(v.Get(ParamPropertyType)); pt != "" {
		apply(ParamPropertyType, filter.SetPropertyType{PropertyType: filter.PropertyType(pt)})
	}

	if raw := v.Get(ParamPriceRange); raw != "" {
		r, err := parseRange(raw, filter.DefaultPriceRange())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ParamPriceRange, err))
		} else {
			apply(ParamPriceRange, filter.SetPriceRange{Range: r})
		}
	}

	if raw := v.Get(ParamSquareFeet); raw != "" {
		r, err := parseRange(raw, filter.DefaultSquareFeet())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ParamSquareFeet, err))
		} else {
			apply(ParamSquareFeet, filter.SetSquareFeet{Range: r})
		}
	}

	if raw := v.Get(ParamBeds); raw != "" {
		n, err := filter.ParseMinCount(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ParamBeds, err))
		} else {
			apply(ParamBeds, filter.SetBeds{Beds: n})
		}
	}

	if raw := v.Get(ParamBaths); raw != "" {
		n, err := filter.ParseMinCount(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ParamBaths, err))
		} else {
			apply(ParamBaths, filter.SetBaths{Baths: n})
		}
	}

	if raw := v.Get(ParamAmenities); raw != "" {
		seen := make(map[filter.Amenity]bool)
		for _, tag := range strings.Split(raw, ",") {
			a := filter.Amenity(strings.TrimSpace(tag))
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			apply(ParamAmenities, filter.ToggleAmenity{Amenity: a})
		}
	}

	if raw := v.Get(ParamAvailableFrom); raw != "" {
		d, err := filter.ParseDate(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ParamAvailableFrom, err))
		} else {
			apply(ParamAvailableFrom, filter.SetAvailableFrom{Date: d})
		}
	}

	return s, errors.Join(errs...)
}

func parseCoordinates(lat, lng string) (filter.Coordinates, error) {
	if lat == "" || lng == "" {
		return filter.Coordinates{}, fmt.Errorf("%w: lat and lng must be given together", filter.ErrValidation)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return filter.Coordinates{}, fmt.Errorf("%w: bad latitude %q", filter.ErrValidation, lat)
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return filter.Coordinates{}, fmt.Errorf("%w: bad longitude %q", filter.ErrValidation, lng)
	}
	return filter.Coordinates{Lat: la, Lng: ln}, nil
}

// parseRange reads "min,max". An empty side keeps the fallback bound.
func parseRange(raw string, fallback filter.Range) (filter.Range, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return fallback, fmt.Errorf("%w: range %q must be \"min,max\"", filter.ErrValidation, raw)
	}
	r := fallback
	if p := strings.TrimSpace(parts[0]); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fallback, fmt.Errorf("%w: bad range minimum %q", filter.ErrValidation, p)
		}
		r.Min = n
	}
	if p := strings.TrimSpace(parts[1]); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fallback, fmt.Errorf("%w: bad range maximum %q", filter.ErrValidation, p)
		}
		r.Max = n
	}
	return r, nil
}

func formatRange(r filter.Range) string {
	return strconv.Itoa(r.Min) + "," + strconv.Itoa(r.Max)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
