package models

import (
	"time"
)

// LatLng is a property's position as the property API reports it.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location describes where a property is.
type Location struct {
	Address     string  `json:"address"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	Country     string  `json:"country"`
	PostalCode  string  `json:"postalCode,omitempty"`
	Coordinates *LatLng `json:"coordinates,omitempty"`
}

// Property is a rental listing sourced from the property API. The service
// never modifies properties; it only derives sorted pages and map markers
// from them.
type Property struct {
	PostedDate      time.Time `json:"postedDate"`
	Location        Location  `json:"location"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	PropertyType    string    `json:"propertyType"`
	Amenities       []string  `json:"amenities,omitempty"`
	PhotoURLs       []string  `json:"photoUrls,omitempty"`
	PricePerMonth   float64   `json:"pricePerMonth"`
	Baths           float64   `json:"baths"`
	AverageRating   float64   `json:"averageRating"`
	ID              int       `json:"id"`
	Beds            int       `json:"beds"`
	SquareFeet      int       `json:"squareFeet"`
	NumberOfReviews int       `json:"numberOfReviews"`
}

// Point returns the property's map position. The second result is false when
// the property has no coordinates and cannot be placed on a map.
func (p Property) Point() (Point, bool) {
	if p.Location.Coordinates == nil {
		return Point{}, false
	}
	return Point{
		Lng: p.Location.Coordinates.Longitude,
		Lat: p.Location.Coordinates.Latitude,
	}, true
}
