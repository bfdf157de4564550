package models

import (
	"encoding/json"
	"fmt"
)

// Point is a GeoJSON Point in WGS84. GeoJSON orders coordinates as
// [longitude, latitude]; the struct fields keep the names explicit so callers
// cannot swap them.
type Point struct {
	Lng float64
	Lat float64
}

// MarshalJSON implements json.Marshaler and emits a GeoJSON Point.
func (p Point) MarshalJSON() ([]byte, error) {
	geom := struct {
		Type        string     `json:"type"`
		Coordinates [2]float64 `json:"coordinates"`
	}{
		Type:        "Point",
		Coordinates: [2]float64{p.Lng, p.Lat},
	}
	return json.Marshal(geom)
}

// UnmarshalJSON implements json.Unmarshaler for GeoJSON Point input.
func (p *Point) UnmarshalJSON(data []byte) error {
	var geom struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}

	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal point: %w", err)
	}

	if geom.Type != "" && geom.Type != "Point" {
		return fmt.Errorf("expected Point type, got %s", geom.Type)
	}
	if len(geom.Coordinates) != 2 {
		return fmt.Errorf("point must have exactly 2 coordinates, got %d", len(geom.Coordinates))
	}

	p.Lng = geom.Coordinates[0]
	p.Lat = geom.Coordinates[1]

	return nil
}

// Feature is a GeoJSON Feature with a Point geometry.
type Feature struct {
	ID         string                 `json:"id"`
	Geometry   Point                  `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// MarshalJSON implements json.Marshaler and adds the GeoJSON type member.
func (f Feature) MarshalJSON() ([]byte, error) {
	type feature Feature
	return json.Marshal(struct {
		Type string `json:"type"`
		feature
	}{
		Type:    "Feature",
		feature: feature(f),
	})
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Features []Feature `json:"features"`
}

// MarshalJSON implements json.Marshaler. An empty collection encodes its
// features as [] rather than null.
func (fc FeatureCollection) MarshalJSON() ([]byte, error) {
	features := fc.Features
	if features == nil {
		features = []Feature{}
	}
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}{
		Type:     "FeatureCollection",
		Features: features,
	})
}
