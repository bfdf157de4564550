package models

// Bounds is a lat/lng rectangle given by its south-west and north-east corners.
type Bounds struct {
	SW LatLng `json:"sw"`
	NE LatLng `json:"ne"`
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p LatLng) bool {
	return p.Latitude >= b.SW.Latitude && p.Latitude <= b.NE.Latitude &&
		p.Longitude >= b.SW.Longitude && p.Longitude <= b.NE.Longitude
}

// Clamp returns p moved to the nearest point inside b.
func (b Bounds) Clamp(p LatLng) LatLng {
	return LatLng{
		Latitude:  clamp(p.Latitude, b.SW.Latitude, b.NE.Latitude),
		Longitude: clamp(p.Longitude, b.SW.Longitude, b.NE.Longitude),
	}
}

// ServiceArea covers the Western Region of Ghana around Tarkwa.
var ServiceArea = Bounds{
	SW: LatLng{Latitude: 4.5, Longitude: -3.2},
	NE: LatLng{Latitude: 5.8, Longitude: -1.5},
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
