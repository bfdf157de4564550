package mapsync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// Fallbacks for the details page when the listing omits its address.
const (
	defaultCity    = "Tarkwa"
	defaultState   = "Western Region"
	defaultCountry = "Ghana"
)

// Details is everything the property details page renders around one
// property: its header, a single-marker map and the outbound links.
type Details struct {
	Property models.Property `json:"property"`
	Popup    Popup           `json:"popup"`
	Address  string          `json:"address"`
	Region   string          `json:"region"`
	// Camera, Marker, Coordinates and DirectionsURL are unset when the
	// property has no coordinates.
	Camera        *Camera         `json:"camera,omitempty"`
	Marker        *models.Feature `json:"marker,omitempty"`
	Coordinates   string          `json:"coordinates,omitempty"`
	DirectionsURL string          `json:"directionsUrl,omitempty"`
	ShareURL      string          `json:"shareUrl"`
}

// DetailsFor builds the details page of p.
func DetailsFor(p models.Property) Details {
	city := orDefault(p.Location.City, defaultCity)
	region := city + ", " + orDefault(p.Location.State, defaultState) + ", " +
		orDefault(p.Location.Country, defaultCountry)

	d := Details{
		Property: p,
		Popup:    PopupFor(p),
		Address:  orDefault(p.Location.Address, region),
		Region:   region,
	}

	var directions string
	if b, ok := NewBinding(p); ok {
		c := p.Location.Coordinates
		d.Camera = &Camera{Center: *c, Zoom: SelectZoom}
		marker := markerFeature(b)
		d.Marker = &marker
		d.Coordinates = fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
		directions = directionsURL(*c)
		d.DirectionsURL = directions
	}
	d.ShareURL = shareURL(d.Popup.Title, orDefault(p.Location.Address, city+", "+defaultCountry), directions)
	return d
}

// directionsURL opens c in Google Maps.
func directionsURL(c models.LatLng) string {
	q := strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
	u := url.URL{
		Scheme:   "https",
		Host:     "maps.google.com",
		Path:     "/",
		RawQuery: url.Values{"q": {q}}.Encode(),
	}
	return u.String()
}

// shareURL is a WhatsApp link that forwards the property to a contact.
func shareURL(name, address, directions string) string {
	lines := []string{
		"Check out this property in " + defaultCity + ": " + name,
		"Location: " + address,
	}
	if directions != "" {
		lines = append(lines, "View on map: "+directions)
	}
	u := url.URL{
		Scheme:   "https",
		Host:     "wa.me",
		Path:     "/",
		RawQuery: url.Values{"text": {strings.Join(lines, "\n")}}.Encode(),
	}
	return u.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
