package mapsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// ErrNotLoaded is returned by LayerAdapter calls made before Load or after
// Destroy.
var ErrNotLoaded = errors.New("mapsync: layer not loaded")

// Landmark is a labelled town or campus drawn under the markers.
type Landmark struct {
	Name   string
	Icon   string
	Center models.LatLng
}

// Landmarks of the Western Region.
var Landmarks = []Landmark{
	{Name: "Tarkwa", Icon: "🏭", Center: models.LatLng{Latitude: 5.3068, Longitude: -1.9856}},
	{Name: "Takoradi", Icon: "🌊", Center: models.LatLng{Latitude: 4.9016, Longitude: -1.7831}},
	{Name: "Sekondi", Icon: "⚓", Center: models.LatLng{Latitude: 4.9431, Longitude: -1.7040}},
	{Name: "Axim", Icon: "🏖️", Center: models.LatLng{Latitude: 4.8690, Longitude: -2.2405}},
	{Name: "UMaT", Icon: "🎓", Center: models.LatLng{Latitude: 5.2983, Longitude: -1.9556}},
}

// Layer is a renderable map: GeoJSON markers and landmarks plus the camera.
type Layer struct {
	Version   uint64                   `json:"version"`
	Loaded    bool                     `json:"loaded"`
	Camera    Camera                   `json:"camera"`
	MaxBounds models.Bounds            `json:"maxBounds"`
	Markers   models.FeatureCollection `json:"markers"`
	Landmarks models.FeatureCollection `json:"landmarks"`
}

// LayerListener receives every published Layer.
type LayerListener func(l Layer)

// LayerAdapter renders the map as GeoJSON for web clients. Changes are
// batched and published on Flush; Destroy publishes immediately.
type LayerAdapter struct {
	mu        sync.Mutex
	loaded    bool
	camera    Camera
	bounds    models.Bounds
	markers   map[int]models.Feature
	version   uint64
	dirty     bool
	listeners []LayerListener
}

// NewLayerAdapter creates an unloaded LayerAdapter.
func NewLayerAdapter() *LayerAdapter {
	return &LayerAdapter{
		camera:  DefaultCamera(),
		bounds:  MaxBounds,
		markers: make(map[int]models.Feature),
	}
}

// OnChange registers a listener. Listeners run synchronously and must not
// call back into the adapter.
func (a *LayerAdapter) OnChange(l LayerListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Load implements Adapter.
func (a *LayerAdapter) Load(ctx context.Context, camera Camera, maxBounds models.Bounds) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.loaded = true
	a.camera = camera
	a.bounds = maxBounds
	a.dirty = true
	return nil
}

// AddMarker implements Adapter.
func (a *LayerAdapter) AddMarker(b Binding) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return ErrNotLoaded
	}
	if _, ok := a.markers[b.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateMarker, b.ID)
	}
	a.markers[b.ID] = markerFeature(b)
	a.dirty = true
	return nil
}

// RemoveMarker implements Adapter.
func (a *LayerAdapter) RemoveMarker(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return ErrNotLoaded
	}
	if _, ok := a.markers[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMarker, id)
	}
	delete(a.markers, id)
	a.dirty = true
	return nil
}

// UpdatePopup implements Adapter.
func (a *LayerAdapter) UpdatePopup(id int, p Popup) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return ErrNotLoaded
	}
	f, ok := a.markers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMarker, id)
	}

	props := make(map[string]interface{}, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	props["popup"] = p
	props["favorite"] = p.Favorite
	props["hot"] = p.Hot
	f.Properties = props

	a.markers[id] = f
	a.dirty = true
	return nil
}

// FlyTo implements Adapter.
func (a *LayerAdapter) FlyTo(c Camera) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		return ErrNotLoaded
	}
	if a.camera != c {
		a.camera = c
		a.dirty = true
	}
	return nil
}

// Destroy implements Adapter.
func (a *LayerAdapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loaded = false
	a.markers = make(map[int]models.Feature)
	a.dirty = true
	a.publishLocked()
	return nil
}

// Flush publishes the layer if anything changed since the last publish.
func (a *LayerAdapter) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dirty {
		a.publishLocked()
	}
}

// Snapshot returns the current layer.
func (a *LayerAdapter) Snapshot() Layer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.layerLocked()
}

func (a *LayerAdapter) publishLocked() {
	a.version++
	a.dirty = false
	layer := a.layerLocked()
	for _, l := range a.listeners {
		l(layer)
	}
}

func (a *LayerAdapter) layerLocked() Layer {
	ids := make([]int, 0, len(a.markers))
	for id := range a.markers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	markers := make([]models.Feature, 0, len(ids))
	for _, id := range ids {
		markers = append(markers, a.markers[id])
	}

	landmarks := []models.Feature{}
	if a.loaded {
		landmarks = landmarkFeatures()
	}

	return Layer{
		Version:   a.version,
		Loaded:    a.loaded,
		Camera:    a.camera,
		MaxBounds: a.bounds,
		Markers:   models.FeatureCollection{Features: markers},
		Landmarks: models.FeatureCollection{Features: landmarks},
	}
}

func markerFeature(b Binding) models.Feature {
	return models.Feature{
		ID:       fmt.Sprintf("property-%d", b.ID),
		Geometry: b.Point,
		Properties: map[string]interface{}{
			"kind":     "property",
			"id":       b.ID,
			"color":    b.Style.Color,
			"icon":     b.Style.Icon,
			"hot":      b.Popup.Hot,
			"favorite": b.Popup.Favorite,
			"popup":    b.Popup,
		},
	}
}

func landmarkFeatures() []models.Feature {
	features := make([]models.Feature, 0, len(Landmarks))
	for _, l := range Landmarks {
		features = append(features, models.Feature{
			ID:       "landmark-" + strings.ToLower(l.Name),
			Geometry: models.Point{Lng: l.Center.Longitude, Lat: l.Center.Latitude},
			Properties: map[string]interface{}{
				"kind":  "landmark",
				"name":  l.Name,
				"icon":  l.Icon,
				"label": l.Icon + " " + l.Name,
			},
		})
	}
	return features
}

var (
	_ Adapter = (*LayerAdapter)(nil)
	_ Flusher = (*LayerAdapter)(nil)
)
