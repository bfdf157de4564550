// Package mapsync keeps a map view consistent with the result list: one
// marker per located property, a camera that follows the committed filter,
// and a viewport held inside the service area.
package mapsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// Zoom levels.
const (
	DefaultZoom = 11.0
	FilterZoom  = 13.0
	SelectZoom  = 15.0
	MinZoom     = 8.0
	MaxZoom     = 18.0
)

// DefaultCenter is Tarkwa.
var DefaultCenter = models.LatLng{Latitude: 5.3068, Longitude: -1.9856}

// MaxBounds limits panning to the service area.
var MaxBounds = models.ServiceArea

var (
	ErrAlreadyInitialized = errors.New("mapsync: map already initialized")
	ErrNotReady           = errors.New("mapsync: map not ready")
	ErrDisposed           = errors.New("mapsync: map disposed")
	ErrUnknownMarker      = errors.New("mapsync: unknown marker")
	ErrDuplicateMarker    = errors.New("mapsync: duplicate marker")
)

// State is the engine lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateDisposed      State = "disposed"
)

// Camera is a map viewport.
type Camera struct {
	Center models.LatLng `json:"center"`
	Zoom   float64       `json:"zoom"`
}

// DefaultCamera is the initial and reset viewport.
func DefaultCamera() Camera {
	return Camera{Center: DefaultCenter, Zoom: DefaultZoom}
}

// Adapter isolates the map SDK. The Engine is its only caller and never
// calls it concurrently, except that Destroy may run while Load is blocked.
type Adapter interface {
	Load(ctx context.Context, camera Camera, maxBounds models.Bounds) error
	AddMarker(b Binding) error
	RemoveMarker(id int) error
	UpdatePopup(id int, p Popup) error
	FlyTo(c Camera) error
	Destroy() error
}

// Flusher is implemented by adapters that batch changes. The Engine calls
// Flush once after each operation.
type Flusher interface {
	Flush()
}

// Snapshot describes the engine for clients.
type Snapshot struct {
	State   State  `json:"state"`
	Camera  Camera `json:"camera"`
	Markers []int  `json:"markers"`
	Pending bool   `json:"pending"`
}

// Engine is safe for concurrent use.
type Engine struct {
	adapter Adapter
	log     *logger.Logger

	mu         sync.Mutex
	state      State
	camera     Camera
	flyTarget  *Camera
	lastCoords *filter.Coordinates
	bindings   map[int]Binding
	pending    []models.Property
	hasPending bool
	favorites  map[int]bool
}

// NewEngine creates an uninitialized Engine driving adapter.
func NewEngine(adapter Adapter, log *logger.Logger) *Engine {
	return &Engine{
		adapter:   adapter,
		log:       log.WithComponent("mapsync"),
		state:     StateUninitialized,
		camera:    DefaultCamera(),
		bindings:  make(map[int]Binding),
		favorites: make(map[int]bool),
	}
}

// Init loads the map centered on initial, or on DefaultCenter when initial is
// nil, and blocks until it is ready. The map is loaded at most once; a failed
// load may be retried. Markers synced while loading are placed once ready,
// and a located filter flies the camera in.
func (e *Engine) Init(ctx context.Context, initial *filter.Coordinates) error {
	e.mu.Lock()
	switch e.state {
	case StateDisposed:
		e.mu.Unlock()
		return ErrDisposed
	case StateLoading, StateReady:
		e.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if initial != nil {
		c := *initial
		e.lastCoords = &c
		e.camera = Camera{Center: clampCenter(c), Zoom: DefaultZoom}
		e.flyTarget = &Camera{Center: clampCenter(c), Zoom: FilterZoom}
	}
	e.state = StateLoading
	cam := e.camera
	e.mu.Unlock()

	err := e.adapter.Load(ctx, cam, MaxBounds)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return ErrDisposed
	}
	if err != nil {
		e.state = StateUninitialized
		return fmt.Errorf("load map: %w", err)
	}
	e.state = StateReady
	e.log.Debug("Map ready", map[string]interface{}{
		"lat":  cam.Center.Latitude,
		"lng":  cam.Center.Longitude,
		"zoom": cam.Zoom,
	})

	var errs []error
	if e.flyTarget != nil {
		if err := e.flyToLocked(*e.flyTarget); err != nil {
			errs = append(errs, err)
		}
		e.flyTarget = nil
	}
	if e.hasPending {
		props := e.pending
		e.pending, e.hasPending = nil, false
		if err := e.applyLocked(props); err != nil {
			errs = append(errs, err)
		}
	}
	e.flush()
	return errors.Join(errs...)
}

// Sync makes the markers match props. Before the map is ready the set is
// held and applied on ready; only the latest set is kept.
func (e *Engine) Sync(props []models.Property) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return ErrDisposed
	case StateReady:
		err := e.applyLocked(props)
		e.flush()
		return err
	default:
		e.pending = append([]models.Property(nil), props...)
		e.hasPending = true
		return nil
	}
}

// OnFilterChange flies to the filter's coordinates at FilterZoom when they
// differ from the last seen coordinates. Clearing the coordinates leaves the
// camera where it is.
func (e *Engine) OnFilterChange(s filter.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return ErrDisposed
	}
	if s.Coordinates == nil {
		e.lastCoords = nil
		return nil
	}
	if e.lastCoords != nil && *e.lastCoords == *s.Coordinates {
		return nil
	}

	c := *s.Coordinates
	e.lastCoords = &c
	target := Camera{Center: clampCenter(c), Zoom: FilterZoom}

	if e.state != StateReady {
		e.flyTarget = &target
		return nil
	}
	err := e.flyToLocked(target)
	e.flush()
	return err
}

// Select centers the camera on a placed marker. The filter is not touched.
func (e *Engine) Select(id int) (Camera, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.readyLocked(); err != nil {
		return e.camera, err
	}
	b, ok := e.bindings[id]
	if !ok {
		return e.camera, fmt.Errorf("%w: %d", ErrUnknownMarker, id)
	}

	err := e.flyToLocked(Camera{
		Center: models.LatLng{Latitude: b.Point.Lat, Longitude: b.Point.Lng},
		Zoom:   SelectZoom,
	})
	e.flush()
	return e.camera, err
}

// Pan moves the camera as the user does, held inside MaxBounds and the zoom
// range. It returns the camera actually applied.
func (e *Engine) Pan(c Camera) (Camera, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.readyLocked(); err != nil {
		return e.camera, err
	}

	err := e.flyToLocked(Camera{
		Center: MaxBounds.Clamp(c.Center),
		Zoom:   clampZoom(c.Zoom),
	})
	e.flush()
	return e.camera, err
}

// ResetView returns to the default camera.
func (e *Engine) ResetView() (Camera, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.readyLocked(); err != nil {
		return e.camera, err
	}
	err := e.flyToLocked(DefaultCamera())
	e.flush()
	return e.camera, err
}

// SetFavorite updates the favorite flag shown in a marker's popup. The flag
// is remembered for markers placed later.
func (e *Engine) SetFavorite(id int, fav bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fav {
		e.favorites[id] = true
	} else {
		delete(e.favorites, id)
	}

	if e.state != StateReady {
		return nil
	}
	b, ok := e.bindings[id]
	if !ok || b.Popup.Favorite == fav {
		return nil
	}
	b.Popup.Favorite = fav
	if err := e.adapter.UpdatePopup(id, b.Popup); err != nil {
		return fmt.Errorf("update popup %d: %w", id, err)
	}
	e.bindings[id] = b
	e.flush()
	return nil
}

// Dispose tears the map down. Calling it again does nothing.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return nil
	}
	loaded := e.state != StateUninitialized
	e.state = StateDisposed
	e.bindings = make(map[int]Binding)
	e.pending, e.hasPending = nil, false
	e.flyTarget = nil

	if !loaded {
		return nil
	}
	if err := e.adapter.Destroy(); err != nil {
		return fmt.Errorf("destroy map: %w", err)
	}
	return nil
}

// Snapshot returns the current state, camera and placed marker ids.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int, 0, len(e.bindings))
	for id := range e.bindings {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return Snapshot{
		State:   e.state,
		Camera:  e.camera,
		Markers: ids,
		Pending: e.hasPending,
	}
}

// applyLocked must be called with mu held and the map ready. Markers the
// adapter rejects are left unbound and reported.
func (e *Engine) applyLocked(props []models.Property) error {
	diff := Reconcile(e.bindings, props)
	if diff.Empty() {
		return nil
	}

	var errs []error
	for _, id := range diff.ToRemove {
		if err := e.adapter.RemoveMarker(id); err != nil {
			errs = append(errs, fmt.Errorf("remove marker %d: %w", id, err))
		}
		delete(e.bindings, id)
	}
	for _, b := range diff.ToUpdate {
		b.Popup.Favorite = e.favorites[b.ID]
		if err := e.adapter.UpdatePopup(b.ID, b.Popup); err != nil {
			errs = append(errs, fmt.Errorf("update popup %d: %w", b.ID, err))
			continue
		}
		e.bindings[b.ID] = b
	}
	for _, p := range diff.ToAdd {
		b, _ := NewBinding(p)
		b.Popup.Favorite = e.favorites[b.ID]
		if err := e.adapter.AddMarker(b); err != nil {
			errs = append(errs, fmt.Errorf("add marker %d: %w", b.ID, err))
			continue
		}
		e.bindings[b.ID] = b
	}

	e.log.Debug("Reconciled markers", map[string]interface{}{
		"added":   len(diff.ToAdd),
		"removed": len(diff.ToRemove),
		"updated": len(diff.ToUpdate),
		"markers": len(e.bindings),
	})
	return errors.Join(errs...)
}

func (e *Engine) flyToLocked(c Camera) error {
	if err := e.adapter.FlyTo(c); err != nil {
		return fmt.Errorf("fly to: %w", err)
	}
	e.camera = c
	return nil
}

func (e *Engine) readyLocked() error {
	switch e.state {
	case StateReady:
		return nil
	case StateDisposed:
		return ErrDisposed
	default:
		return ErrNotReady
	}
}

func (e *Engine) flush() {
	if f, ok := e.adapter.(Flusher); ok {
		f.Flush()
	}
}

func clampCenter(c filter.Coordinates) models.LatLng {
	return MaxBounds.Clamp(models.LatLng{Latitude: c.Lat, Longitude: c.Lng})
}

func clampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}
