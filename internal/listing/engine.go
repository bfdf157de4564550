// Package listing owns the result list of a discovery session: fetching
// properties for the committed filter, client-side sorting, pagination and
// the favorite overlay.
package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/metrics"
	"github.com/stwalsh4118/homefinder/api/internal/models"
	"github.com/stwalsh4118/homefinder/api/internal/propertyapi"
)

// ItemsPerPage is the page size of the result list.
const ItemsPerPage = 10

// MsgUnavailable is shown when the property query fails.
const MsgUnavailable = "Something went wrong. Please try again."

// ErrStaleResponse is returned by Refresh when a newer request superseded it.
// Callers ignore it.
var ErrStaleResponse = errors.New("listing: stale response")

// Source is the property query boundary. Result order is unspecified.
type Source interface {
	Fetch(ctx context.Context, s filter.State) ([]models.Property, error)
}

// Status is the lifecycle of the current result set.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Item is a property with the viewer's favorite flag.
type Item struct {
	models.Property
	IsFavorite bool `json:"isFavorite"`
}

// View is one rendered page of the result list.
type View struct {
	Status      Status  `json:"status"`
	Items       []Item  `json:"items"`
	Total       int     `json:"total"`
	CurrentPage int     `json:"currentPage"`
	TotalPages  int     `json:"totalPages"`
	Sort        SortKey `json:"sort"`
	Heading     string  `json:"heading"`
	Message     string  `json:"message,omitempty"`
	Generation  uint64  `json:"generation"`
}

// ResultListener receives the full sorted result set whenever it changes.
type ResultListener func(props []models.Property)

// ViewListener receives every published view.
type ViewListener func(v View)

// Engine is safe for concurrent use. Listeners run synchronously, in
// publication order, and must not call back into the Engine.
type Engine struct {
	src Source
	log *logger.Logger

	// pubMu orders state changes with their notifications.
	pubMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	lastKey   string
	requested bool
	status    Status
	message   string
	location  string
	results   []models.Property
	sort      SortKey
	page      int
	favorites map[int]bool

	resultListeners []ResultListener
	viewListeners   []ViewListener
}

// NewEngine creates an idle Engine reading from src.
func NewEngine(src Source, log *logger.Logger) *Engine {
	return &Engine{
		src:       src,
		log:       log.WithComponent("listing"),
		status:    StatusIdle,
		results:   []models.Property{},
		sort:      DefaultSort,
		page:      1,
		favorites: make(map[int]bool),
	}
}

// OnResults registers a listener for result set changes.
func (e *Engine) OnResults(l ResultListener) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.resultListeners = append(e.resultListeners, l)
}

// OnView registers a listener for published views.
func (e *Engine) OnView(l ViewListener) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.viewListeners = append(e.viewListeners, l)
}

// Refresh fetches properties for s unless s is the state last requested.
// It blocks for the fetch. When a later request was issued meanwhile, the
// response is dropped and ErrStaleResponse returned. A NotFound from the
// source is an empty result set; any other failure leaves the view failed
// with an empty result set and is returned, and the next Refresh for the
// same state fetches again.
func (e *Engine) Refresh(ctx context.Context, s filter.State) error {
	return e.Start(s)(ctx)
}

// Start records s as the latest request and publishes the loading view. The
// returned function performs the fetch and may run on another goroutine;
// calling Start in commit order is enough for the last commit to win.
func (e *Engine) Start(s filter.State) func(ctx context.Context) error {
	key := s.Key()

	e.pubMu.Lock()
	e.mu.Lock()
	if e.requested && key == e.lastKey {
		e.mu.Unlock()
		e.pubMu.Unlock()
		return func(context.Context) error { return nil }
	}
	e.requested = true
	e.lastKey = key
	e.gen++
	gen := e.gen
	e.status = StatusLoading
	e.message = ""
	e.location = s.Location
	view := e.viewLocked()
	e.mu.Unlock()
	e.publishView(view)
	e.pubMu.Unlock()

	return func(ctx context.Context) error {
		return e.complete(ctx, s, gen)
	}
}

func (e *Engine) complete(ctx context.Context, s filter.State, gen uint64) error {
	props, err := e.src.Fetch(ctx, s)

	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if latest := e.gen; gen != latest {
		e.mu.Unlock()
		metrics.ObserveStale()
		e.log.Debug("Discarded stale listing response", map[string]interface{}{
			"generation": gen,
			"latest":     latest,
		})
		return ErrStaleResponse
	}

	switch {
	case err == nil, errors.Is(err, propertyapi.ErrNotFound):
		err = nil
		e.status = StatusReady
		e.results = Sort(props, e.sort)
	case ctx.Err() != nil:
		// The session is going away; nothing is published.
		e.requested = false
		e.mu.Unlock()
		return ctx.Err()
	default:
		// Failed requests stay retryable with the same state.
		e.requested = false
		e.status = StatusFailed
		e.message = MsgUnavailable
		e.results = []models.Property{}
		e.log.Warn("Listing refresh failed", map[string]interface{}{
			"generation": gen,
			"error":      err.Error(),
		})
		err = fmt.Errorf("refresh listing: %w", err)
	}
	e.page = 1
	results := append([]models.Property(nil), e.results...)
	view := e.viewLocked()
	e.mu.Unlock()

	for _, l := range e.resultListeners {
		l(results)
	}
	e.publishView(view)
	return err
}

// SetSort re-sorts the current results and returns to page 1.
func (e *Engine) SetSort(key SortKey) (View, error) {
	key, err := ParseSortKey(string(key))
	if err != nil {
		return e.View(), err
	}

	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if key != e.sort {
		e.sort = key
		e.results = Sort(e.results, key)
		e.page = 1
	}
	view := e.viewLocked()
	e.mu.Unlock()

	e.publishView(view)
	return view, nil
}

// SetPage moves to page n, clamped into [1, TotalPages].
func (e *Engine) SetPage(n int) View {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	e.page = clampPage(n, totalPages(len(e.results)))
	view := e.viewLocked()
	e.mu.Unlock()

	e.publishView(view)
	return view
}

// SetFavorite updates the favorite overlay for one property.
func (e *Engine) SetFavorite(id int, fav bool) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if e.favorites[id] == fav {
		e.mu.Unlock()
		return
	}
	if fav {
		e.favorites[id] = true
	} else {
		delete(e.favorites, id)
	}
	view := e.viewLocked()
	e.mu.Unlock()

	e.publishView(view)
}

// View returns the current page.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Results returns the full sorted result set.
func (e *Engine) Results() []models.Property {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Property(nil), e.results...)
}

func (e *Engine) publishView(v View) {
	for _, l := range e.viewListeners {
		l(v)
	}
}

// viewLocked must be called with mu held.
func (e *Engine) viewLocked() View {
	pages := totalPages(len(e.results))
	page := clampPage(e.page, pages)

	start := (page - 1) * ItemsPerPage
	end := start + ItemsPerPage
	if end > len(e.results) {
		end = len(e.results)
	}

	items := make([]Item, 0, end-start)
	for _, p := range e.results[start:end] {
		items = append(items, Item{Property: p, IsFavorite: e.favorites[p.ID]})
	}

	return View{
		Status:      e.status,
		Items:       items,
		Total:       len(e.results),
		CurrentPage: page,
		TotalPages:  pages,
		Sort:        e.sort,
		Heading:     heading(len(e.results), e.location),
		Message:     e.message,
		Generation:  e.gen,
	}
}

// totalPages is never below 1, so an empty list still has a current page.
func totalPages(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + ItemsPerPage - 1) / ItemsPerPage
}

func clampPage(n, pages int) int {
	if n < 1 {
		return 1
	}
	if n > pages {
		return pages
	}
	return n
}

func heading(n int, location string) string {
	if location == "" {
		return fmt.Sprintf("%d Places", n)
	}
	return fmt.Sprintf("%d Places in %s", n, location)
}
