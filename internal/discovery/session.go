// Package discovery wires the filter store, URL sync, result list, map and
// favorites of one browsing session together and manages session lifetimes.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/favorites"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/geocode"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/mapsync"
	"github.com/stwalsh4118/homefinder/api/internal/models"
	"github.com/stwalsh4118/homefinder/api/internal/querysync"
	"github.com/stwalsh4118/homefinder/api/internal/realtime"
)

// Search messages shown inline under the search box.
const (
	MsgNoMatch     = "No verified listings found for this location."
	MsgUnavailable = "Something went wrong. Please try again."
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("discovery: session not found")
	// ErrForbidden is returned when a signed-in user acts on another user's session.
	ErrForbidden = errors.New("discovery: session belongs to another user")
	// ErrClosed is returned by operations on a disposed session.
	ErrClosed = errors.New("discovery: session closed")
	// ErrAnonymousSession is returned when favorites are toggled on a session
	// opened without a user. Its favorites were never loaded.
	ErrAnonymousSession = errors.New("discovery: session opened without a user")
)

// FavoriteStore loads and persists a user's favorites.
type FavoriteStore interface {
	favorites.Mutator
	ListFavorites(ctx context.Context, subject string) ([]models.Favorite, error)
}

// SearchResult is the outcome of a location search. Exactly one of Navigate
// and Message is set.
type SearchResult struct {
	Navigate string       `json:"navigate,omitempty"`
	Message  string       `json:"message,omitempty"`
	State    filter.State `json:"state"`
}

// Snapshot is the full client-visible state of a session.
type Snapshot struct {
	ID        string           `json:"id"`
	Committed filter.State     `json:"committed"`
	Draft     filter.State     `json:"draft"`
	URL       string           `json:"url"`
	Listing   listing.View     `json:"listing"`
	Map       mapsync.Snapshot `json:"map"`
	Favorites []int            `json:"favorites"`
}

// Session is one user's discovery view. It is safe for concurrent use.
type Session struct {
	ID string

	principal  auth.Principal
	searchPath string
	log        *logger.Logger

	store     *filter.Store
	syncer    *querysync.Syncer
	listing   *listing.Engine
	layer     *mapsync.LayerAdapter
	mapEngine *mapsync.Engine
	favorites *favorites.Controller
	hub       *realtime.Hub
	resolver  geocode.Resolver
	favStore  FavoriteStore

	ctx    context.Context
	cancel context.CancelFunc
	// fetches tracks listing fetches started by commits.
	fetches sync.WaitGroup

	mu          sync.Mutex
	url         string
	lastSeen    time.Time
	closed      bool
	unsubscribe func()
	disposeOnce sync.Once
}

// newSession builds and wires a session around initial. Nothing is fetched
// until start.
func newSession(id string, initial filter.State, p auth.Principal, deps Deps, now time.Time) (*Session, error) {
	store, err := filter.NewStore(initial)
	if err != nil {
		return nil, err
	}

	log := deps.Log.WithSession(id)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         id,
		principal:  p,
		searchPath: deps.SearchPath,
		log:        log,
		store:      store,
		layer:      mapsync.NewLayerAdapter(),
		hub:        realtime.NewHub(log),
		resolver:   deps.Resolver,
		favStore:   deps.Favorites,
		ctx:        ctx,
		cancel:     cancel,
		url:        querysync.URL(deps.SearchPath, initial),
		lastSeen:   now,
	}

	s.syncer = querysync.NewSyncer(deps.SearchPath, deps.URLDebounce, s, log)
	s.listing = listing.NewEngine(deps.Source, log)
	s.mapEngine = mapsync.NewEngine(s.layer, log)
	s.favorites = favorites.NewController(deps.Favorites, log)

	s.listing.OnView(func(v listing.View) {
		s.hub.Publish(realtime.EventListing, v)
	})
	s.listing.OnResults(func(props []models.Property) {
		if err := s.mapEngine.Sync(props); err != nil && !errors.Is(err, mapsync.ErrDisposed) {
			s.log.Error("Failed to sync map markers", err, nil)
		}
	})
	s.layer.OnChange(func(l mapsync.Layer) {
		s.hub.Publish(realtime.EventMap, l)
	})

	s.favorites.Observe(s.listing)
	s.favorites.Observe(favorites.ObserverFunc(func(id int, fav bool) {
		if err := s.mapEngine.SetFavorite(id, fav); err != nil {
			s.log.Error("Failed to update map favorite", err, map[string]interface{}{
				"property_id": id,
			})
		}
	}))
	s.favorites.OnNotice(func(n favorites.Notice) {
		s.hub.Publish(realtime.EventNotice, n)
	})

	s.unsubscribe = store.Subscribe(s.onCommit)
	return s, nil
}

// start loads the map, the first result page and the user's favorites
// concurrently. Only a map load failure is an error; the others surface in
// the listing view or the log.
func (s *Session) start(ctx context.Context) error {
	committed := s.store.Committed()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.mapEngine.Init(gctx, committed.Coordinates)
	})
	g.Go(func() error {
		err := s.listing.Refresh(gctx, committed)
		if err != nil && !errors.Is(err, listing.ErrStaleResponse) && gctx.Err() == nil {
			s.log.Warn("Initial listing unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil
	})
	if s.principal.Subject != "" {
		g.Go(func() error {
			favs, err := s.favStore.ListFavorites(gctx, s.principal.Subject)
			if err != nil {
				s.log.Error("Failed to load favorites", err, nil)
				return nil
			}
			ids := make([]int, 0, len(favs))
			for _, f := range favs {
				ids = append(ids, f.PropertyID)
			}
			s.favorites.Seed(ids)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// onCommit runs synchronously in commit order.
func (s *Session) onCommit(prev, next filter.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fetches.Add(1)
	s.mu.Unlock()

	s.syncer.OnCommit(prev, next)

	if err := s.mapEngine.OnFilterChange(next); err != nil && !errors.Is(err, mapsync.ErrDisposed) {
		s.log.Error("Failed to move map camera", err, nil)
	}

	fetch := s.listing.Start(next)
	go func() {
		defer s.fetches.Done()
		err := fetch(s.ctx)
		if err != nil && !errors.Is(err, listing.ErrStaleResponse) && s.ctx.Err() == nil {
			s.log.Warn("Listing refresh failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// Replace implements querysync.Navigator.
func (s *Session) Replace(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()

	s.hub.Publish(realtime.EventURL, map[string]string{"url": url})
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()

	return Snapshot{
		ID:        s.ID,
		Committed: s.store.Committed(),
		Draft:     s.store.Draft(),
		URL:       url,
		Listing:   s.listing.View(),
		Map:       s.mapEngine.Snapshot(),
		Favorites: s.favorites.Favorites(),
	}
}

// Dispatch edits the draft.
func (s *Session) Dispatch(actions ...filter.Action) (filter.State, error) {
	if err := s.check(); err != nil {
		return filter.State{}, err
	}
	return s.store.Dispatch(actions...)
}

// Apply commits the draft.
func (s *Session) Apply() (filter.State, bool, error) {
	if err := s.check(); err != nil {
		return filter.State{}, false, err
	}
	st, changed := s.store.Apply()
	return st, changed, nil
}

// Reset restores the default filters.
func (s *Session) Reset() (filter.State, bool, error) {
	if err := s.check(); err != nil {
		return filter.State{}, false, err
	}
	st, changed := s.store.Reset()
	return st, changed, nil
}

// Search is the hero search: it resolves query, commits the location with its
// coordinates and tells clients to navigate to the results URL. No-match and
// unavailable geocoders produce a message instead.
func (s *Session) Search(ctx context.Context, query string) (SearchResult, error) {
	if err := s.check(); err != nil {
		return SearchResult{}, err
	}
	query = strings.TrimSpace(query)

	coords, msg, err := s.resolve(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if msg != "" {
		return SearchResult{Message: msg, State: s.store.Committed()}, nil
	}

	committed, err := s.store.Resolve(query, coords)
	if err != nil {
		return SearchResult{}, err
	}
	target := querysync.URL(s.searchPath, committed)
	s.syncer.Flush()
	s.hub.Publish(realtime.EventNavigate, map[string]string{"url": target})

	return SearchResult{Navigate: target, State: committed}, nil
}

// LocateDraft is the filter panel's location search. It sets the draft
// location and coordinates; nothing is committed until Apply.
func (s *Session) LocateDraft(ctx context.Context, query string) (SearchResult, error) {
	if err := s.check(); err != nil {
		return SearchResult{}, err
	}
	query = strings.TrimSpace(query)

	coords, msg, err := s.resolve(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	if msg != "" {
		return SearchResult{Message: msg, State: s.store.Draft()}, nil
	}

	draft, err := s.store.Dispatch(filter.ResolveLocation{Location: query, Coordinates: coords})
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{State: draft}, nil
}

// resolve maps geocoder outcomes to a message. Only validation failures and
// cancellation are returned as errors.
func (s *Session) resolve(ctx context.Context, query string) (filter.Coordinates, string, error) {
	if query == "" {
		return filter.Coordinates{}, "", geocode.ErrEmptyQuery
	}
	coords, err := s.resolver.Resolve(ctx, query)
	switch {
	case err == nil:
		return coords, "", nil
	case errors.Is(err, filter.ErrValidation):
		return filter.Coordinates{}, "", err
	case ctx.Err() != nil:
		return filter.Coordinates{}, "", ctx.Err()
	case errors.Is(err, geocode.ErrNotFound):
		return filter.Coordinates{}, MsgNoMatch, nil
	default:
		s.log.Warn("Location search failed", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return filter.Coordinates{}, MsgUnavailable, nil
	}
}

// Retry fetches the committed filter's results again after a failure. It is
// a no-op while the current results are good.
func (s *Session) Retry() (listing.View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return listing.View{}, ErrClosed
	}
	s.fetches.Add(1)
	s.mu.Unlock()
	defer s.fetches.Done()

	err := s.listing.Refresh(s.ctx, s.store.Committed())
	if err != nil && !errors.Is(err, listing.ErrStaleResponse) && s.ctx.Err() == nil {
		s.log.Warn("Listing retry failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return s.listing.View(), nil
}

// Listing returns the current result page.
func (s *Session) Listing() listing.View {
	return s.listing.View()
}

// SetSort changes the sort order.
func (s *Session) SetSort(key listing.SortKey) (listing.View, error) {
	return s.listing.SetSort(key)
}

// SetPage moves to a result page.
func (s *Session) SetPage(n int) listing.View {
	return s.listing.SetPage(n)
}

// Layer returns the renderable map.
func (s *Session) Layer() mapsync.Layer {
	return s.layer.Snapshot()
}

// MapState returns the map engine's state.
func (s *Session) MapState() mapsync.Snapshot {
	return s.mapEngine.Snapshot()
}

// Select centers the map on a marker.
func (s *Session) Select(id int) (mapsync.Camera, error) {
	return s.mapEngine.Select(id)
}

// Pan records a user camera move.
func (s *Session) Pan(c mapsync.Camera) (mapsync.Camera, error) {
	return s.mapEngine.Pan(c)
}

// ResetView returns the map to its default camera.
func (s *Session) ResetView() (mapsync.Camera, error) {
	return s.mapEngine.ResetView()
}

// ToggleFavorite flips a favorite for p and returns the displayed flag. The
// mutation completes in the background; failures arrive as notices. Only the
// user the session was opened for can toggle; anonymous sessions have no
// favorites to flip.
func (s *Session) ToggleFavorite(ctx context.Context, p auth.Principal, propertyID int) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	switch {
	case p.Subject == "":
		return false, favorites.ErrUnauthenticated
	case s.principal.Subject == "":
		return false, ErrAnonymousSession
	case p.Subject != s.principal.Subject:
		return false, ErrForbidden
	}
	if _, err := s.favorites.Toggle(ctx, p, propertyID); err != nil {
		return false, err
	}
	return s.favorites.IsFavorite(propertyID), nil
}

// Hub returns the session's event hub.
func (s *Session) Hub() *realtime.Hub {
	return s.hub
}

// Principal returns the user the session was opened for. The zero value
// means anonymous.
func (s *Session) Principal() auth.Principal {
	return s.principal
}

// Dispose stops the session and releases the map. It is safe to call more
// than once.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.unsubscribe()
		s.syncer.Stop()
		s.cancel()
		s.favorites.Close()
		s.fetches.Wait()

		if err := s.mapEngine.Dispose(); err != nil {
			s.log.Error("Failed to dispose map", err, nil)
		}
		s.hub.Close()
		s.log.Debug("Session disposed", nil)
	})
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
