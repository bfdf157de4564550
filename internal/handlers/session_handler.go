package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/stwalsh4118/homefinder/api/internal/discovery"
	apierrors "github.com/stwalsh4118/homefinder/api/internal/errors"
	"github.com/stwalsh4118/homefinder/api/internal/favorites"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/mapsync"
	"github.com/stwalsh4118/homefinder/api/internal/middleware"
	"github.com/stwalsh4118/homefinder/api/internal/models"
	"github.com/stwalsh4118/homefinder/api/internal/realtime"
)

// SessionHandler serves the discovery session API.
type SessionHandler struct {
	manager  *discovery.Manager
	upgrader *websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler. origins are the CORS
// origins also allowed to open event websockets.
func NewSessionHandler(manager *discovery.Manager, origins []string) *SessionHandler {
	return &SessionHandler{
		manager:  manager,
		upgrader: realtime.NewUpgrader(origins),
	}
}

// RegisterSessionRoutes mounts the session API under /sessions on v1.
func RegisterSessionRoutes(v1 *gin.RouterGroup, h *SessionHandler) {
	v1.GET("/locations", h.Locations)

	sessions := v1.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.PATCH("/:id/draft", h.EditDraft)
		sessions.POST("/:id/draft/locate", h.LocateDraft)
		sessions.POST("/:id/apply", h.Apply)
		sessions.POST("/:id/reset", h.Reset)
		sessions.POST("/:id/search", h.Search)
		sessions.GET("/:id/listings", h.Listings)
		sessions.PATCH("/:id/listings", h.UpdateListings)
		sessions.POST("/:id/listings/retry", h.RetryListings)
		sessions.GET("/:id/map", h.Map)
		sessions.POST("/:id/map/select", h.SelectMarker)
		sessions.POST("/:id/map/camera", h.MoveCamera)
		sessions.POST("/:id/map/reset-view", h.ResetView)
		sessions.POST("/:id/favorites/:propertyId/toggle", middleware.RequireAuth(), h.ToggleFavorite)
		sessions.GET("/:id/events", h.Events)
	}
}

// CreateSessionRequest opens a session from a results URL or its query string.
type CreateSessionRequest struct {
	Query string `json:"query" binding:"max=2048"`
}

// CreateSessionResponse is the new session plus any ignored query parameters.
type CreateSessionResponse struct {
	Session    discovery.Snapshot `json:"session"`
	Violations []string           `json:"violations"`
}

// DraftAction is one filter edit. Type selects which of the other fields is read.
type DraftAction struct {
	Type         string           `json:"type" binding:"required,oneof=setLocation setPropertyType setPriceRange setSquareFeet setBeds setBaths toggleAmenity setAvailableFrom resetFilters"`
	Location     *string          `json:"location,omitempty"`
	PropertyType *string          `json:"propertyType,omitempty"`
	Range        *filter.Range    `json:"range,omitempty"`
	Count        *filter.MinCount `json:"count,omitempty"`
	Amenity      *string          `json:"amenity,omitempty"`
	Date         *string          `json:"date,omitempty"`
}

// EditDraftRequest applies actions to the draft in order. Either all apply
// or none do.
type EditDraftRequest struct {
	Actions []DraftAction `json:"actions" binding:"required,min=1,max=20,dive"`
}

// DraftResponse carries the draft filters.
type DraftResponse struct {
	Draft filter.State `json:"draft"`
}

// CommitResponse carries the committed filters after apply or reset.
type CommitResponse struct {
	Committed filter.State `json:"committed"`
	Changed   bool         `json:"changed"`
}

// SearchRequest is a location search.
type SearchRequest struct {
	Query string `json:"query" binding:"max=200"`
}

// UpdateListingsRequest changes sort order and/or page.
type UpdateListingsRequest struct {
	Sort *string `json:"sort,omitempty"`
	Page *int    `json:"page,omitempty" binding:"omitempty,min=1"`
}

// MapResponse is the renderable layer and the engine's state.
type MapResponse struct {
	Layer mapsync.Layer    `json:"layer"`
	State mapsync.Snapshot `json:"state"`
}

// SelectRequest centers the map on one marker.
type SelectRequest struct {
	PropertyID int `json:"propertyId" binding:"required,min=1"`
}

// CameraRequest is a user pan or zoom.
type CameraRequest struct {
	Lat  *float64 `json:"lat" binding:"required,latitude"`
	Lng  *float64 `json:"lng" binding:"required,longitude"`
	Zoom float64  `json:"zoom" binding:"gte=0,lte=22"`
}

// CameraResponse is the camera after a viewport change.
type CameraResponse struct {
	Camera mapsync.Camera `json:"camera"`
}

// FavoriteResponse is the optimistic favorite flag.
type FavoriteResponse struct {
	PropertyID int  `json:"propertyId"`
	Favorite   bool `json:"favorite"`
}

// LocationsResponse lists the quick search neighbourhoods.
type LocationsResponse struct {
	Locations []string `json:"locations"`
}

// Locations handles GET /api/v1/locations.
func (h *SessionHandler) Locations(c *gin.Context) {
	c.JSON(http.StatusOK, LocationsResponse{Locations: discovery.Locations})
}

// Create handles POST /api/v1/sessions.
// The body is optional; an empty body opens a session with default filters.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindFailed(c, err)
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	s, violations, err := h.manager.Create(c.Request.Context(), queryOf(req.Query), principal)
	if err != nil {
		apierrors.ServiceUnavailable(c, "Could not open the map. Please try again.", err)
		return
	}
	if violations == nil {
		violations = []string{}
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Opened discovery session", map[string]interface{}{
			"session_id": s.ID,
			"violations": len(violations),
		})
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		Session:    s.Snapshot(),
		Violations: violations,
	})
}

// Get handles GET /api/v1/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// Delete handles DELETE /api/v1/sessions/:id.
func (h *SessionHandler) Delete(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.manager.Delete(s.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EditDraft handles PATCH /api/v1/sessions/:id/draft.
func (h *SessionHandler) EditDraft(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req EditDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	actions := make([]filter.Action, 0, len(req.Actions))
	var errs []error
	for i, a := range req.Actions {
		action, err := a.toAction()
		if err != nil {
			errs = append(errs, fmt.Errorf("actions[%d]: %w", i, err))
			continue
		}
		actions = append(actions, action)
	}
	if len(errs) > 0 {
		apierrors.FilterViolation(c, errors.Join(errs...))
		return
	}

	draft, err := s.Dispatch(actions...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DraftResponse{Draft: draft})
}

// LocateDraft handles POST /api/v1/sessions/:id/draft/locate.
func (h *SessionHandler) LocateDraft(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	res, err := s.LocateDraft(c.Request.Context(), req.Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Apply handles POST /api/v1/sessions/:id/apply.
func (h *SessionHandler) Apply(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	committed, changed, err := s.Apply()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CommitResponse{Committed: committed, Changed: changed})
}

// Reset handles POST /api/v1/sessions/:id/reset.
func (h *SessionHandler) Reset(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	committed, changed, err := s.Reset()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CommitResponse{Committed: committed, Changed: changed})
}

// Search handles POST /api/v1/sessions/:id/search.
// A match returns the URL to navigate to; no match returns a message with 200.
func (h *SessionHandler) Search(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	res, err := s.Search(c.Request.Context(), req.Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Listings handles GET /api/v1/sessions/:id/listings.
func (h *SessionHandler) Listings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Listing())
}

// RetryListings handles POST /api/v1/sessions/:id/listings/retry.
// It refetches the committed filter's results after a failed load.
func (h *SessionHandler) RetryListings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	v, err := s.Retry()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// UpdateListings handles PATCH /api/v1/sessions/:id/listings.
// Sort is applied before page, so a request carrying both lands on the
// requested page of the new order.
func (h *SessionHandler) UpdateListings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req UpdateListingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	view := s.Listing()
	if req.Sort != nil {
		v, err := s.SetSort(listing.SortKey(*req.Sort))
		if err != nil {
			apierrors.BadRequest(c, "Unknown sort order", map[string]interface{}{
				"sort": *req.Sort,
			})
			return
		}
		view = v
	}
	if req.Page != nil {
		view = s.SetPage(*req.Page)
	}
	c.JSON(http.StatusOK, view)
}

// Map handles GET /api/v1/sessions/:id/map.
func (h *SessionHandler) Map(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, MapResponse{Layer: s.Layer(), State: s.MapState()})
}

// SelectMarker handles POST /api/v1/sessions/:id/map/select.
func (h *SessionHandler) SelectMarker(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	cam, err := s.Select(req.PropertyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Camera: cam})
}

// MoveCamera handles POST /api/v1/sessions/:id/map/camera.
// The camera is clamped to the service area and zoom range.
func (h *SessionHandler) MoveCamera(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	cam, err := s.Pan(mapsync.Camera{
		Center: models.LatLng{Latitude: *req.Lat, Longitude: *req.Lng},
		Zoom:   req.Zoom,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Camera: cam})
}

// ResetView handles POST /api/v1/sessions/:id/map/reset-view.
func (h *SessionHandler) ResetView(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	cam, err := s.ResetView()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CameraResponse{Camera: cam})
}

// ToggleFavorite handles POST /api/v1/sessions/:id/favorites/:propertyId/toggle.
// It answers 202 with the optimistic flag; the outcome arrives as a notice
// or a favorite update on the event stream.
func (h *SessionHandler) ToggleFavorite(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	id, err := strconv.Atoi(c.Param("propertyId"))
	if err != nil || id < 1 {
		apierrors.BadRequest(c, "Invalid property id", map[string]interface{}{
			"propertyId": c.Param("propertyId"),
		})
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	fav, err := s.ToggleFavorite(c.Request.Context(), principal, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, FavoriteResponse{PropertyID: id, Favorite: fav})
}

// Events handles GET /api/v1/sessions/:id/events by upgrading to a websocket.
// The session id is the credential here; browsers cannot attach bearer
// headers to websocket requests.
func (h *SessionHandler) Events(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := realtime.Serve(s.Hub(), h.upgrader, c.Writer, c.Request); err != nil {
		if log := middleware.GetLogger(c); log != nil {
			log.Warn("Event stream upgrade failed", map[string]interface{}{
				"session_id": s.ID,
				"error":      err.Error(),
			})
		}
	}
}

// session loads the :id session and checks it belongs to the caller.
func (h *SessionHandler) session(c *gin.Context) (*discovery.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}

	owner := s.Principal().Subject
	if owner != "" {
		p, _ := middleware.GetPrincipal(c)
		if p.Subject != owner {
			apierrors.Forbidden(c, "This session belongs to another user")
			return nil, false
		}
	}
	return s, true
}

// fail maps domain errors onto the API error envelope.
func (h *SessionHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, discovery.ErrSessionNotFound), errors.Is(err, discovery.ErrClosed):
		apierrors.NotFound(c, "Session not found or expired")
	case errors.Is(err, discovery.ErrAnonymousSession):
		apierrors.Forbidden(c, "Open a session while signed in to save favorites")
	case errors.Is(err, discovery.ErrForbidden):
		apierrors.Forbidden(c, "This session belongs to another user")
	case errors.Is(err, favorites.ErrUnauthenticated):
		apierrors.Unauthorized(c, "Sign in to save favorites")
	case errors.Is(err, filter.ErrValidation):
		apierrors.FilterViolation(c, err)
	case errors.Is(err, mapsync.ErrUnknownMarker):
		apierrors.NotFound(c, "Property is not on the map")
	case errors.Is(err, mapsync.ErrNotReady), errors.Is(err, mapsync.ErrDisposed):
		apierrors.ServiceUnavailable(c, "Map is not ready", err)
	default:
		apierrors.InternalServerError(c, "Request failed", err)
	}
}

// bindFailed reports a request body that could not be bound.
func bindFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apierrors.ValidationError(c, verrs)
		return
	}
	apierrors.BadRequest(c, "Invalid request body", nil)
}

// queryOf accepts a bare query string, one with a leading "?" or a full URL.
func queryOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[i+1:]
	}
	if strings.Contains(raw, "=") {
		return raw
	}
	return ""
}

func (a DraftAction) toAction() (filter.Action, error) {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", filter.ErrValidation, a.Type, field)
	}

	switch a.Type {
	case "setLocation":
		if a.Location == nil {
			return nil, missing("location")
		}
		return filter.SetLocation{Location: *a.Location}, nil
	case "setPropertyType":
		if a.PropertyType == nil {
			return nil, missing("propertyType")
		}
		return filter.SetPropertyType{PropertyType: filter.PropertyType(*a.PropertyType)}, nil
	case "setPriceRange":
		if a.Range == nil {
			return nil, missing("range")
		}
		return filter.SetPriceRange{Range: *a.Range}, nil
	case "setSquareFeet":
		if a.Range == nil {
			return nil, missing("range")
		}
		return filter.SetSquareFeet{Range: *a.Range}, nil
	case "setBeds":
		if a.Count == nil {
			return nil, missing("count")
		}
		return filter.SetBeds{Beds: *a.Count}, nil
	case "setBaths":
		if a.Count == nil {
			return nil, missing("count")
		}
		return filter.SetBaths{Baths: *a.Count}, nil
	case "toggleAmenity":
		if a.Amenity == nil {
			return nil, missing("amenity")
		}
		return filter.ToggleAmenity{Amenity: filter.Amenity(*a.Amenity)}, nil
	case "setAvailableFrom":
		if a.Date == nil {
			return filter.SetAvailableFrom{}, nil
		}
		d, err := filter.ParseDate(*a.Date)
		if err != nil {
			return nil, err
		}
		return filter.SetAvailableFrom{Date: d}, nil
	case "resetFilters":
		return filter.ResetFilters{}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", filter.ErrValidation, a.Type)
}
