package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/discovery"
	apierrors "github.com/stwalsh4118/homefinder/api/internal/errors"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/geocode"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/middleware"
	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// fakeSource serves two Tamso properties. The first failures fetches fail.
type fakeSource struct {
	mu       sync.Mutex
	failures int
}

func (f *fakeSource) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeSource) Fetch(_ context.Context, st filter.State) ([]models.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("upstream returned 503")
	}
	if st.Location != "Tamso" {
		return nil, nil
	}
	return []models.Property{
		{ID: 3, Name: "Tamso Court", PricePerMonth: 900, Location: models.Location{
			Coordinates: &models.LatLng{Latitude: 5.28, Longitude: -1.99},
		}},
		{ID: 4, Name: "Tamso Annex", PricePerMonth: 1500, Location: models.Location{
			Coordinates: &models.LatLng{Latitude: 5.281, Longitude: -1.991},
		}},
	}, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, text string) (filter.Coordinates, error) {
	if text == "Tamso" {
		return filter.Coordinates{Lat: 5.28, Lng: -1.99}, nil
	}
	return filter.Coordinates{}, geocode.ErrNotFound
}

type fakeFavorites struct {
	mu    sync.Mutex
	saved map[int]bool
}

func (f *fakeFavorites) ListFavorites(context.Context, string) ([]models.Favorite, error) {
	return nil, nil
}

func (f *fakeFavorites) AddFavorite(_ context.Context, _ string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = true
	return nil
}

func (f *fakeFavorites) RemoveFavorite(_ context.Context, _ string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

type sessionAPI struct {
	router   *gin.Engine
	source   *fakeSource
	manager  *discovery.Manager
	verifier *auth.Verifier
}

func setupSessionAPI(t *testing.T) *sessionAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier("test-secret", "homefinder")
	require.NoError(t, err)

	source := &fakeSource{}
	manager := discovery.NewManager(discovery.Deps{
		Source:      source,
		Resolver:    fakeResolver{},
		Favorites:   &fakeFavorites{saved: map[int]bool{}},
		Log:         logger.Nop(),
		SearchPath:  "/search",
		URLDebounce: 5 * time.Millisecond,
	}, time.Minute)
	t.Cleanup(manager.Shutdown)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Nop()))
	router.Use(middleware.Authenticate(verifier))
	RegisterSessionRoutes(router.Group("/api/v1"), NewSessionHandler(manager, []string{"http://localhost:3000"}))

	return &sessionAPI{router: router, source: source, manager: manager, verifier: verifier}
}

func (a *sessionAPI) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := a.verifier.Issue(auth.Principal{Subject: subject}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *sessionAPI) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *sessionAPI) open(t *testing.T, query, token string) discovery.Snapshot {
	t.Helper()
	body, err := json.Marshal(CreateSessionRequest{Query: query})
	require.NoError(t, err)

	w := a.do(t, http.MethodPost, "/api/v1/sessions", string(body), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Session
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierrors.ErrorDetail {
	t.Helper()
	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestSessionHandler_Create(t *testing.T) {
	api := setupSessionAPI(t)

	t.Run("empty body opens default session", func(t *testing.T) {
		w := api.do(t, http.MethodPost, "/api/v1/sessions", "", "")
		require.Equal(t, http.StatusCreated, w.Code)

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Session.ID)
		assert.Equal(t, "/search", resp.Session.URL)
		assert.Empty(t, resp.Session.Listing.Items)
		assert.Empty(t, resp.Session.Map.Markers)
		assert.Equal(t, []string{}, resp.Violations)
	})

	t.Run("full URL with one bad parameter", func(t *testing.T) {
		body := `{"query":"http://localhost:3000/search?location=Tamso&lat=5.28&lng=-1.99&beds=lots"}`
		w := api.do(t, http.MethodPost, "/api/v1/sessions", body, "")
		require.Equal(t, http.StatusCreated, w.Code)

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Violations, 1)
		assert.Equal(t, "Tamso", resp.Session.Committed.Location)
		assert.Equal(t, 2, resp.Session.Listing.Total)
		assert.Equal(t, []int{3, 4}, resp.Session.Map.Markers)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := api.do(t, http.MethodPost, "/api/v1/sessions", `{"query":`, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "", "")
	base := "/api/v1/sessions/" + snap.ID

	w := api.do(t, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodDelete, base, "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(t, http.MethodGet, base, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierrors.ErrNotFound, decodeError(t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/sessions/does-not-exist/map", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_EditDraft(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "", "")
	path := "/api/v1/sessions/" + snap.ID + "/draft"

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "valid actions",
			body:           `{"actions":[{"type":"setBeds","count":2},{"type":"toggleAmenity","amenity":"WiFi"}]}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "inverted price range",
			body:           `{"actions":[{"type":"setPriceRange","range":{"min":5000,"max":100}}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apierrors.ErrValidation,
		},
		{
			name:           "missing action payload",
			body:           `{"actions":[{"type":"setBaths"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apierrors.ErrValidation,
		},
		{
			name:           "unknown action type",
			body:           `{"actions":[{"type":"setPets"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apierrors.ErrValidation,
		},
		{
			name:           "no actions",
			body:           `{"actions":[]}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   apierrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPatch, path, tt.body, "")
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decodeError(t, w).Code)
			}
		})
	}

	w := api.do(t, http.MethodGet, "/api/v1/sessions/"+snap.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got discovery.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, filter.MinCount(2), got.Draft.Beds)
	assert.Equal(t, filter.Any, got.Committed.Beds, "edits stay in the draft")
	assert.Equal(t, filter.DefaultPriceRange(), got.Draft.PriceRange, "rejected edit left no trace")
}

func TestSessionHandler_ApplyAndListings(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "", "")
	base := "/api/v1/sessions/" + snap.ID

	w := api.do(t, http.MethodPost, base+"/draft/locate", `{"query":"Tamso"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodPost, base+"/apply", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var commit CommitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commit))
	assert.True(t, commit.Changed)
	assert.Equal(t, "Tamso", commit.Committed.Location)

	require.Eventually(t, func() bool {
		w := api.do(t, http.MethodGet, base+"/listings", "", "")
		var v listing.View
		return json.Unmarshal(w.Body.Bytes(), &v) == nil && v.Total == 2
	}, time.Second, 5*time.Millisecond)

	w = api.do(t, http.MethodPatch, base+"/listings", `{"sort":"price-high"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view listing.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, listing.SortPriceDesc, view.Sort)
	require.Len(t, view.Items, 2)
	assert.Equal(t, 4, view.Items[0].ID)

	w = api.do(t, http.MethodPatch, base+"/listings", `{"sort":"cheapest"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPatch, base+"/listings", `{"page":0}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, base+"/reset", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commit))
	assert.True(t, commit.Changed)
	assert.Empty(t, commit.Committed.Location)
}

func TestSessionHandler_Search(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "", "")
	path := "/api/v1/sessions/" + snap.ID + "/search"

	w := api.do(t, http.MethodPost, path, `{"query":"Tamso"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res discovery.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "/search?lat=5.28&lng=-1.99&location=Tamso", res.Navigate)

	w = api.do(t, http.MethodPost, path, `{"query":"Nowhere"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	res = discovery.SearchResult{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Navigate)
	assert.Equal(t, discovery.MsgNoMatch, res.Message)

	w = api.do(t, http.MethodPost, path, `{"query":"  "}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrValidation, decodeError(t, w).Code)
}

func TestSessionHandler_Map(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "location=Tamso&lat=5.28&lng=-1.99", "")
	base := "/api/v1/sessions/" + snap.ID

	w := api.do(t, http.MethodGet, base+"/map", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var m MapResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.True(t, m.Layer.Loaded)
	assert.Len(t, m.Layer.Markers.Features, 2)
	assert.Equal(t, []int{3, 4}, m.State.Markers)

	w = api.do(t, http.MethodPost, base+"/map/select", `{"propertyId":4}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodPost, base+"/map/select", `{"propertyId":99}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, base+"/map/camera", `{"lat":40.7,"lng":-74,"zoom":30}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "zoom out of range")

	w = api.do(t, http.MethodPost, base+"/map/camera", `{"lat":40.7,"lng":-74,"zoom":12}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var cam CameraResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cam))
	assert.Equal(t, models.ServiceArea.Clamp(models.LatLng{Latitude: 40.7, Longitude: -74}), cam.Camera.Center)

	w = api.do(t, http.MethodPost, base+"/map/reset-view", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cam))
	assert.InDelta(t, 11, cam.Camera.Zoom, 0.001)
}

func TestSessionHandler_RetryListings(t *testing.T) {
	api := setupSessionAPI(t)
	api.source.failNext(1)

	snap := api.open(t, "location=Tamso&lat=5.28&lng=-1.99", "")
	require.Equal(t, listing.StatusFailed, snap.Listing.Status)
	assert.Equal(t, listing.MsgUnavailable, snap.Listing.Message)
	base := "/api/v1/sessions/" + snap.ID

	w := api.do(t, http.MethodPost, base+"/listings/retry", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view listing.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, listing.StatusReady, view.Status)
	assert.Equal(t, 2, view.Total)

	w = api.do(t, http.MethodPost, "/api/v1/sessions/missing/listings/retry", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_ToggleFavorite(t *testing.T) {
	api := setupSessionAPI(t)
	alice := api.token(t, "alice")
	bob := api.token(t, "bob")

	t.Run("requires sign in", func(t *testing.T) {
		snap := api.open(t, "", "")
		w := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/favorites/3/toggle", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepted with optimistic flag", func(t *testing.T) {
		snap := api.open(t, "", alice)
		w := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/favorites/3/toggle", "", alice)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp FavoriteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, FavoriteResponse{PropertyID: 3, Favorite: true}, resp)
	})

	t.Run("anonymous session", func(t *testing.T) {
		snap := api.open(t, "", "")
		w := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/favorites/3/toggle", "", alice)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, apierrors.ErrForbidden, decodeError(t, w).Code)
	})

	t.Run("another user's session", func(t *testing.T) {
		snap := api.open(t, "", alice)
		w := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/favorites/3/toggle", "", bob)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = api.do(t, http.MethodGet, "/api/v1/sessions/"+snap.ID, "", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bad property id", func(t *testing.T) {
		snap := api.open(t, "", alice)
		w := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/favorites/abc/toggle", "", alice)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionHandler_Events(t *testing.T) {
	api := setupSessionAPI(t)
	snap := api.open(t, "", "")

	srv := httptest.NewServer(api.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + snap.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Contains(t, []interface{}{"listing", "map"}, ev["type"], "latest state is replayed on connect")

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/sessions/missing/events", nil)
	assert.True(t, errors.Is(err, websocket.ErrBadHandshake))
}

func TestSessionHandler_Locations(t *testing.T) {
	api := setupSessionAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/locations", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LocationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, discovery.Locations, resp.Locations)
}

func TestQueryOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: "beds=2", want: "beds=2"},
		{raw: "?beds=2", want: "beds=2"},
		{raw: "https://homefinder.example/search?location=Tamso", want: "location=Tamso"},
		{raw: "/search", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, queryOf(tt.raw))
		})
	}
}
