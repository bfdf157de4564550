package propertyapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/httpclient"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(config.PropertyAPIConfig{BaseURL: srv.URL + "/", RPS: 100, Timeout: time.Second}, logger.Nop())
	require.NoError(t, err)
	c.http = httpclient.New(httpclient.Options{Service: "propertyapi", RPS: 100, BaseDelay: time.Millisecond})
	return c
}

func TestFetch_SendsFilterAsQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[
			{"id":7,"name":"Tamso Villa","pricePerMonth":1200,"beds":2,"baths":1.5,
			 "propertyType":"House","postedDate":"2026-01-02T00:00:00Z",
			 "location":{"address":"Tamso","city":"Tarkwa","coordinates":{"latitude":5.29,"longitude":-1.99}}}
		]`))
	}))
	defer srv.Close()

	s, err := filter.Reduce(filter.Default(), filter.SetBeds{Beds: 2})
	require.NoError(t, err)

	props, err := newTestClient(t, srv).Fetch(context.Background(), s)

	require.NoError(t, err)
	assert.Equal(t, "/properties", gotPath)
	assert.Equal(t, "beds=2", gotQuery)
	require.Len(t, props, 1)
	assert.Equal(t, 7, props[0].ID)
	assert.Equal(t, 1.5, props[0].Baths)
	pt, ok := props[0].Point()
	assert.True(t, ok)
	assert.Equal(t, -1.99, pt.Lng)
}

func TestFetch_DefaultStateHasNoQuery(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	props, err := newTestClient(t, srv).Fetch(context.Background(), filter.Default())

	require.NoError(t, err)
	assert.Equal(t, "/properties", gotURI)
	assert.NotNil(t, props)
	assert.Empty(t, props)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrTransient},
		{name: "bad request", status: http.StatusBadRequest, wantErr: ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).Fetch(context.Background(), filter.Default())

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetch_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, filter.Default())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantName string
		wantErr  error
	}{
		{
			name:     "found",
			status:   http.StatusOK,
			body:     `{"id":7,"name":"Tamso Villa","pricePerMonth":1200,"location":{"city":"Tarkwa"}}`,
			wantName: "Tamso Villa",
		},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "upstream down", status: http.StatusBadGateway, wantErr: ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := newTestClient(t, srv).Get(context.Background(), 7)

			assert.Equal(t, "/properties/7", gotPath)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 7, p.ID)
			assert.Equal(t, tt.wantName, p.Name)
		})
	}
}
