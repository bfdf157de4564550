package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/httpclient"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// Client resolves places with the Mapbox forward geocoding API.
type Client struct {
	http   *httpclient.Client
	base   string
	token  string
	hint   string
	bounds models.Bounds
	log    *logger.Logger
}

// placesResponse is the subset of a Mapbox places response the client reads.
type placesResponse struct {
	Features []struct {
		PlaceName string    `json:"place_name"`
		Center    []float64 `json:"center"` // [lng, lat]
	} `json:"features"`
}

// NewClient creates a Client. The access token is required.
func NewClient(cfg config.GeocodeConfig, log *logger.Logger) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("geocode: access token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("geocode: base URL is required")
	}
	return &Client{
		http: httpclient.New(httpclient.Options{
			Service: "geocode",
			RPS:     cfg.RPS,
			Timeout: cfg.Timeout,
		}),
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.AccessToken,
		hint:   strings.TrimSpace(cfg.RegionHint),
		bounds: models.ServiceArea,
		log:    log.WithComponent("geocode"),
	}, nil
}

// Resolve returns the center of the best match for text. The region hint is
// appended to the query and results are limited to the service area.
func (c *Client) Resolve(ctx context.Context, text string) (filter.Coordinates, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return filter.Coordinates{}, ErrEmptyQuery
	}

	var resp placesResponse
	if err := c.http.GetJSON(ctx, "places", c.placesURL(text), &resp); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return filter.Coordinates{}, ErrNotFound
		}
		if ctx.Err() != nil {
			return filter.Coordinates{}, ctx.Err()
		}
		c.log.Warn("Geocode request failed", map[string]interface{}{
			"query": text,
			"error": err.Error(),
		})
		return filter.Coordinates{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if len(resp.Features) == 0 {
		return filter.Coordinates{}, ErrNotFound
	}
	center := resp.Features[0].Center
	if len(center) < 2 {
		return filter.Coordinates{}, fmt.Errorf("%w: feature has no center", ErrTransient)
	}

	coords := filter.Coordinates{Lng: center[0], Lat: center[1]}
	if !coords.Valid() {
		return filter.Coordinates{}, fmt.Errorf("%w: center (%f, %f) out of range", ErrTransient, coords.Lat, coords.Lng)
	}

	c.log.Debug("Geocode resolved", map[string]interface{}{
		"query": text,
		"place": resp.Features[0].PlaceName,
		"lat":   coords.Lat,
		"lng":   coords.Lng,
	})
	return coords, nil
}

func (c *Client) placesURL(text string) string {
	q := text
	if c.hint != "" {
		q = text + " " + c.hint
	}

	params := url.Values{}
	params.Set("access_token", c.token)
	params.Set("fuzzyMatch", "true")
	params.Set("limit", "1")
	params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g",
		c.bounds.SW.Longitude, c.bounds.SW.Latitude,
		c.bounds.NE.Longitude, c.bounds.NE.Latitude))

	return c.base + "/" + url.PathEscape(q) + ".json?" + params.Encode()
}
