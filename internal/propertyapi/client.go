// Package propertyapi queries the remote property listing service.
package propertyapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/httpclient"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/models"
	"github.com/stwalsh4118/homefinder/api/internal/querysync"
)

var (
	// ErrNotFound is returned when the service reports no matching resource.
	// Callers treat it as an empty result set.
	ErrNotFound = errors.New("propertyapi: not found")
	// ErrTransient covers network failures, timeouts and unexpected statuses.
	ErrTransient = errors.New("propertyapi: temporarily unavailable")
)

// Client fetches properties matching a filter state.
type Client struct {
	http *httpclient.Client
	base string
	log  *logger.Logger
}

// NewClient creates a Client for the configured base URL.
func NewClient(cfg config.PropertyAPIConfig, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("propertyapi: base URL is required")
	}
	return &Client{
		http: httpclient.New(httpclient.Options{
			Service: "propertyapi",
			RPS:     cfg.RPS,
			Timeout: cfg.Timeout,
		}),
		base: strings.TrimRight(cfg.BaseURL, "/"),
		log:  log.WithComponent("propertyapi"),
	}, nil
}

// Fetch returns the properties matching s. The filter is sent with the same
// parameter names as the shareable search URL. Result order is unspecified.
func (c *Client) Fetch(ctx context.Context, s filter.State) ([]models.Property, error) {
	u := c.base + "/properties"
	if q := querysync.Query(s); q != "" {
		u += "?" + q
	}

	var props []models.Property
	if err := c.http.GetJSON(ctx, "properties", u, &props); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return nil, ErrNotFound
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("Property query failed", map[string]interface{}{
			"url":   u,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if props == nil {
		props = []models.Property{}
	}
	return props, nil
}

// Get returns the property with the given id.
func (c *Client) Get(ctx context.Context, id int) (models.Property, error) {
	u := fmt.Sprintf("%s/properties/%d", c.base, id)

	var p models.Property
	if err := c.http.GetJSON(ctx, "property", u, &p); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return models.Property{}, ErrNotFound
		}
		if ctx.Err() != nil {
			return models.Property{}, ctx.Err()
		}
		c.log.Warn("Property lookup failed", map[string]interface{}{
			"property_id": id,
			"error":       err.Error(),
		})
		return models.Property{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return p, nil
}
