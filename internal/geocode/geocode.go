// Package geocode turns free-text place names into coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/homefinder/api/internal/filter"
)

var (
	// ErrNotFound means the geocoder had no match for the text.
	ErrNotFound = errors.New("geocode: no match")
	// ErrTransient covers network failures, timeouts, 5xx and unexpected
	// responses. Retrying later may succeed.
	ErrTransient = errors.New("geocode: temporarily unavailable")
	// ErrEmptyQuery is returned for blank input, before any network call.
	ErrEmptyQuery = fmt.Errorf("%w: location query is empty", filter.ErrValidation)
)

// Resolver resolves a place name to a center point.
type Resolver interface {
	Resolve(ctx context.Context, text string) (filter.Coordinates, error)
}
