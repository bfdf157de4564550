package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apierrors "github.com/stwalsh4118/homefinder/api/internal/errors"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/mapsync"
	"github.com/stwalsh4118/homefinder/api/internal/middleware"
	"github.com/stwalsh4118/homefinder/api/internal/propertyapi"
)

// PropertyHandler serves the property details page.
type PropertyHandler struct {
	properties listing.Getter
}

// NewPropertyHandler creates a new PropertyHandler.
func NewPropertyHandler(properties listing.Getter) *PropertyHandler {
	return &PropertyHandler{properties: properties}
}

// RegisterPropertyRoutes mounts the details route on v1.
func RegisterPropertyRoutes(v1 *gin.RouterGroup, h *PropertyHandler) {
	v1.GET("/properties/:id", h.GetDetails)
}

// PropertyURI is the path of a details request.
type PropertyURI struct {
	ID int `uri:"id" binding:"required,min=1"`
}

// GetDetails handles GET /api/v1/properties/:id.
func (h *PropertyHandler) GetDetails(c *gin.Context) {
	var uri PropertyURI
	if err := c.ShouldBindUri(&uri); err != nil {
		bindFailed(c, err)
		return
	}

	p, err := h.properties.Get(c.Request.Context(), uri.ID)
	switch {
	case err == nil:
	case errors.Is(err, propertyapi.ErrNotFound):
		apierrors.NotFound(c, "Property not found")
		return
	case errors.Is(err, propertyapi.ErrTransient):
		apierrors.ServiceUnavailable(c, "Property details are unavailable. Please try again.", err)
		return
	default:
		apierrors.InternalServerError(c, "Failed to load property", err)
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Debug("Served property details", map[string]interface{}{
			"property_id": p.ID,
		})
	}
	c.JSON(http.StatusOK, mapsync.DetailsFor(p))
}
