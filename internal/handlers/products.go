package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shelfsight/shelfsight-backend/internal/geo"
	"github.com/shelfsight/shelfsight-backend/internal/repos"
)

// DefaultNearbyRadiusMeters bounds the nearby-products query when the
// caller does not pass a radius.
const DefaultNearbyRadiusMeters = 5000.0

type ProductHandler struct {
	products  repos.ProductRepo
	stores    repos.StoreRepo
	sightings repos.SightingRepo
}

func NewProductHandler(products repos.ProductRepo, stores repos.StoreRepo, sightings repos.SightingRepo) *ProductHandler {
	return &ProductHandler{products: products, stores: stores, sightings: sightings}
}

func (h *ProductHandler) GetStoresForProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product id must be a uuid"})
		return
	}
	stores, err := h.sightings.GetStoresForProduct(c.Request.Context(), nil, productID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"stores": stores})
}

func (h *ProductHandler) GetProductsAtStore(c *gin.Context) {
	storeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "store id must be a uuid"})
		return
	}
	products, err := h.sightings.GetProductsAtStore(c.Request.Context(), nil, storeID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"products": products})
}

func (h *ProductHandler) GetProductsNearby(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("latitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude must be a number"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("longitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "longitude must be a number"})
		return
	}
	radius := DefaultNearbyRadiusMeters
	if raw := c.Query("radius_meters"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius_meters must be a number"})
			return
		}
	}
	if err := geo.ValidateCoordinates(lat, lon); err != nil {
		RespondError(c, err)
		return
	}
	if err := geo.ValidateRadius(radius); err != nil {
		RespondError(c, err)
		return
	}

	nearby, err := h.sightings.GetProductsNearLocation(c.Request.Context(), nil, lat, lon, radius)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"products": nearby})
}
