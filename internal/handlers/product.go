package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/catalog"
	"github.com/temcen/shopsense/pkg/models"
)

type ProductHandler struct {
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

func NewProductHandler(cat *catalog.Catalog, logger *logrus.Logger) *ProductHandler {
	return &ProductHandler{catalog: cat, logger: logger}
}

// List returns the catalog, optionally limited to one category.
func (h *ProductHandler) List(c *gin.Context) {
	products := h.catalog.All()
	if category := c.Query("category"); category != "" {
		products = h.catalog.ByCategory(category)
	}
	// Encode as [] rather than null
	if products == nil {
		products = []models.Product{}
	}

	c.JSON(http.StatusOK, gin.H{
		"products":   products,
		"count":      len(products),
		"categories": h.catalog.Categories(),
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	product, ok := h.catalog.Get(c.Param("productId"))
	if !ok {
		respondError(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found")
		return
	}
	c.JSON(http.StatusOK, product)
}
