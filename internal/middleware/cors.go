package middleware

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/temcen/shopsense/internal/config"
)

// CORS lets the storefront front-end call the API. Credentials are allowed
// so the visitor cookie travels; with a wildcard origin they cannot be.
func CORS(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     cfg.Security.CORS.AllowedMethods,
		AllowHeaders:     cfg.Security.CORS.AllowedHeaders,
		ExposeHeaders:    []string{cfg.Session.VisitorHeader, RequestIDHeader},
		AllowCredentials: true,
	}

	if slices.Contains(cfg.Security.CORS.AllowedOrigins, "*") {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	} else {
		corsConfig.AllowOrigins = cfg.Security.CORS.AllowedOrigins
	}

	return cors.New(corsConfig)
}
