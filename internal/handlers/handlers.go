package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/internal/config"
	"github.com/temcen/shopsense/internal/middleware"
	"github.com/temcen/shopsense/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Session        *SessionHandler
	Recommendation *RecommendationHandler
	Event          *EventHandler
	Product        *ProductHandler
}

func New(logger *logrus.Logger, svc *services.Services, cfg *config.Config) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svc.Health),
		Session:        NewSessionHandler(svc.Sessions, svc.Auth, svc.Validate, logger),
		Recommendation: NewRecommendationHandler(svc.Sessions, cfg.Recommendation, logger),
		Event:          NewEventHandler(svc.Sessions, svc.Validate, logger),
		Product:        NewProductHandler(svc.Catalog, logger),
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// sessionFor returns the caller's session, starting it from the request
// headers when the visitor has none yet.
func sessionFor(c *gin.Context, sessions *services.SessionManager) *services.Session {
	key := middleware.GetVisitorKey(c)
	if s, err := sessions.Lookup(key); err == nil {
		return s
	}
	signals := signalsFromHeaders(c)
	return sessions.Get(c.Request.Context(), key, &signals)
}

const timezoneHeader = "X-Timezone"

func signalsFromHeaders(c *gin.Context) services.Signals {
	return services.Signals{
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
		Timezone:  c.GetHeader(timezoneHeader),
	}
}

func badRequest(c *gin.Context, code string, err error) {
	respondError(c, http.StatusBadRequest, code, validationMessage(err))
}
