package serv

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/querygate/querygate/auth"
)

const (
	routeRequests  = "/api/v1/requests"
	routeInstances = "/api/v1/instances"
	healthRoute    = "/health"
)

// routesHandler wires up all routes and middleware
func (s *Service) routesHandler(r chi.Router) (http.Handler, error) {
	if len(s.conf.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.conf.AllowedOrigins,
			AllowedHeaders:   s.conf.AllowedHeaders,
			AllowedMethods:   []string{"GET", "POST", "DELETE"},
			AllowCredentials: true,
			Debug:            s.conf.DebugCORS,
		})
		r.Use(c.Handler)
	}

	if s.conf.rateLimiterEnable() {
		r.Use(rateLimiter(s.conf.RateLimiter))
	}

	// Healthcheck API
	r.Get(healthRoute, s.healthCheckHandler())

	var authHandler func(http.Handler) http.Handler
	if s.conf.Auth.Development {
		authHandler = auth.NewHeaderHandler()
	} else {
		authHandler = auth.NewJWTHandler([]byte(s.conf.Auth.SecretKey))
	}

	r.Route(routeRequests, func(r chi.Router) {
		r.Use(authHandler)
		r.Post("/", s.submitHandler())
		r.Get("/", s.listHandler())
		r.Get("/{id}", s.getHandler())
		r.Post("/{id}/approve", s.approveHandler())
		r.Post("/{id}/reject", s.rejectHandler())
		r.Post("/{id}/withdraw", s.withdrawHandler())
		r.Post("/{id}/clone", s.cloneHandler())
		r.Get("/{id}/result", s.resultHandler())
	})

	r.Route(routeInstances, func(r chi.Router) {
		r.Use(authHandler)
		r.Get("/", s.instancesHandler())
		r.Get("/{id}/databases", s.databasesHandler())
		r.Get("/{id}/schemas", s.schemasHandler())
	})

	return setServerHeader(r), nil
}
