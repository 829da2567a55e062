package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warpweft/api/internal/platform/auth"
	"github.com/warpweft/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mounted section of the API surface.
type routeGroup struct {
	name        string
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	global []func(http.Handler) http.Handler
	health *HealthHandlers
	groups map[string]*routeGroup
}

func (cfg *routerConfig) group(name string) *routeGroup {
	if g, ok := cfg.groups[name]; ok {
		return g
	}
	g := &routeGroup{name: name}
	cfg.groups[name] = g
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// WithMiddlewares appends global middleware applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPublicRoutes sets the registrar for unauthenticated catalogue routes.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("public").register = reg }
}

// WithOrderRoutes sets the registrar for customer order routes.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("orders").register = reg }
}

// WithOrderMiddlewares adds middleware to the /me/orders group.
func WithOrderMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("orders")
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithAdminRoutes sets the registrar for the admin surface.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("admin").register = reg }
}

// WithAdminMiddlewares adds middleware to the /admin group.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("admin")
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithWebhookRoutes sets the registrar for payment gateway callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("webhooks").register = reg }
}

// WithWebhookMiddlewares adds middleware to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("webhooks")
		g.middlewares = append(g.middlewares, mw...)
	}
}

// NewRouter builds the chi router: health probes at the root, the four API
// groups under /api/v1, JSON errors for unmatched routes.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[string]*routeGroup),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	paths := map[string]string{
		"public":   "/public",
		"orders":   "/me/orders",
		"admin":    "/admin",
		"webhooks": "/webhooks",
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range []string{"public", "orders", "admin", "webhooks"} {
			group := cfg.group(name)
			api.Route(paths[name], func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.register != nil {
					group.register(sub)
					return
				}
				mountPlaceholder(sub, group.name)
			})
		}
	})

	return r
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code, message string, status int) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, message, status))
}

// mountPlaceholder answers 501 for a group nothing was registered on, so a
// partially wired binary fails loudly instead of 404ing.
func mountPlaceholder(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented)
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}

// RequireAdminMiddleware rejects requests lacking the admin role.
func RequireAdminMiddleware() func(http.Handler) http.Handler {
	return auth.RequireRoles(auth.RoleAdmin)
}

// RateLimitMiddleware throttles requests per caller identity or client IP.
func RateLimitMiddleware(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newFixedWindowLimiter(limit, window, nil)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow(clientKey(req)) {
				writeRouteError(w, req, "rate_limited", "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientKey(req *http.Request) string {
	if identity, ok := auth.IdentityFromContext(req.Context()); ok && identity.UID != "" {
		return "uid:" + identity.UID
	}
	host := req.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return "ip:" + host
}
