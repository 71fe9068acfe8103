package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/laundryhub/laundry-api/app"
	"github.com/laundryhub/laundry-api/internal/auth"
	"github.com/laundryhub/laundry-api/middleware"
	"github.com/laundryhub/laundry-api/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout(deps)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.DeviceIDHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	authMW := deps.AuthMiddleware

	r.Route("/api/v1", func(r chi.Router) {
		// Session endpoints
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", deps.AuthHandler.HandleRegister)
			r.Post("/login", deps.AuthHandler.HandleLogin)
			r.Post("/refresh", deps.AuthHandler.HandleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(authMW.RequireAuth)
				r.Post("/logout", deps.AuthHandler.HandleLogout)
				r.Post("/logout-all", deps.AuthHandler.HandleLogoutAll)
				r.Get("/me", deps.AuthHandler.HandleMe)
				r.Get("/devices", deps.AuthHandler.HandleDevices)
				r.Get("/activity", deps.AuthHandler.HandleActivity)
				r.With(authMW.ExtractTenant).Get("/outlets", deps.AuthHandler.HandleOutlets)
			})
		})

		// Outlet and staff management
		r.Route("/outlets", func(r chi.Router) {
			r.Use(authMW.RequireAuth)
			r.Post("/", deps.OutletHandler.HandleCreateOutlet)

			r.Route("/{outlet_id}", func(r chi.Router) {
				r.Use(authMW.ExtractTenant)
				r.With(authMW.RequireOutletAccess).Get("/permissions", deps.OutletHandler.HandlePermissions)

				r.Group(func(r chi.Router) {
					r.Use(authMW.RequirePermission(auth.PermManageEmployees))
					r.Get("/members", deps.OutletHandler.HandleListMembers)
					r.Post("/members", deps.OutletHandler.HandleInvite)
					r.Patch("/members/{membership_id}", deps.OutletHandler.HandleUpdateMember)
					r.Delete("/members/{membership_id}", deps.OutletHandler.HandleDeactivateMember)
					r.Get("/audit-logs", deps.OutletHandler.HandleAuditLogs)
				})
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
	})

	return r
}

func requestTimeout(deps *app.Dependencies) time.Duration {
	if d := deps.Config.Server.RequestTimeout; d > 0 {
		return d
	}
	return 60 * time.Second
}
