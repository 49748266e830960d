package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Captive portal routes (public, used by devices behind the hotspot)
	r.Route("/portal", func(r chi.Router) {
		r.Get("/packages", s.HandlePortalPackages)
		r.Get("/status/{mac}", s.HandlePortalStatus)
		r.Post("/purchase", s.HandlePortalPurchase)
		r.Post("/extend/{id}", s.HandlePortalExtend)
		r.Route("/voucher", func(r chi.Router) {
			r.Get("/{code}", s.HandleVoucherDetails)
			r.Post("/redeem", s.HandleVoucherRedeem)
		})
	})

	// Payment gateway callbacks (public, signature-checked)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payment", s.HandlePaymentWebhook)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Users
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetUser)
				r.Put("/", s.HandleUpdateUser)
			})
		})

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.HandleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetSession)
				r.Post("/terminate", s.HandleTerminateSession)
				r.Post("/suspend", s.HandleSuspendSession)
				r.Post("/resume", s.HandleResumeSession)
				r.Post("/extend", s.HandleExtendSession)
			})
		})

		// Packages
		r.Route("/packages", func(r chi.Router) {
			r.Get("/", s.HandleListPackages)
			r.Post("/", s.HandleCreatePackage)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetPackage)
				r.Put("/", s.HandleUpdatePackage)
				r.Delete("/", s.HandleDeletePackage)
			})
		})

		// Routers
		r.Route("/routers", func(r chi.Router) {
			r.Get("/", s.HandleListRouters)
			r.Post("/", s.HandleCreateRouter)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetRouter)
				r.Put("/", s.HandleUpdateRouter)
				r.Delete("/", s.HandleDeleteRouter)
				r.Post("/probe", s.HandleProbeRouter)
				r.Get("/active-users", s.HandleRouterActiveUsers)
			})
		})

		// Payments
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", s.HandleListPayments)
			r.Get("/{id}", s.HandleGetPayment)
		})

		// Vouchers
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", s.HandleListVouchers)
			r.Post("/", s.HandleCreateVoucher)
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.HandleListEvents)
		})
	})
}
