package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/tikiti-ke/tikiti/internal/handler"    // import the handlers that implement business logic
	"github.com/tikiti-ke/tikiti/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes.  Register and login
// live under /v1/auth and require no session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/v1/auth")
	// Register a POST endpoint to handle user registration at /v1/auth/register.
	g.POST("/register", a.Register)
	// Register a POST endpoint to handle user login at /v1/auth/login.
	g.POST("/login", a.Login)
}

// RegisterEvents registers the public event catalogue plus the
// organizer-only creation endpoint.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, jwtSecret string) {
	// Guests browse events and tiers without authentication.
	e.GET("/v1/events", h.List)
	e.GET("/v1/events/:id", h.Get)

	// Creation requires an ORGANIZER access token.
	org := e.Group("/v1/events")
	org.Use(middleware.JWTAuth(jwtSecret))
	org.Use(middleware.RequireRole("ORGANIZER"))
	org.POST("", h.Create)
}

// RegisterPurchase registers the checkout endpoints.  They serve both
// logged-in buyers and guests, so OptionalJWTAuth is applied: a valid
// bearer token yields a user identity, no token means guest
// authorization inside the handler.
func RegisterPurchase(e *echo.Echo, p *handler.PurchaseHandler, pay *handler.PaymentHandler, jwtSecret string) {
	opt := middleware.OptionalJWTAuth(jwtSecret)

	e.POST("/tickets/purchase", p.Purchase, opt)
	e.GET("/tickets/download/:id", p.Download, opt)
	// Gate-staff QR scan target; public, returns no purchaser details.
	e.GET("/v1/tickets/verify/:code", p.Verify)

	e.POST("/mpesa/stkpush", pay.STKPush, opt)
	// Daraja posts results here; no authentication is possible on this route.
	e.POST("/mpesa/callback", pay.Callback)
	// Status for logged-in buyers requires a full token...
	e.GET("/mpesa/status/:id", pay.Status, middleware.JWTAuth(jwtSecret))
	// ...while guests authorize with the token issued at purchase time.
	e.GET("/mpesa/guest-status/:id", pay.GuestStatus)
}
