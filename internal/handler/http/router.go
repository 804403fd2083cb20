package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AdityaNittala03/gonews-auth/internal/auth"
	"github.com/AdityaNittala03/gonews-auth/internal/service"
	"github.com/AdityaNittala03/gonews-auth/pkg/health"
	"github.com/AdityaNittala03/gonews-auth/pkg/middleware"
)

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService *service.AuthService,
	jwtManager *auth.JWTManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("auth"))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Token validator that bridges to our internal JWTManager.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:     claims.UserID,
			Email:      claims.Email,
			IsVerified: claims.IsVerified,
		}, nil
	}

	authHandler := NewAuthHandler(authService, logger)

	// Public auth endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/verify-registration-otp", authHandler.VerifyRegistrationOTP)
		r.Post("/complete-registration", authHandler.CompleteRegistration)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Post("/logout", authHandler.Logout)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/verify-password-reset-otp", authHandler.VerifyPasswordResetOTP)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/resend-otp", authHandler.ResendOTP)

		// Authenticated auth endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/change-password", authHandler.ChangePassword)
		})
	})

	// Profile endpoints (auth required)
	profileHandler := NewProfileHandler(authService, logger)
	r.Route("/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/me", profileHandler.GetProfile)
		r.Put("/me", profileHandler.UpdateProfile)
	})

	return r
}
