package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/analysis"
	"github.com/fieldatlas/fieldatlas/internal/app"
	iauth "github.com/fieldatlas/fieldatlas/internal/auth"
	"github.com/fieldatlas/fieldatlas/internal/auth/providers"
	"github.com/fieldatlas/fieldatlas/internal/handlers"
	"github.com/fieldatlas/fieldatlas/internal/middleware"
	"github.com/fieldatlas/fieldatlas/internal/roles"
	"github.com/fieldatlas/fieldatlas/internal/services"
)

// Deps bundles everything the router mounts. Analysis and OIDC are optional;
// their routes are skipped when nil.
type Deps struct {
	DB            *gorm.DB
	Config        *app.Config
	JWT           *iauth.JWTService
	Sessions      *iauth.SessionService
	Authenticator *iauth.Authenticator
	Users         *services.UserService
	Tokens        *services.TokenService
	Listings      *services.ListingService
	Submissions   *services.SubmissionService
	Audit         *services.AuditService
	Analysis      *analysis.Client
	OIDC          *providers.OIDCProvider
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil || deps.Sessions == nil || deps.Authenticator == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Users == nil || deps.Tokens == nil || deps.Listings == nil || deps.Submissions == nil || deps.Audit == nil {
		return nil, fmt.Errorf("domain services must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	cookieSecure := deps.Config.Server.CookieSecure

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Analysis)
	r.GET("/api/health", healthHandler.Health)

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	registerPages(r, deps.JWT)

	authHandler := handlers.NewAuthHandler(deps.Authenticator, deps.Sessions, deps.Users, deps.Tokens, cookieSecure)
	inviteHandler := handlers.NewInviteHandler(deps.Tokens, deps.Users)

	// Public auth routes sit behind the credential rate limit.
	auth := r.Group("/api/auth")
	if rl := deps.Config.Auth.RateLimit; rl.MaxRequests > 0 {
		auth.Use(middleware.RateLimit(rl.MaxRequests, rl.Window))
	}
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/verify", authHandler.VerifyEmail)
		auth.POST("/reset/request", authHandler.RequestPasswordReset)
		auth.POST("/reset/confirm", authHandler.ConfirmPasswordReset)
	}
	r.POST("/api/invites/accept", inviteHandler.Accept)

	if deps.OIDC != nil {
		providerHandler := handlers.NewProviderHandler(deps.OIDC, deps.Sessions, cookieSecure)
		auth.GET("/oauth/start", providerHandler.Start)
		auth.GET("/oauth/callback", providerHandler.Callback)
	}

	requireAuth := middleware.Auth(deps.JWT)
	optionalAuth := middleware.OptionalAuth(deps.JWT)

	api := r.Group("/api")
	api.GET("/auth/me", requireAuth, authHandler.Me)

	// Listings: reads are public (anonymous callers see published records),
	// writes require an account, review requires the editor floor.
	listingHandler := handlers.NewListingHandler(deps.Listings)
	listings := api.Group("/listings")
	{
		listings.GET("", optionalAuth, listingHandler.List)
		listings.GET("/:id", optionalAuth, listingHandler.Get)
		listings.POST("", requireAuth, listingHandler.Create)
		listings.PUT("/:id", requireAuth, listingHandler.Update)
		listings.DELETE("/:id", requireAuth, listingHandler.Delete)
		listings.POST("/:id/submit", requireAuth, listingHandler.Submit)
		listings.POST("/:id/review", requireAuth, middleware.RequireRole(roles.Editor), listingHandler.Review)
	}

	submissionHandler := handlers.NewSubmissionHandler(deps.Submissions)
	submissions := api.Group("/submissions")
	submissions.Use(requireAuth)
	{
		submissions.POST("", submissionHandler.Create)
		submissions.GET("", submissionHandler.List)
		submissions.GET("/:id", submissionHandler.Get)
		submissions.POST("/:id/review", middleware.RequireRole(roles.Editor), submissionHandler.Review)
	}

	analysisHandler := handlers.NewAnalysisHandler(deps.Analysis, deps.Listings, deps.DB)
	analysisRoutes := api.Group("/analysis")
	analysisRoutes.Use(requireAuth)
	{
		analysisRoutes.POST("", analysisHandler.Analyze)
		analysisRoutes.GET("/history", analysisHandler.History)
	}

	userHandler := handlers.NewUserHandler(deps.Users, deps.Sessions)
	users := api.Group("/users")
	users.Use(requireAuth, middleware.RequireRole(roles.Admin))
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id/role", userHandler.SetRole)
		users.DELETE("/:id", userHandler.Deactivate)
		users.DELETE("/:id/purge", userHandler.Purge)
	}

	api.POST("/invites", requireAuth, middleware.RequireRole(roles.Admin), inviteHandler.Create)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	api.GET("/audit", requireAuth, middleware.RequireRole(roles.Editor), auditHandler.List)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
