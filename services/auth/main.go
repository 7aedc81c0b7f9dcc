package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/authn"
	"github.com/pavitra93/go-tenant-isolation/shared/config"
	"github.com/pavitra93/go-tenant-isolation/shared/events"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/principals"
	"github.com/pavitra93/go-tenant-isolation/shared/session"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	cfg.ConfigureLogging()
	ctx := context.Background()

	// Management database holds the tenant directory and platform operators
	dbConfig := config.GetDatabaseConfig()
	db, err := config.ConnectDatabase(dbConfig)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	directory := tenancy.NewGormDirectory(db)
	if err := directory.Migrate(); err != nil {
		log.Fatal("Failed to migrate management database:", err)
	}

	redisClient, err := utils.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	mt := metrics.New(prometheus.DefaultRegisterer)
	sessions := session.NewManager(cfg.SecretKey, cfg.SessionLifetime,
		session.NewRedisLedger(redisClient), session.WithMetrics(mt))

	stores := tenancy.NewRouter(directory, func(_ context.Context, locator string) (*gorm.DB, error) {
		return config.OpenTenantDatabase(dbConfig, locator)
	}, mt)
	defer stores.Close()

	operators := principals.NewOperators(db)
	if _, err := operators.EnsureBootstrap(ctx, cfg.PlatformAdmin, cfg.PlatformDomain); err != nil {
		log.Fatal("Failed to bootstrap platform operator:", err)
	}

	publisher := events.FromBroker(cfg.KafkaBroker)
	defer publisher.Close()

	authenticator := &authn.Authenticator{
		Directory:      directory,
		Operators:      operators,
		Principals:     principals.NewRepository(stores),
		Challenge:      authn.NewChallengeVerifier(cfg.DisableCaptcha, redisClient),
		Sessions:       sessions,
		Publisher:      publisher,
		Metrics:        mt,
		PlatformDomain: cfg.PlatformDomain,
	}

	router := gin.Default()
	setupRoutes(router, authenticator, middleware.NewAuthMiddleware(sessions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start server
	port := os.Getenv("AUTH_SERVICE_PORT")
	if port == "" {
		port = "8001"
	}

	logrus.Infof("Auth service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start auth service:", err)
	}
}

func setupRoutes(router *gin.Engine, authenticator *authn.Authenticator, authMiddleware *middleware.AuthMiddleware) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Auth service is healthy", nil)
	})

	auth := router.Group("/auth")
	{
		auth.POST("/login", handleLogin(authenticator))
		auth.POST("/logout", authMiddleware.RequireAuth(), handleLogout(authenticator))
		auth.GET("/me", authMiddleware.RequireAuth(), handleMe())
	}
}
