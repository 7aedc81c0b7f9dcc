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

	"github.com/pavitra93/go-tenant-isolation/shared/config"
	"github.com/pavitra93/go-tenant-isolation/shared/events"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/principals"
	"github.com/pavitra93/go-tenant-isolation/shared/provisioning"
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

	dbConfig := config.GetDatabaseConfig()
	db, err := config.ConnectDatabase(dbConfig)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	directory := tenancy.NewGormDirectory(db)
	if err := directory.Migrate(); err != nil {
		log.Fatal("Failed to migrate management database:", err)
	}

	// Redis backs the revocation ledger so logged out tokens are refused here too
	redisClient, err := utils.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	mt := metrics.New(prometheus.DefaultRegisterer)
	sessions := session.NewManager(cfg.SecretKey, cfg.SessionLifetime,
		session.NewRedisLedger(redisClient), session.WithMetrics(mt))

	openTenant := func(_ context.Context, locator string) (*gorm.DB, error) {
		return config.OpenTenantDatabase(dbConfig, locator)
	}
	stores := tenancy.NewRouter(directory, openTenant, mt)
	defer stores.Close()

	publisher := events.FromBroker(cfg.KafkaBroker)
	defer publisher.Close()

	workflow := provisioning.NewWorkflow(provisioning.Config{
		Directory:      directory,
		Allocator:      provisioning.NewPostgresAllocator(db),
		Seeder:         provisioning.NewGormSeeder(openTenant),
		Publisher:      publisher,
		Metrics:        mt,
		PlatformDomain: cfg.PlatformDomain,
		Timeout:        cfg.ProvisionTimeout,
	})

	router := gin.Default()
	setupRoutes(router, &Service{
		Workflow:   workflow,
		Directory:  directory,
		Principals: principals.NewRepository(stores),
	}, middleware.NewAuthMiddleware(sessions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start server
	port := os.Getenv("TENANT_SERVICE_PORT")
	if port == "" {
		port = "8002"
	}

	logrus.Infof("Tenant service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start tenant service:", err)
	}
}

func setupRoutes(router *gin.Engine, svc *Service, authMiddleware *middleware.AuthMiddleware) {
	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Tenant service is healthy", nil)
	})

	// Platform management (operators only)
	platform := router.Group("/platform/tenants")
	platform.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole(models.RolePlatformOperator))
	{
		platform.POST("", handleCreateTenant(svc))
		platform.GET("", handleGetTenants(svc))
		platform.GET("/:org", handleGetTenant(svc))
	}

	// Tenant principals, confined to the caller's own tenant
	tenant := router.Group("/tenants/:org")
	tenant.Use(authMiddleware.RequireAuth(), authMiddleware.RequireTenantAccess())
	{
		tenant.POST("/users", authMiddleware.RequireTenantAdmin(), handleCreateTenantUser(svc))
		tenant.GET("/users/:id", handleGetTenantUser(svc))
	}
}
