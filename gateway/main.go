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

	"github.com/pavitra93/go-tenant-isolation/shared/config"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/session"
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

	redisClient, err := utils.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	// The gateway checks the same tokens the services issue, revocations included
	sessions := session.NewManager(cfg.SecretKey, cfg.SessionLifetime,
		session.NewRedisLedger(redisClient),
		session.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))

	serviceClients := &ServiceClients{
		AuthService:   NewServiceClient("auth_service", getEnv("AUTH_SERVICE_URL", "http://localhost:8001")),
		TenantService: NewServiceClient("tenant_service", getEnv("TENANT_SERVICE_URL", "http://localhost:8002")),
	}

	router := gin.Default()
	setupRoutes(router, serviceClients, middleware.NewAuthMiddleware(sessions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start server
	port := getEnv("API_GATEWAY_PORT", "8080")
	logrus.Infof("API Gateway starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start API Gateway:", err)
	}
}

func setupRoutes(router *gin.Engine, serviceClients *ServiceClients, authMiddleware *middleware.AuthMiddleware) {
	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "API Gateway is healthy", nil)
	})
	router.GET("/status", func(c *gin.Context) {
		utils.OKResponse(c, "Service status", serviceClients.GetServiceStatus())
	})

	// Authentication routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", serviceClients.AuthService.ProxyRequest)
		auth.POST("/logout", authMiddleware.RequireAuth(), serviceClients.AuthService.ProxyRequest)
		auth.GET("/me", authMiddleware.RequireAuth(), serviceClients.AuthService.ProxyRequest)
	}

	// Platform management routes (operators only)
	platform := router.Group("/platform/tenants")
	platform.Use(authMiddleware.RequireAuth(), authMiddleware.RequireRole(models.RolePlatformOperator))
	{
		platform.POST("", serviceClients.TenantService.ProxyRequest)
		platform.GET("", serviceClients.TenantService.ProxyRequest)
		platform.GET("/:org", serviceClients.TenantService.ProxyRequest)
	}

	// Tenant routes, rejected at the edge when the token scope does not match
	tenant := router.Group("/tenants/:org")
	tenant.Use(authMiddleware.RequireAuth(), authMiddleware.RequireTenantAccess())
	{
		tenant.POST("/users", authMiddleware.RequireTenantAdmin(), serviceClients.TenantService.ProxyRequest)
		tenant.GET("/users/:id", serviceClients.TenantService.ProxyRequest)
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
