package main

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-isolation/shared/guards"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/tenancy"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

// TenantCreator provisions new tenants
type TenantCreator interface {
	CreateTenant(ctx context.Context, requester models.Identity, org string, admin models.NewPrincipal) (*models.TenantRecord, error)
}

// PrincipalStore reads and writes principals inside a tenant's store
type PrincipalStore interface {
	Create(ctx context.Context, org string, np models.NewPrincipal) (*models.Principal, error)
	FindByID(ctx context.Context, org string, id uint) (*models.Principal, error)
}

// Service bundles what the tenant handlers need
type Service struct {
	Workflow   TenantCreator
	Directory  tenancy.Directory
	Principals PrincipalStore
}

// CreateTenantRequest represents the create tenant request
type CreateTenantRequest struct {
	Org   string              `json:"org" binding:"required"`
	Admin models.NewPrincipal `json:"admin" binding:"required"`
}

// handleCreateTenant provisions an isolated tenant (platform operators only)
func handleCreateTenant(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		requester, _ := middleware.IdentityFromContext(c)
		rec, err := svc.Workflow.CreateTenant(c.Request.Context(), requester, req.Org, req.Admin)
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		utils.CreatedResponse(c, "Tenant created successfully", rec.View())
	}
}

// handleGetTenants lists active tenants
func handleGetTenants(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := svc.Directory.List(c.Request.Context())
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		views := make([]models.TenantView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, rec.View())
		}
		utils.OKResponse(c, "Tenants retrieved successfully", views)
	}
}

func handleGetTenant(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Directory.ResolveByOrg(c.Request.Context(), c.Param("org"))
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		utils.OKResponse(c, "Tenant retrieved successfully", rec.View())
	}
}

// handleCreateTenantUser registers a principal in the tenant's own store
func handleCreateTenantUser(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewPrincipal
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		p, err := svc.Principals.Create(c.Request.Context(), c.Param("org"), req)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		utils.CreatedResponse(c, "User created successfully", p)
	}
}

// handleGetTenantUser returns one principal; non-admins may only read themselves
func handleGetTenantUser(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid user id")
			return
		}

		id, _ := middleware.IdentityFromContext(c)
		if _, err := guards.RequireSelfOrAdmin(id, uint(principalID)); err != nil {
			utils.RespondError(c, err)
			return
		}

		p, err := svc.Principals.FindByID(c.Request.Context(), c.Param("org"), uint(principalID))
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		utils.OKResponse(c, "User retrieved successfully", p)
	}
}
