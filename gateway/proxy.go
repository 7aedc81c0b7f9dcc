package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

// ServiceClient handles HTTP communication with one backend service
type ServiceClient struct {
	name           string
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *utils.CircuitBreaker
}

// ServiceClients holds all service clients
type ServiceClients struct {
	AuthService   *ServiceClient
	TenantService *ServiceClient
}

// errUpstream marks a 5xx answer so the breaker counts it
var errUpstream = errors.New("upstream server error")

// NewServiceClient creates a new service client
func NewServiceClient(name, baseURL string) *ServiceClient {
	return &ServiceClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		circuitBreaker: utils.NewCircuitBreaker(name, 5, 30*time.Second),
	}
}

// ProxyRequest forwards the request to the service and copies the answer back
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	// Build target URL
	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var bodyBytes []byte
	if c.Request.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(c.Request.Body)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to read request body")
			return
		}
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	// Copy headers
	for key, values := range c.Request.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	// Identity headers are informational; services validate the token themselves
	if id, ok := middleware.IdentityFromContext(c); ok {
		req.Header.Set("X-User-ID", strconv.FormatUint(uint64(id.PrincipalID), 10))
		req.Header.Set("X-User-Email", id.Email)
		req.Header.Set("X-Tenant-Org", id.TenantScope)
		req.Header.Set("X-User-Role", string(id.Role))
	}

	var (
		resp         *http.Response
		responseBody []byte
	)
	err = sc.circuitBreaker.Call(func() error {
		var callErr error
		resp, callErr = sc.httpClient.Do(req)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()

		responseBody, callErr = io.ReadAll(resp.Body)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errUpstream
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUpstream) {
		logrus.WithFields(logrus.Fields{
			"service": sc.name,
			"path":    c.Request.URL.Path,
			"error":   err,
		}).Warn("Proxy request failed")
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrProbeInFlight) {
			utils.ServiceUnavailableResponse(c, sc.name+" temporarily unavailable")
			return
		}
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to communicate with service")
		return
	}

	// Copy response headers
	for key, values := range resp.Header {
		for _, value := range values {
			c.Header(key, value)
		}
	}

	// Set status and return response
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck() error {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	return nil
}

// GetServiceStatus returns the status of all services
func (scs *ServiceClients) GetServiceStatus() map[string]interface{} {
	status := make(map[string]interface{})
	for _, sc := range []*ServiceClient{scs.AuthService, scs.TenantService} {
		entry := map[string]interface{}{
			"healthy": true,
			"circuit": sc.circuitBreaker.State(),
		}
		if err := sc.HealthCheck(); err != nil {
			entry["healthy"] = false
			entry["error"] = err.Error()
		}
		status[sc.name] = entry
	}
	return status
}
