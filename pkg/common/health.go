package common

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the body of the liveness and readiness endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

var startedAt = time.Now()

// HealthCheck answers liveness checks
func HealthCheck(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:  "healthy",
			Service: serviceName,
			Version: version,
			Uptime:  time.Since(startedAt).Round(time.Second).String(),
		})
	}
}

// HealthCheckWithDeps answers readiness probes. Checks run concurrently; any failure
// turns the response into a 503 that names the failing dependency.
func HealthCheckWithDeps(serviceName, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			results = make(map[string]string, len(checks))
			healthy = true
		)
		for name, check := range checks {
			wg.Add(1)
			go func(name string, check func() error) {
				defer wg.Done()
				err := check()
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[name] = "unhealthy: " + err.Error()
					healthy = false
					return
				}
				results[name] = "healthy"
			}(name, check)
		}
		wg.Wait()

		resp := HealthResponse{
			Status:  "healthy",
			Service: serviceName,
			Version: version,
			Uptime:  time.Since(startedAt).Round(time.Second).String(),
			Checks:  results,
		}
		code := http.StatusOK
		if !healthy {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
