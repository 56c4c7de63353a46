package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/84adam/arkvault/logging"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check result
type HealthCheck struct {
	Name     string            `json:"name"`
	Status   HealthStatus      `json:"status"`
	Message  string            `json:"message,omitempty"`
	Duration time.Duration     `json:"duration"`
	Details  map[string]string `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

// HealthChecker is one named check run on every health request.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheck
}

type HealthMonitor struct {
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthChecker
}

func NewHealthMonitor(checkers ...HealthChecker) *HealthMonitor {
	hm := &HealthMonitor{
		startTime: time.Now(),
		checks:    make(map[string]HealthChecker),
	}
	for _, c := range checkers {
		hm.RegisterCheck(c)
	}
	return hm
}

// RegisterCheck adds checker, replacing any check with the same name.
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[checker.Name()] = checker
}

// GetHealthStatus runs every check. The overall status is the worst one.
func (hm *HealthMonitor) GetHealthStatus(ctx context.Context) HealthResponse {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
		Checks:    make(map[string]HealthCheck, len(hm.checks)),
	}

	for name, checker := range hm.checks {
		start := time.Now()
		check := checker.Check(ctx)
		check.Name = name
		check.Duration = time.Since(start)
		resp.Checks[name] = check
		resp.Summary.Total++

		switch check.Status {
		case StatusHealthy:
			resp.Summary.Healthy++
		case StatusDegraded:
			resp.Summary.Degraded++
		default:
			resp.Summary.Unhealthy++
		}
	}

	if resp.Summary.Unhealthy > 0 {
		resp.Status = StatusUnhealthy
	} else if resp.Summary.Degraded > 0 {
		resp.Status = StatusDegraded
	}
	return resp
}

// HealthHandler serves the full report. Degraded is still 200.
func (hm *HealthMonitor) HealthHandler(c echo.Context) error {
	status := hm.GetHealthStatus(c.Request().Context())

	httpStatus := http.StatusOK
	if status.Status == StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
		for name, check := range status.Checks {
			if check.Status == StatusUnhealthy {
				logging.ErrorLogger.Printf("Health check %s failed: %s", name, check.Message)
			}
		}
	}
	return c.JSON(httpStatus, status)
}

// LivenessHandler answers without touching any dependency.
func (hm *HealthMonitor) LivenessHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(hm.startTime).Round(time.Second).String(),
	})
}

// DatabaseHealthCheck pings the database and reports the live session count.
type DatabaseHealthCheck struct {
	DB *sql.DB
}

func (d *DatabaseHealthCheck) Name() string {
	return "database"
}

func (d *DatabaseHealthCheck) Check(ctx context.Context) HealthCheck {
	if d.DB == nil {
		return HealthCheck{Status: StatusUnhealthy, Message: "Database connection is nil"}
	}
	if err := d.DB.PingContext(ctx); err != nil {
		return HealthCheck{Status: StatusUnhealthy, Message: fmt.Sprintf("Database ping failed: %v", err)}
	}

	var active int
	err := d.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE revoked = FALSE AND expires_at > ?", time.Now().UTC(),
	).Scan(&active)
	if err != nil {
		return HealthCheck{Status: StatusDegraded, Message: fmt.Sprintf("Session count failed: %v", err)}
	}
	return HealthCheck{
		Status:  StatusHealthy,
		Message: "Database operational",
		Details: map[string]string{"active_sessions": fmt.Sprintf("%d", active)},
	}
}

// KeyHealthCheck reports on server key material loaded at startup.
type KeyHealthCheck struct {
	// EphemeralPakeKey is set when the OPAQUE key was generated at boot;
	// registrations made now stop verifying after a restart.
	EphemeralPakeKey bool
	TOTPMasterKey    []byte
	TOTPKeyLength    int
}

func (k *KeyHealthCheck) Name() string {
	return "keys"
}

func (k *KeyHealthCheck) Check(ctx context.Context) HealthCheck {
	check := HealthCheck{Status: StatusHealthy, Message: "Key material loaded", Details: map[string]string{
		"opaque_server_key": "configured",
		"totp_master_key":   "configured",
	}}

	if len(k.TOTPMasterKey) != k.TOTPKeyLength {
		check.Status = StatusUnhealthy
		check.Message = "TOTP master key has the wrong length"
		check.Details["totp_master_key"] = "invalid"
		return check
	}
	if k.EphemeralPakeKey {
		check.Status = StatusDegraded
		check.Message = "OPAQUE server key is ephemeral"
		check.Details["opaque_server_key"] = "ephemeral"
	}
	return check
}

// SystemHealthCheck flags runaway memory or goroutine growth.
type SystemHealthCheck struct{}

func (s *SystemHealthCheck) Name() string {
	return "system"
}

func (s *SystemHealthCheck) Check(ctx context.Context) HealthCheck {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	memUsageMB := memStats.Alloc / 1024 / 1024
	numGoroutines := runtime.NumGoroutine()
	check := HealthCheck{
		Status:  StatusHealthy,
		Message: "System resources normal",
		Details: map[string]string{
			"memory_mb":  fmt.Sprintf("%d", memUsageMB),
			"goroutines": fmt.Sprintf("%d", numGoroutines),
		},
	}

	if memUsageMB > 1024 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("High memory usage: %d MB", memUsageMB)
	} else if numGoroutines > 1000 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	}
	return check
}
