package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/metrics"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Components []*ComponentStatus     `json:"components"`
	Summary    map[string]interface{} `json:"summary"`
}

// RelaySource is the part of the relay manager health looks at.
type RelaySource interface {
	DefaultRelays() []string
	ActiveRelays() []string
}

// HealthChecker reports relay connectivity and process health.
type HealthChecker struct {
	relays    RelaySource
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(relays RelaySource, logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		relays:    relays,
		logger:    logger.Named("health"),
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth runs every component check.
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	startTime := time.Now()
	components := []*ComponentStatus{
		h.checkRelays(),
		h.checkPublishing(),
		h.checkMemory(),
		h.checkSystemResources(),
	}

	return &HealthResponse{
		Status:     h.determineOverallStatus(components),
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     formatUptime(time.Since(h.startTime)),
		Components: components,
		Summary: map[string]interface{}{
			"total_components":     len(components),
			"healthy_components":   countComponentsByStatus(components, StatusHealthy),
			"degraded_components":  countComponentsByStatus(components, StatusDegraded),
			"unhealthy_components": countComponentsByStatus(components, StatusUnhealthy),
			"check_duration_ms":    time.Since(startTime).Milliseconds(),
		},
	}
}

// checkRelays compares the default relay set against what is connected.
func (h *HealthChecker) checkRelays() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "relays",
		Details: make(map[string]interface{}),
	}

	defaults := h.relays.DefaultRelays()
	active := h.relays.ActiveRelays()

	var missing []string
	connected := 0
	for _, uri := range defaults {
		if slices.Contains(active, uri) {
			connected++
		} else {
			missing = append(missing, uri)
		}
	}
	status.Details["active"] = active
	status.Details["default_connected"] = connected
	status.Details["default_total"] = len(defaults)
	if len(missing) > 0 {
		status.Details["missing"] = missing
	}

	switch {
	case len(defaults) == 0 && len(active) == 0:
		status.Status = StatusDegraded
		status.Message = "No relays configured or connected"
	case len(defaults) == 0, connected == len(defaults):
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Connected to %d relays", len(active))
	case connected > 0:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Connected to %d/%d default relays", connected, len(defaults))
	default:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("None of %d default relays connected", len(defaults))
	}
	return status
}

// checkPublishing is informational; it never degrades the overall status.
func (h *HealthChecker) checkPublishing() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "publishing",
		Status:  StatusHealthy,
		Details: make(map[string]interface{}),
	}
	published := metrics.GetEventsPublished()
	status.Details["events_published"] = published
	if last := metrics.LastPublish(); !last.IsZero() {
		status.Details["last_publish"] = last.UTC().Format(time.RFC3339)
		status.Message = fmt.Sprintf("%d events published, last %s ago", published, formatUptime(time.Since(last)))
	} else {
		status.Message = "No events published yet"
	}
	return status
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := &ComponentStatus{
		Name:    "memory",
		Details: make(map[string]interface{}),
	}

	allocMB := float64(m.Alloc) / 1024 / 1024
	status.Details["alloc_mb"] = allocMB
	status.Details["sys_mb"] = float64(m.Sys) / 1024 / 1024
	status.Details["heap_mb"] = float64(m.HeapAlloc) / 1024 / 1024
	status.Details["num_gc"] = m.NumGC

	const (
		memoryWarningMB  = 256
		memoryCriticalMB = 512
	)

	switch {
	case allocMB > memoryCriticalMB:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High memory usage: %.1f MB", allocMB)
	case allocMB > memoryWarningMB:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated memory usage: %.1f MB", allocMB)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Memory usage normal: %.1f MB", allocMB)
	}
	return status
}

// checkSystemResources checks system-level resources
func (h *HealthChecker) checkSystemResources() *ComponentStatus {
	goroutineCount := runtime.NumGoroutine()
	status := &ComponentStatus{
		Name: "system",
		Details: map[string]interface{}{
			"goroutines": goroutineCount,
			"cpus":       runtime.NumCPU(),
		},
	}

	// Each relay costs two loop goroutines plus its fan-out workers.
	const (
		goroutineWarning  = 2000
		goroutineCritical = 10000
	)

	switch {
	case goroutineCount > goroutineCritical:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High goroutine count: %d", goroutineCount)
	case goroutineCount > goroutineWarning:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated goroutine count: %d", goroutineCount)
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("System resources normal: %d goroutines", goroutineCount)
	}
	return status
}

// determineOverallStatus determines the overall health status from components
func (h *HealthChecker) determineOverallStatus(components []*ComponentStatus) HealthStatus {
	switch {
	case countComponentsByStatus(components, StatusUnhealthy) > 0:
		return StatusUnhealthy
	case countComponentsByStatus(components, StatusDegraded) > 0:
		return StatusDegraded
	}
	return StatusHealthy
}

func countComponentsByStatus(components []*ComponentStatus, status HealthStatus) int {
	count := 0
	for _, comp := range components {
		if comp.Status == status {
			count++
		}
	}
	return count
}

// formatUptime formats a duration as a human-readable string
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HandleHealth is the HTTP handler for health checks. Unhealthy answers 503.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.HealthCheckTimeout)
	defer cancel()

	healthResponse := h.CheckHealth(ctx)

	statusCode := http.StatusOK
	if healthResponse.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(healthResponse); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
		return
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(healthResponse.Status)),
		zap.Int("status_code", statusCode),
		zap.String("client_ip", r.RemoteAddr))
}
