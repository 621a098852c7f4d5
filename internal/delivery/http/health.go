package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SessionHealthChecker reports how many MAX sessions are connected
type SessionHealthChecker interface {
	ActiveSessionCount() int
}

// StoreHealthChecker reports whether the persistence layer is reachable
type StoreHealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health status of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	sessions SessionHealthChecker
	store    StoreHealthChecker
	logger   zerolog.Logger
}

// NewHealthHandler creates a new health check handler. store may be nil
// when the service runs on the in-memory store.
func NewHealthHandler(sessions SessionHealthChecker, store StoreHealthChecker, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		sessions: sessions,
		store:    store,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler interface
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := h.checkComponents(ctx)
	status := h.determineOverallStatus(components)

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	statusCode := http.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	logEvent := h.logger.Debug()
	if status == HealthStatusUnhealthy {
		logEvent = h.logger.Warn()
	}
	logEvent.
		Str("status", string(status)).
		Int("status_code", statusCode).
		Msg("Health check completed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode health check response")
	}
}

// checkComponents checks health of all service components
func (h *HealthHandler) checkComponents(ctx context.Context) []ComponentHealth {
	components := make([]ComponentHealth, 0, 2)

	select {
	case <-ctx.Done():
		return []ComponentHealth{{
			Name:    "health_check",
			Healthy: false,
			Message: "Health check timeout",
		}}
	default:
	}

	sessionCount := h.sessions.ActiveSessionCount()
	sessionMsg := ""
	if sessionCount == 0 {
		sessionMsg = "No connected MAX sessions"
	}
	components = append(components, ComponentHealth{
		Name:    "max_sessions",
		Healthy: sessionCount > 0,
		Message: sessionMsg,
	})

	if h.store != nil {
		storeMsg := ""
		storeHealthy := true
		if err := h.store.Ping(ctx); err != nil {
			storeHealthy = false
			storeMsg = "Database is not reachable"
		}
		components = append(components, ComponentHealth{
			Name:    "database",
			Healthy: storeHealthy,
			Message: storeMsg,
		})
	}

	return components
}

// determineOverallStatus determines overall health status based on component health.
// A session-less service is degraded, not down; it still accepts logins.
func (h *HealthHandler) determineOverallStatus(components []ComponentHealth) HealthStatus {
	allHealthy := true
	anyHealthy := false

	for _, component := range components {
		if !component.Healthy {
			allHealthy = false
		} else {
			anyHealthy = true
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	} else if anyHealthy {
		return HealthStatusDegraded
	}

	return HealthStatusUnhealthy
}
