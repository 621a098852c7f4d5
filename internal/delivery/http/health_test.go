package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

// mockSessions implements SessionHealthChecker for testing
type mockSessions struct {
	count int
}

func (m *mockSessions) ActiveSessionCount() int {
	return m.count
}

// mockStore implements StoreHealthChecker for testing
type mockStore struct {
	err error
}

func (m *mockStore) Ping(_ context.Context) error {
	return m.err
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	handler := NewHealthHandler(&mockSessions{count: 2}, &mockStore{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != HealthStatusHealthy {
		t.Errorf("Expected status %s, got %s", HealthStatusHealthy, response.Status)
	}
	if len(response.Components) != 2 {
		t.Errorf("Expected 2 components, got %d", len(response.Components))
	}
}

func TestHealthHandler_NoSessions(t *testing.T) {
	handler := NewHealthHandler(&mockSessions{count: 0}, &mockStore{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	// Degraded but still serving: logins can re-create sessions.
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d for degraded state, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != HealthStatusDegraded {
		t.Errorf("Expected status %s, got %s", HealthStatusDegraded, response.Status)
	}
}

func TestHealthHandler_AllDown(t *testing.T) {
	handler := NewHealthHandler(&mockSessions{count: 0}, &mockStore{err: errors.New("down")}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Status != HealthStatusUnhealthy {
		t.Errorf("Expected status %s, got %s", HealthStatusUnhealthy, response.Status)
	}
}

func TestHealthHandler_NilStore(t *testing.T) {
	handler := NewHealthHandler(&mockSessions{count: 1}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Components) != 1 {
		t.Errorf("Expected 1 component without a store, got %d", len(response.Components))
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	handler := NewHealthHandler(&mockSessions{count: 1}, &mockStore{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
