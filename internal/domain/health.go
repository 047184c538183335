package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// BridgeMetrics is returned by GET /api/efi/metrics.
type BridgeMetrics struct {
	GatewayRequests     int64            `json:"gatewayRequests"`
	GatewayErrors       map[string]int64 `json:"gatewayErrors"`
	GatewayErrorRate    float64          `json:"gatewayErrorRate"`
	TokenRefreshes      int64            `json:"tokenRefreshes"`
	CompanyCacheHitRate float64          `json:"companyCacheHitRate"`
	Period              string           `json:"period"`
}
