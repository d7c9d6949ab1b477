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

// CallMetrics is returned by GET /v1/metrics/calls.
type CallMetrics struct {
	EventsAccepted   int64   `json:"eventsAccepted"`
	EventsRejected   int64   `json:"eventsRejected"`
	EventsIgnored    int64   `json:"eventsIgnored"`
	SessionsCreated  int64   `json:"sessionsCreated"`
	ToolCalls        int64   `json:"toolCalls"`
	ToolErrorRate    float64 `json:"toolErrorRate"`
	StoreConflicts   int64   `json:"storeConflicts"`
	DetachedFailures int64   `json:"detachedFailures"`
	CacheHitRate     float64 `json:"cacheHitRate"`
	Period           string  `json:"period"`
}
