package model

// HealthStatus is the overall service health reported by the health endpoint.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthReport describes reachability of the configured credential backend.
type HealthReport struct {
	Status  HealthStatus
	Backend StoreBackend
	Error   string
}
