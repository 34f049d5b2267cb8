// Package models holds the request and response bodies of the SafeRoute API.
package models

// HealthStatus is the coarse state of the service or one provider.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)
