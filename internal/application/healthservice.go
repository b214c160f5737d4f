package application

import (
	"context"
	"time"

	"github.com/ericfisherdev/invoicedesk/internal/domain/model"
	"github.com/ericfisherdev/invoicedesk/internal/domain/port/driven"
)

const healthPingTimeout = 2 * time.Second

// HealthService reports reachability of the configured credential backend.
type HealthService struct {
	store   driven.CredentialStore
	backend model.StoreBackend
}

// NewHealthService creates a new HealthService for the given store.
func NewHealthService(store driven.CredentialStore, backend model.StoreBackend) *HealthService {
	return &HealthService{
		store:   store,
		backend: backend,
	}
}

// Check pings the store and returns HealthStatusDegraded with the error text
// when the ping fails or exceeds its timeout.
func (s *HealthService) Check(ctx context.Context) model.HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	report := model.HealthReport{
		Status:  model.HealthStatusOK,
		Backend: s.backend,
	}
	if err := s.store.Ping(ctx); err != nil {
		report.Status = model.HealthStatusDegraded
		report.Error = err.Error()
	}
	return report
}
