package services

import (
	"context"
	"errors"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/repositories"
)

// SystemServiceDeps bundles the collaborators required to construct a system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Logger Logger
}

type systemService struct {
	health repositories.HealthRepository
	logger Logger
}

// NewSystemService wires dependencies into a concrete SystemService implementation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &systemService{health: deps.Health, logger: logger}, nil
}

func (s *systemService) Health(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	if report.Status != domain.HealthStatusOK {
		s.logger(ctx, "system_health_degraded", map[string]any{"status": string(report.Status)})
	}
	return report, nil
}
