package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

// RegistryBrowserService serves interactive read-only lookups. Each call
// opens its own session and returns registry failures unchanged.
type RegistryBrowserService struct {
	registry ports.RegistryConnector
}

func NewRegistryBrowserService(registry ports.RegistryConnector) *RegistryBrowserService {
	return &RegistryBrowserService{registry: registry}
}

func (s *RegistryBrowserService) Retrieve(ctx context.Context, id string) (*domain.RegistryObject, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve registry object", errors.New("id is required"))
	}
	return s.registry.NewSession().Retrieve(ctx, id)
}

func (s *RegistryBrowserService) Search(ctx context.Context, query string, page, size int) (*domain.RegistrySearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search registry", errors.New("query is required"))
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return s.registry.NewSession().Search(ctx, query, page, size)
}

func (s *RegistryBrowserService) Operations(ctx context.Context, targetID string) ([]string, error) {
	return s.registry.NewSession().ListOperations(ctx, strings.TrimSpace(targetID))
}
