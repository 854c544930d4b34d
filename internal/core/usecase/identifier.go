package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

const DefaultHandleType = "Handle"

// IdentifierService mints registry-native handles and wraps foreign
// identifiers behind them.
type IdentifierService struct {
	placeholderType string
}

func NewIdentifierService(placeholderType string) *IdentifierService {
	if strings.TrimSpace(placeholderType) == "" {
		placeholderType = DefaultHandleType
	}
	return &IdentifierService{placeholderType: placeholderType}
}

// MintHandle creates an empty placeholder object and returns the key the
// registry assigned to it. There is no retry.
func (s *IdentifierService) MintHandle(ctx context.Context, session ports.RegistrySession) (string, error) {
	obj, err := session.Create(ctx, domain.RegistryObject{
		Type:    s.placeholderType,
		Content: map[string]any{},
	})
	if err != nil {
		return "", fmt.Errorf("mint handle: %w", err)
	}
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		return "", domain.WrapError(domain.ErrTemporary, "mint handle", errors.New("registry returned no id"))
	}
	return obj.ID, nil
}

// Resolve maps a content identifier to the handle it is represented by in
// the registry. A DOI is wrapped behind a freshly minted proxy handle; a
// failed mint leaves the handle empty and keeps the DOI for a later retry.
func (s *IdentifierService) Resolve(ctx context.Context, session ports.RegistrySession, id string) domain.ResolvedIdentifier {
	switch domain.ClassifyIdentifier(id) {
	case domain.IdentifierDOI:
		handle, err := s.MintHandle(ctx, session)
		if err != nil {
			slog.Warn("doi_proxy_mint_failed", "doi", id, "error", err)
			return domain.ResolvedIdentifier{ExternalID: id, ExternalType: string(domain.IdentifierDOI)}
		}
		return domain.ResolvedIdentifier{Handle: handle, ExternalID: id, ExternalType: string(domain.IdentifierDOI)}
	case domain.IdentifierHandle:
		return domain.ResolvedIdentifier{Handle: id}
	default:
		return domain.ResolvedIdentifier{ExternalID: id, ExternalType: string(domain.IdentifierUnknown)}
	}
}
