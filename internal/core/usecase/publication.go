package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

type PublicationService struct {
	repo        ports.PublicationRepository
	registry    ports.RegistryConnector
	identifiers *IdentifierService
	runner      ports.SyncRunner
	scheduler   ports.SyncScheduler
	syncDelay   time.Duration
	now         func() time.Time
}

func NewPublicationService(
	repo ports.PublicationRepository,
	registry ports.RegistryConnector,
	identifiers *IdentifierService,
	runner ports.SyncRunner,
	scheduler ports.SyncScheduler,
	syncDelay time.Duration,
) *PublicationService {
	return &PublicationService{
		repo:        repo,
		registry:    registry,
		identifiers: identifiers,
		runner:      runner,
		scheduler:   scheduler,
		syncDelay:   syncDelay,
		now:         time.Now,
	}
}

// Create validates the draft, gives the publication its registry key and
// stores the aggregate in one transaction. The registry push is deferred.
func (s *PublicationService) Create(ctx context.Context, draft domain.PublicationDraft) (*domain.Publication, error) {
	if err := validateDraft(draft, true); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	pub := &domain.Publication{
		DocumentID: uuid.NewString(),
		OwnerID:    draft.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyDraft(pub, draft)
	pub.Files = append([]domain.File(nil), draft.Files...)
	pub.Documents = append([]domain.Document(nil), draft.Documents...)

	if err := s.assignRootIdentifier(ctx, pub, strings.TrimSpace(draft.Identifier)); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, pub); err != nil {
		return nil, fmt.Errorf("create publication: %w", err)
	}
	s.scheduleSync(ctx, pub)
	return pub, nil
}

func (s *PublicationService) Get(ctx context.Context, id int64) (*domain.Publication, error) {
	pub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	return pub, nil
}

// UpdateMetadata replaces the scalar fields and value collections. Files and
// documents keep their identity and handles.
func (s *PublicationService) UpdateMetadata(ctx context.Context, id int64, draft domain.PublicationDraft) (*domain.Publication, error) {
	if err := validateDraft(draft, false); err != nil {
		return nil, err
	}

	pub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	applyDraft(pub, draft)
	pub.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateMetadata(ctx, pub); err != nil {
		return nil, fmt.Errorf("update publication: %w", err)
	}
	s.scheduleSync(ctx, pub)
	return pub, nil
}

// Delete removes the local aggregate and its mapping. Registry objects are
// left in place.
func (s *PublicationService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete publication: %w", err)
	}
	return nil
}

// Sync runs the pipeline inline. A publication without a registry key gets
// one minted and stored first; a key stored meanwhile by another run wins.
func (s *PublicationService) Sync(ctx context.Context, id int64) (*domain.SyncReport, error) {
	pub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	if pub.RegistryKey == "" {
		key, err := s.identifiers.MintHandle(ctx, s.registry.NewSession())
		if err != nil {
			return nil, err
		}
		stored, err := s.repo.ClaimRegistryKey(ctx, id, key)
		if err != nil {
			return nil, fmt.Errorf("store registry key: %w", err)
		}
		if stored != key {
			slog.Info("registry_key_adopted", "publication_id", id, "registry_key", stored, "discarded_key", key)
		} else {
			slog.Info("registry_key_assigned", "publication_id", id, "registry_key", key)
		}
	}
	return s.runner.Run(ctx, id)
}

// assignRootIdentifier adopts a handle, wraps a DOI behind a minted proxy or
// mints a fresh key. An unclassifiable identifier is kept in the extended
// metadata.
func (s *PublicationService) assignRootIdentifier(ctx context.Context, pub *domain.Publication, identifier string) error {
	switch domain.ClassifyIdentifier(identifier) {
	case domain.IdentifierHandle:
		pub.RegistryKey = identifier
		return nil
	case domain.IdentifierDOI:
		resolved := s.identifiers.Resolve(ctx, s.registry.NewSession(), identifier)
		if resolved.Handle == "" {
			return domain.WrapError(domain.ErrTemporary, "assign registry key", errors.New("doi proxy handle could not be minted"))
		}
		pub.RegistryKey = resolved.Handle
		pub.DOI = identifier
		return nil
	default:
		key, err := s.identifiers.MintHandle(ctx, s.registry.NewSession())
		if err != nil {
			return err
		}
		pub.RegistryKey = key
		if identifier != "" {
			if pub.ExtendedMetadata == nil {
				pub.ExtendedMetadata = map[string]any{}
			}
			pub.ExtendedMetadata["originalIdentifier"] = identifier
		}
		return nil
	}
}

func (s *PublicationService) scheduleSync(ctx context.Context, pub *domain.Publication) {
	if s.scheduler == nil || pub.RegistryKey == "" {
		return
	}
	// Scheduling is best effort; the scheduler logs its own failures.
	_, _ = s.scheduler.ScheduleSync(ctx, pub.ID, s.syncDelay)
}

func validateDraft(draft domain.PublicationDraft, requireOwner bool) error {
	if strings.TrimSpace(draft.Title) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate publication", errors.New("title is required"))
	}
	if draft.ResourceType != "" && !domain.IsResourceType(draft.ResourceType) {
		return domain.WrapError(domain.ErrInvalidInput, "validate publication", fmt.Errorf("unknown resource type %q", draft.ResourceType))
	}
	for i, f := range draft.Files {
		if strings.TrimSpace(f.URL) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate publication", fmt.Errorf("files[%d].url is required", i))
		}
	}
	for i, d := range draft.Documents {
		if strings.TrimSpace(d.URL) == "" && strings.TrimSpace(d.CatalogueID) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate publication", fmt.Errorf("documents[%d] needs a url or catalogue id", i))
		}
	}
	if requireOwner && draft.OwnerID <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate publication", errors.New("owner_id is required"))
	}
	return nil
}

func applyDraft(pub *domain.Publication, draft domain.PublicationDraft) {
	pub.Title = strings.TrimSpace(draft.Title)
	pub.Description = draft.Description
	pub.ResourceType = draft.ResourceType
	if pub.ResourceType == "" {
		pub.ResourceType = domain.ResourceTypeText
	}
	if draft.OwnerName != "" {
		pub.OwnerName = draft.OwnerName
	}
	pub.PosterURL = draft.PosterURL
	pub.Publisher = draft.Publisher
	pub.Language = draft.Language
	pub.DateIssued = draft.DateIssued
	pub.Subjects = nonNilStrings(draft.Subjects)
	if draft.ExtendedMetadata != nil {
		pub.ExtendedMetadata = draft.ExtendedMetadata
	}
	pub.Creators = append([]domain.Creator{}, draft.Creators...)
	pub.Organizations = append([]domain.Organization{}, draft.Organizations...)
	pub.Funders = append([]domain.Funder{}, draft.Funders...)
	pub.Projects = append([]domain.Project{}, draft.Projects...)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
