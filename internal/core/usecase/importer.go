package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

const (
	DefaultImportPageSize = 20
	maxImportPageSize     = 100
	maxHarvestPages       = 10000
	maxMappingsLimit      = 500
)

// ImportObserver receives one call per imported catalogue item.
type ImportObserver interface {
	ObserveImport(source string, outcome domain.ImportOutcome)
}

// ImportService pulls catalogue items into local publications and keeps one
// SourceMapping per external key. Catalogue calls are paced by limiter.
type ImportService struct {
	source   ports.CatalogueSource
	repo     ports.PublicationRepository
	mappings ports.SourceMappingRepository
	limiter  *rate.Limiter
	observer ImportObserver
	now      func() time.Time
}

func NewImportService(
	source ports.CatalogueSource,
	repo ports.PublicationRepository,
	mappings ports.SourceMappingRepository,
	limiter *rate.Limiter,
	observer ImportObserver,
) *ImportService {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &ImportService{
		source:   source,
		repo:     repo,
		mappings: mappings,
		limiter:  limiter,
		observer: observer,
		now:      time.Now,
	}
}

// ImportSingle is idempotent per external key: an existing mapping is
// returned unchanged with Created=false.
func (s *ImportService) ImportSingle(ctx context.Context, key string, ownerID int64) (*domain.ImportResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import item", errors.New("key is required"))
	}
	if ownerID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import item", errors.New("owner_id is required"))
	}

	existing, err := s.findMapping(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.observe(domain.ImportSkipped)
		return &domain.ImportResult{Mapping: existing}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	item, err := s.source.FetchItem(ctx, key)
	if err != nil {
		s.observe(domain.ImportError)
		return nil, fmt.Errorf("fetch catalogue item %s: %w", key, err)
	}
	if item.Key != "" && item.Key != key {
		existing, err := s.findMapping(ctx, item.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.observe(domain.ImportSkipped)
			return &domain.ImportResult{Mapping: existing}, nil
		}
	}

	mapping, created, err := s.createFromItem(ctx, item, ownerID)
	if err != nil {
		s.observe(domain.ImportError)
		return nil, err
	}
	if created {
		s.observe(domain.ImportCreated)
	} else {
		s.observe(domain.ImportSkipped)
	}
	return &domain.ImportResult{Mapping: mapping, Created: created}, nil
}

// ImportBatch imports one catalogue page. Items are independent: a failure
// is recorded on that item only. With skipExisting=false, mapped items are
// compared by content hash and flagged pending when they changed.
func (s *ImportService) ImportBatch(ctx context.Context, page, size int, skipExisting bool, ownerID int64) (*domain.BatchResult, error) {
	if ownerID <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import batch", errors.New("owner_id is required"))
	}
	page, size = normalizePage(page, size)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	listing, err := s.source.ListItems(ctx, page, size)
	if err != nil {
		return nil, fmt.Errorf("list catalogue items: %w", err)
	}

	result := &domain.BatchResult{
		Page:    page,
		Size:    size,
		HasMore: listing.HasMore,
		Items:   make([]domain.BatchItemResult, 0, len(listing.Items)),
	}
	for i := range listing.Items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := s.importListed(ctx, &listing.Items[i], skipExisting, ownerID)
		s.observe(item.Outcome)
		result.Add(item)
	}
	slog.Info("catalogue_batch_imported",
		"source", s.source.Name(),
		"page", page,
		"size", size,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)
	return result, nil
}

// Harvest walks the catalogue page by page until it runs out of items.
func (s *ImportService) Harvest(ctx context.Context, pageSize int, ownerID int64) (*domain.BatchResult, error) {
	_, pageSize = normalizePage(0, pageSize)
	total := &domain.BatchResult{Size: pageSize}
	for page := 0; page < maxHarvestPages; page++ {
		batch, err := s.ImportBatch(ctx, page, pageSize, false, ownerID)
		if batch != nil {
			total.Page = page
			total.Created += batch.Created
			total.Updated += batch.Updated
			total.Skipped += batch.Skipped
			total.Errors += batch.Errors
			total.Items = append(total.Items, batch.Items...)
		}
		if err != nil {
			return total, err
		}
		if !batch.HasMore || len(batch.Items) == 0 {
			return total, nil
		}
	}
	total.HasMore = true
	return total, nil
}

func (s *ImportService) Preview(ctx context.Context, key string) (*domain.MappedAggregate, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "preview item", errors.New("key is required"))
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	item, err := s.source.FetchItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch catalogue item %s: %w", key, err)
	}
	mapped := s.source.MapToAggregate(item)
	return &mapped, nil
}

func (s *ImportService) ListItems(ctx context.Context, page, size int) (*domain.CataloguePage, error) {
	page, size = normalizePage(page, size)
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.source.ListItems(ctx, page, size)
}

func (s *ImportService) TestConnection(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.source.TestConnection(ctx)
}

func (s *ImportService) Mappings(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SourceMapping, error) {
	if status == "" {
		status = domain.SyncStatusPending
	}
	if !status.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list mappings", fmt.Errorf("unknown sync status %q", status))
	}
	if limit <= 0 || limit > maxMappingsLimit {
		limit = maxMappingsLimit
	}
	return s.mappings.ListByStatus(ctx, status, limit)
}

func (s *ImportService) importListed(ctx context.Context, item *domain.ExternalItem, skipExisting bool, ownerID int64) domain.BatchItemResult {
	out := domain.BatchItemResult{Key: item.Key}

	existing, err := s.findMapping(ctx, item.Key)
	if err != nil {
		out.Outcome, out.Error = domain.ImportError, err.Error()
		return out
	}
	if existing != nil {
		out.PublicationID = existing.PublicationID
		if skipExisting {
			out.Outcome = domain.ImportSkipped
			return out
		}
		outcome, err := s.refreshMapping(ctx, existing, item)
		out.Outcome = outcome
		if err != nil {
			out.Error = err.Error()
		}
		return out
	}

	mapping, created, err := s.createFromItem(ctx, item, ownerID)
	if err != nil {
		out.Outcome, out.Error = domain.ImportError, err.Error()
		return out
	}
	out.PublicationID = mapping.PublicationID
	out.Outcome = domain.ImportSkipped
	if created {
		out.Outcome = domain.ImportCreated
	}
	return out
}

// refreshMapping compares the item against the last-seen hash. Unchanged
// items only get last_sync_at touched; changed ones are flagged pending.
func (s *ImportService) refreshMapping(ctx context.Context, mapping *domain.SourceMapping, item *domain.ExternalItem) (domain.ImportOutcome, error) {
	now := s.now().UTC()
	hash := item.ContentHash()

	outcome := domain.ImportSkipped
	mapping.LastSyncAt = now
	mapping.UpdatedAt = now
	if hash != mapping.ContentHash {
		outcome = domain.ImportUpdated
		mapping.ContentHash = hash
		mapping.SyncStatus = domain.SyncStatusPending
		mapping.ErrorMessage = ""
		if item.URL != "" {
			mapping.ExternalURL = item.URL
		}
	}

	if err := s.mappings.Update(ctx, mapping); err != nil {
		mapping.MarkFailed(now, err)
		if markErr := s.mappings.Update(ctx, mapping); markErr != nil {
			slog.Warn("mapping_mark_failed", "mapping_id", mapping.ID, "error", markErr)
		}
		return domain.ImportError, fmt.Errorf("update mapping %d: %w", mapping.ID, err)
	}
	return outcome, nil
}

// createFromItem stores the mapped publication and its mapping together. A
// concurrent import of the same key surfaces as a conflict and resolves to
// the mapping that won.
func (s *ImportService) createFromItem(ctx context.Context, item *domain.ExternalItem, ownerID int64) (*domain.SourceMapping, bool, error) {
	now := s.now().UTC()
	mapped := s.source.MapToAggregate(item)

	pub := mapped.Publication(ownerID)
	pub.DocumentID = uuid.NewString()
	pub.CreatedAt = now
	pub.UpdatedAt = now
	pub.Documents = []domain.Document{{
		Title:       pub.Title,
		URL:         item.URL,
		CatalogueID: item.Key,
	}}

	mapping := &domain.SourceMapping{
		Source:      s.source.Name(),
		ExternalKey: item.Key,
		ExternalURL: item.URL,
		SyncStatus:  domain.SyncStatusSynced,
		LastSyncAt:  now,
		ContentHash: item.ContentHash(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repo.CreateWithMapping(ctx, pub, mapping)
	if err == nil {
		return mapping, true, nil
	}
	if !domain.IsKind(err, domain.ErrConflict) {
		return nil, false, fmt.Errorf("create imported publication: %w", err)
	}
	winner, findErr := s.findMapping(ctx, item.Key)
	if findErr != nil || winner == nil {
		return nil, false, fmt.Errorf("create imported publication: %w", err)
	}
	return winner, false, nil
}

func (s *ImportService) findMapping(ctx context.Context, key string) (*domain.SourceMapping, error) {
	mapping, err := s.mappings.GetByExternalKey(ctx, s.source.Name(), key)
	if err == nil {
		return mapping, nil
	}
	if domain.IsKind(err, domain.ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("lookup mapping %s: %w", key, err)
}

func (s *ImportService) observe(outcome domain.ImportOutcome) {
	if s.observer != nil {
		s.observer.ObserveImport(s.source.Name(), outcome)
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultImportPageSize
	}
	if size > maxImportPageSize {
		size = maxImportPageSize
	}
	return page, size
}
