package ports

import (
	"context"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

// PublicationManager is the inbound contract for local aggregate changes.
type PublicationManager interface {
	Create(ctx context.Context, draft domain.PublicationDraft) (*domain.Publication, error)
	Get(ctx context.Context, id int64) (*domain.Publication, error)
	UpdateMetadata(ctx context.Context, id int64, draft domain.PublicationDraft) (*domain.Publication, error)
	Delete(ctx context.Context, id int64) error
	Sync(ctx context.Context, id int64) (*domain.SyncReport, error)
}

// SyncRunner pushes one publication aggregate to the registry.
type SyncRunner interface {
	Run(ctx context.Context, publicationID int64) (*domain.SyncReport, error)
}

// SyncScheduler defers a sync run.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, publicationID int64, delay time.Duration) (string, error)
}

// CatalogueImporter is the inbound contract for pulling catalogue items.
type CatalogueImporter interface {
	ImportSingle(ctx context.Context, key string, ownerID int64) (*domain.ImportResult, error)
	ImportBatch(ctx context.Context, page, size int, skipExisting bool, ownerID int64) (*domain.BatchResult, error)
	Preview(ctx context.Context, key string) (*domain.MappedAggregate, error)
	ListItems(ctx context.Context, page, size int) (*domain.CataloguePage, error)
	TestConnection(ctx context.Context) error
	Mappings(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SourceMapping, error)
}

// RegistryBrowser exposes read-only registry lookups for interactive use.
type RegistryBrowser interface {
	Retrieve(ctx context.Context, id string) (*domain.RegistryObject, error)
	Search(ctx context.Context, query string, page, size int) (*domain.RegistrySearchResult, error)
	Operations(ctx context.Context, targetID string) ([]string, error)
}

// CatalogueHarvester walks the whole catalogue, importing page by page.
type CatalogueHarvester interface {
	Harvest(ctx context.Context, pageSize int, ownerID int64) (*domain.BatchResult, error)
}
