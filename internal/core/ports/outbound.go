package ports

import (
	"context"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

// PublicationRepository persists publication aggregates. Reads always return
// fully hydrated aggregates.
type PublicationRepository interface {
	Create(ctx context.Context, pub *domain.Publication) error
	CreateWithMapping(ctx context.Context, pub *domain.Publication, mapping *domain.SourceMapping) error
	GetByID(ctx context.Context, id int64) (*domain.Publication, error)
	UpdateMetadata(ctx context.Context, pub *domain.Publication) error
	// Claim* write an identifier only where none is stored yet and return
	// whatever is stored afterwards.
	ClaimRegistryKey(ctx context.Context, id int64, key string) (string, error)
	ClaimFileIdentifier(ctx context.Context, fileID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error)
	ClaimDocumentIdentifier(ctx context.Context, documentID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error)
	Delete(ctx context.Context, id int64) error
}

// SourceMappingRepository reads and updates catalogue mappings.
type SourceMappingRepository interface {
	GetByExternalKey(ctx context.Context, source, externalKey string) (*domain.SourceMapping, error)
	GetByPublicationID(ctx context.Context, publicationID int64) (*domain.SourceMapping, error)
	ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SourceMapping, error)
	Update(ctx context.Context, mapping *domain.SourceMapping) error
}

// RegistrySession is an authenticated conversation with the identifier
// registry. A session is owned by a single pipeline run or request.
type RegistrySession interface {
	Authenticate(ctx context.Context, username, password string) error
	Refresh(ctx context.Context) error
	Create(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error)
	Retrieve(ctx context.Context, id string) (*domain.RegistryObject, error)
	Update(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, page, size int) (*domain.RegistrySearchResult, error)
	ListOperations(ctx context.Context, targetID string) ([]string, error)
	CreateOrUpdate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error)
	UpdateOrCreate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error)
}

// RegistryConnector opens independent registry sessions.
type RegistryConnector interface {
	NewSession() RegistrySession
}

// TaskQueue is the fire-and-forget delayed job transport.
type TaskQueue interface {
	ScheduleOnce(ctx context.Context, task domain.SyncTask) error
	SubscribeSyncTasks(ctx context.Context, handler func(context.Context, domain.SyncTask) error) error
}

// CatalogueSource is the importer capability implemented by each catalogue variant.
type CatalogueSource interface {
	Name() string
	FetchItem(ctx context.Context, key string) (*domain.ExternalItem, error)
	ListItems(ctx context.Context, page, size int) (*domain.CataloguePage, error)
	MapToAggregate(item *domain.ExternalItem) domain.MappedAggregate
	TestConnection(ctx context.Context) error
}
