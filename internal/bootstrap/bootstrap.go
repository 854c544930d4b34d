package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kirillkom/pidsync/internal/config"
	"github.com/kirillkom/pidsync/internal/core/usecase"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue"
	"github.com/kirillkom/pidsync/internal/infrastructure/queue/nats"
	"github.com/kirillkom/pidsync/internal/infrastructure/registry/doip"
	"github.com/kirillkom/pidsync/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
	"github.com/kirillkom/pidsync/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue        *nats.Queue
	Pipeline     *usecase.SyncPipeline
	Publications *usecase.PublicationService
	Importer     *usecase.ImportService
	Browser      *usecase.RegistryBrowserService

	closeFn func()
}

// New wires config into adapters and use cases. When registerer is non-nil
// the pipeline and importer report into it.
func New(ctx context.Context, cfg config.Config, service string, registerer prometheus.Registerer) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	publications := postgres.NewPublicationRepository(db)
	mappings := postgres.NewMappingRepository(db)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		Concurrency: cfg.WorkerConcurrency,
		Guard:       resilience.NewGuard(resilience.BrokerPolicy("nats")),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init task queue: %w", err)
	}

	registry := doip.New(doip.Options{
		BaseURL:   cfg.RegistryURL,
		ServiceID: cfg.RegistryServiceID,
		Username:  cfg.RegistryUsername,
		Password:  cfg.RegistryPassword,
		Timeout:   cfg.RegistryTimeout,
		Guard:     resilience.NewGuard(resilience.RemotePolicy("doip")),
	})

	source, err := catalogue.New(catalogue.Options{
		Variant:   cfg.CatalogueVariant,
		BaseURL:   cfg.CatalogueURL,
		UIBaseURL: cfg.CatalogueUIURL,
		Username:  cfg.CatalogueUsername,
		Password:  cfg.CataloguePassword,
		Timeout:   cfg.CatalogueTimeout,
		TokenTTL:  cfg.CatalogueTokenTTL,
		Guard:     resilience.NewGuard(resilience.RemotePolicy("catalogue")),
	})
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init catalogue: %w", err)
	}

	var stepObserver usecase.StepObserver
	var importObserver usecase.ImportObserver
	if registerer != nil {
		syncMetrics := metrics.NewSyncMetrics(service, registerer)
		stepObserver = syncMetrics
		importObserver = syncMetrics
	}

	identifiers := usecase.NewIdentifierService(cfg.RegistryPlaceholderType)
	projector := usecase.NewProjector(usecase.ProjectorConfig{
		PublicationType:      cfg.RegistryPublicationType,
		FileType:             cfg.RegistryFileType,
		DocumentType:         cfg.RegistryDocumentType,
		CollectionType:       cfg.RegistryCollectionType,
		LandingBaseURL:       cfg.LandingBaseURL,
		CatalogueItemBaseURL: cfg.CatalogueItemURL,
	}, nil)
	pipeline := usecase.NewSyncPipeline(publications, registry, identifiers, projector, cfg.SyncChildConcurrency, stepObserver)
	scheduler := usecase.NewSyncScheduler(queue)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CatalogueRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CatalogueRateLimit), max(cfg.CatalogueBurst, 1))
	}

	slog.Info("bootstrap_ready",
		"catalogue", source.Name(),
		"registry_url", cfg.RegistryURL,
		"sync_delay", cfg.SyncDelay.String(),
	)

	return &App{
		Config:       cfg,
		Queue:        queue,
		Pipeline:     pipeline,
		Publications: usecase.NewPublicationService(publications, registry, identifiers, pipeline, scheduler, cfg.SyncDelay),
		Importer:     usecase.NewImportService(source, publications, mappings, limiter, importObserver),
		Browser:      usecase.NewRegistryBrowserService(registry),
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
