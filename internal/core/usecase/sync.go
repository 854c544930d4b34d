package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

const DefaultChildConcurrency = 4

const (
	opUpdateOrCreate = "update_or_create"
	opCreateOrUpdate = "create_or_update"
	opMintHandle     = "mint_handle"
	opWriteBack      = "write_back"
	opLoad           = "load"
)

// StepObserver receives one call per finished pipeline step.
type StepObserver interface {
	ObserveStep(operation string, outcome domain.StepOutcome, duration time.Duration)
}

// SyncPipeline pushes one publication aggregate to the registry: the root
// first, then every child independently. Each run owns its own session.
type SyncPipeline struct {
	repo        ports.PublicationRepository
	registry    ports.RegistryConnector
	identifiers *IdentifierService
	projector   *Projector
	concurrency int
	observer    StepObserver
	now         func() time.Time
}

func NewSyncPipeline(
	repo ports.PublicationRepository,
	registry ports.RegistryConnector,
	identifiers *IdentifierService,
	projector *Projector,
	concurrency int,
	observer StepObserver,
) *SyncPipeline {
	if concurrency <= 0 {
		concurrency = DefaultChildConcurrency
	}
	return &SyncPipeline{
		repo:        repo,
		registry:    registry,
		identifiers: identifiers,
		projector:   projector,
		concurrency: concurrency,
		observer:    observer,
		now:         time.Now,
	}
}

// Run always returns a report. The error is non-nil only when the run was
// aborted: the publication could not be loaded, had no registry key, or the
// root push failed.
func (p *SyncPipeline) Run(ctx context.Context, publicationID int64) (*domain.SyncReport, error) {
	report := &domain.SyncReport{
		PublicationID: publicationID,
		State:         domain.SyncStateNotStarted,
		StartedAt:     p.now().UTC(),
	}
	defer func() {
		report.FinishedAt = p.now().UTC()
		slog.Info("sync_finished",
			"publication_id", publicationID,
			"registry_key", report.RegistryKey,
			"state", report.State,
			"steps", len(report.Steps),
			"failed_steps", len(report.FailedSteps()),
		)
	}()

	var (
		pub     *domain.Publication
		loadErr error
	)
	report.Steps = append(report.Steps, p.runStep(publicationID, "load publication", opLoad, "", func() error {
		pub, loadErr = p.repo.GetByID(ctx, publicationID)
		return loadErr
	}))
	if loadErr != nil {
		report.State = domain.SyncStateFailed
		return report, fmt.Errorf("load publication %d: %w", publicationID, loadErr)
	}
	if pub.RegistryKey == "" {
		report.State = domain.SyncStateFailed
		return report, domain.WrapError(
			domain.ErrMissingIdentifier,
			"sync publication",
			fmt.Errorf("publication %d has no registry key", publicationID),
		)
	}
	report.RegistryKey = pub.RegistryKey

	session := p.registry.NewSession()

	report.Steps = append(report.Steps, p.assignChildHandles(ctx, session, pub)...)

	report.State = domain.SyncStatePushingRoot
	root := p.projector.ProjectRoot(pub)
	var rootErr error
	report.Steps = append(report.Steps, p.runStep(publicationID, "push root", opUpdateOrCreate, root.ID, func() error {
		_, rootErr = session.UpdateOrCreate(ctx, root)
		return rootErr
	}))
	if rootErr != nil {
		report.State = domain.SyncStateFailed
		return report, fmt.Errorf("push root %s: %w", root.ID, rootErr)
	}

	report.State = domain.SyncStatePushingChildren
	report.Steps = append(report.Steps, p.pushChildren(ctx, session, pub)...)

	report.State = domain.SyncStateDone
	if len(report.FailedSteps()) > 0 {
		report.State = domain.SyncStatePartiallyFailed
	}
	return report, nil
}

type childPush struct {
	name      string
	operation string
	object    domain.RegistryObject
}

func (p *SyncPipeline) pushChildren(ctx context.Context, session ports.RegistrySession, pub *domain.Publication) []domain.SyncStep {
	var pushes []childPush
	for _, f := range pub.Files {
		if f.Handle == "" {
			continue
		}
		pushes = append(pushes, childPush{
			name:      fmt.Sprintf("push file %d", f.ID),
			operation: opUpdateOrCreate,
			object:    p.projector.ProjectFile(f, pub),
		})
	}
	for _, d := range pub.Documents {
		if d.Handle == "" {
			continue
		}
		pushes = append(pushes, childPush{
			name:      fmt.Sprintf("push document %d", d.ID),
			operation: opUpdateOrCreate,
			object:    p.projector.ProjectDocument(d, pub),
		})
	}
	for _, kind := range domain.CollectionKinds() {
		if pub.CollectionLen(kind) == 0 {
			continue
		}
		pushes = append(pushes, childPush{
			name:      "push " + string(kind),
			operation: opCreateOrUpdate,
			object:    p.projector.ProjectCollection(pub, kind),
		})
	}

	steps := make([]domain.SyncStep, len(pushes))
	var group errgroup.Group
	group.SetLimit(p.concurrency)
	for i, push := range pushes {
		group.Go(func() error {
			steps[i] = p.runStep(pub.ID, push.name, push.operation, push.object.ID, func() error {
				var err error
				if push.operation == opCreateOrUpdate {
					_, err = session.CreateOrUpdate(ctx, push.object)
				} else {
					_, err = session.UpdateOrCreate(ctx, push.object)
				}
				return err
			})
			return nil
		})
	}
	_ = group.Wait()
	return steps
}

// assignChildHandles mints or adopts handles for files and documents that
// have none and stores them before anything references them. When another
// run stored a handle first, that handle is used instead of the minted one.
func (p *SyncPipeline) assignChildHandles(ctx context.Context, session ports.RegistrySession, pub *domain.Publication) []domain.SyncStep {
	var steps []domain.SyncStep
	for i := range pub.Files {
		f := &pub.Files[i]
		if f.Handle != "" {
			continue
		}
		var resolved domain.ResolvedIdentifier
		mint := p.runStep(pub.ID, fmt.Sprintf("assign file %d handle", f.ID), opMintHandle, f.ExternalID, func() error {
			var err error
			resolved, err = p.resolveChild(ctx, session, f.ExternalID, f.ExternalIDType)
			return err
		})
		steps = append(steps, mint)
		if mint.Outcome == domain.StepFailed {
			continue
		}
		write := p.runStep(pub.ID, fmt.Sprintf("store file %d handle", f.ID), opWriteBack, resolved.Handle, func() error {
			stored, err := p.repo.ClaimFileIdentifier(ctx, f.ID, resolved)
			if err != nil {
				return err
			}
			if stored.Handle != resolved.Handle {
				slog.Info("child_handle_adopted",
					"publication_id", pub.ID,
					"file_id", f.ID,
					"handle", stored.Handle,
					"discarded_handle", resolved.Handle,
				)
			}
			resolved = stored
			return nil
		})
		steps = append(steps, write)
		if write.Outcome == domain.StepFailed {
			continue
		}
		f.Handle, f.ExternalID, f.ExternalIDType = resolved.Handle, resolved.ExternalID, resolved.ExternalType
	}
	for i := range pub.Documents {
		d := &pub.Documents[i]
		if d.Handle != "" {
			continue
		}
		var resolved domain.ResolvedIdentifier
		mint := p.runStep(pub.ID, fmt.Sprintf("assign document %d handle", d.ID), opMintHandle, d.ExternalID, func() error {
			var err error
			resolved, err = p.resolveChild(ctx, session, d.ExternalID, d.ExternalIDType)
			return err
		})
		steps = append(steps, mint)
		if mint.Outcome == domain.StepFailed {
			continue
		}
		write := p.runStep(pub.ID, fmt.Sprintf("store document %d handle", d.ID), opWriteBack, resolved.Handle, func() error {
			stored, err := p.repo.ClaimDocumentIdentifier(ctx, d.ID, resolved)
			if err != nil {
				return err
			}
			if stored.Handle != resolved.Handle {
				slog.Info("child_handle_adopted",
					"publication_id", pub.ID,
					"document_id", d.ID,
					"handle", stored.Handle,
					"discarded_handle", resolved.Handle,
				)
			}
			resolved = stored
			return nil
		})
		steps = append(steps, write)
		if write.Outcome == domain.StepFailed {
			continue
		}
		d.Handle, d.ExternalID, d.ExternalIDType = resolved.Handle, resolved.ExternalID, resolved.ExternalType
	}
	return steps
}

// resolveChild returns the identifier a child will be registered under. The
// original external identifier is always carried along.
func (p *SyncPipeline) resolveChild(ctx context.Context, session ports.RegistrySession, externalID, externalType string) (domain.ResolvedIdentifier, error) {
	switch domain.ClassifyIdentifier(externalID) {
	case domain.IdentifierDOI:
		resolved := p.identifiers.Resolve(ctx, session, externalID)
		if resolved.Handle == "" {
			return resolved, domain.WrapError(domain.ErrTemporary, "resolve doi", errors.New("proxy handle could not be minted"))
		}
		return resolved, nil
	case domain.IdentifierHandle:
		resolved := p.identifiers.Resolve(ctx, session, externalID)
		resolved.ExternalID = externalID
		resolved.ExternalType = string(domain.IdentifierHandle)
		return resolved, nil
	default:
		handle, err := p.identifiers.MintHandle(ctx, session)
		if err != nil {
			return domain.ResolvedIdentifier{}, err
		}
		resolved := domain.ResolvedIdentifier{Handle: handle, ExternalID: externalID, ExternalType: externalType}
		if externalID != "" && resolved.ExternalType == "" {
			resolved.ExternalType = string(domain.IdentifierUnknown)
		}
		return resolved, nil
	}
}

func (p *SyncPipeline) runStep(publicationID int64, name, operation, targetID string, fn func() error) domain.SyncStep {
	started := p.now()
	err := fn()
	step := domain.SyncStep{
		Name:      name,
		Operation: operation,
		TargetID:  targetID,
		Outcome:   domain.StepSucceeded,
		Duration:  p.now().Sub(started),
	}
	if err != nil {
		step.Outcome = domain.StepFailed
		step.Error = err.Error()
	}

	attrs := []any{
		"publication_id", publicationID,
		"step", name,
		"operation", operation,
		"target_id", targetID,
		"outcome", step.Outcome,
		"duration_ms", float64(step.Duration.Microseconds()) / 1000.0,
	}
	if err != nil {
		slog.Warn("sync_step", append(attrs, "error", err)...)
	} else {
		slog.Info("sync_step", attrs...)
	}
	if p.observer != nil {
		p.observer.ObserveStep(operation, step.Outcome, step.Duration)
	}
	return step
}
