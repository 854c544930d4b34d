package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
)

// registryFake is an in-memory registry that enforces create-conflict and
// update-not-found semantics and records every write.
type registryFake struct {
	mu       sync.Mutex
	objects  map[string]domain.RegistryObject
	calls    []string
	fail     map[string]error
	minted   int
	sessions int
}

func newRegistryFake() *registryFake {
	return &registryFake{objects: map[string]domain.RegistryObject{}, fail: map[string]error{}}
}

func (f *registryFake) NewSession() ports.RegistrySession {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return &sessionFake{reg: f}
}

func (f *registryFake) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *registryFake) callsMatching(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if len(c) > len(op) && c[:len(op)+1] == op+" " {
			out = append(out, c[len(op)+1:])
		}
	}
	sort.Strings(out)
	return out
}

func (f *registryFake) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *registryFake) snapshot() map[string]domain.RegistryObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.RegistryObject, len(f.objects))
	for k, v := range f.objects {
		out[k] = v
	}
	return out
}

type sessionFake struct {
	reg *registryFake
}

func (s *sessionFake) Authenticate(context.Context, string, string) error { return nil }
func (s *sessionFake) Refresh(context.Context) error                      { return nil }

func (s *sessionFake) Create(_ context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	f := s.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create " + obj.ID)
	if err := f.fail[obj.ID]; err != nil {
		return nil, err
	}
	if obj.ID == "" {
		f.minted++
		obj.ID = fmt.Sprintf("20.500.12345/minted-%d", f.minted)
	}
	if _, exists := f.objects[obj.ID]; exists {
		return nil, domain.WrapError(domain.ErrConflict, "doip create", fmt.Errorf("object %s exists", obj.ID))
	}
	f.objects[obj.ID] = obj
	return &obj, nil
}

func (s *sessionFake) Retrieve(_ context.Context, id string) (*domain.RegistryObject, error) {
	f := s.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("retrieve " + id)
	obj, ok := f.objects[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "doip retrieve", fmt.Errorf("object %s missing", id))
	}
	return &obj, nil
}

func (s *sessionFake) Update(_ context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	f := s.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update " + obj.ID)
	if err := f.fail[obj.ID]; err != nil {
		return nil, err
	}
	existing, ok := f.objects[obj.ID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "doip update", fmt.Errorf("object %s missing", obj.ID))
	}
	existing.Content = obj.Content
	f.objects[obj.ID] = existing
	return &existing, nil
}

func (s *sessionFake) Delete(_ context.Context, id string) error {
	f := s.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + id)
	delete(f.objects, id)
	return nil
}

func (s *sessionFake) Search(_ context.Context, query string, page, size int) (*domain.RegistrySearchResult, error) {
	f := s.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("search %s %d %d", query, page, size))
	return &domain.RegistrySearchResult{Size: len(f.objects)}, nil
}

func (s *sessionFake) ListOperations(_ context.Context, targetID string) ([]string, error) {
	return []string{"0.DOIP/Op.Retrieve", targetID}, nil
}

func (s *sessionFake) CreateOrUpdate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	created, err := s.Create(ctx, obj)
	if err == nil {
		return created, nil
	}
	if !domain.IsKind(err, domain.ErrConflict) {
		return nil, err
	}
	return s.Update(ctx, obj)
}

func (s *sessionFake) UpdateOrCreate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	updated, err := s.Update(ctx, obj)
	if err == nil {
		return updated, nil
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.CreateOrUpdate(ctx, obj)
}

// storeFake implements both repositories over one in-memory aggregate set.
type storeFake struct {
	mu           sync.Mutex
	publications map[int64]*domain.Publication
	mappings     map[string]*domain.SourceMapping
	nextID       int64
	nextChildID  int64
	createCalls  int
	failCreate   error
	failUpdate   error
	failLookup   error
	conflictOnce *domain.SourceMapping
	// claimedFirst holds identifiers another run stores between load and
	// write-back, keyed "publication:7", "file:11" or "document:12".
	claimedFirst map[string]string
}

func newStoreFake() *storeFake {
	return &storeFake{
		publications: map[int64]*domain.Publication{},
		mappings:     map[string]*domain.SourceMapping{},
	}
}

func mappingKey(source, key string) string { return source + "|" + key }

func (f *storeFake) put(pub *domain.Publication) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insert(pub)
}

func (f *storeFake) insert(pub *domain.Publication) {
	if pub.ID == 0 {
		f.nextID++
		pub.ID = f.nextID
	} else if pub.ID > f.nextID {
		f.nextID = pub.ID
	}
	for i := range pub.Files {
		if pub.Files[i].ID == 0 {
			f.nextChildID++
			pub.Files[i].ID = f.nextChildID
		}
		pub.Files[i].PublicationID = pub.ID
	}
	for i := range pub.Documents {
		if pub.Documents[i].ID == 0 {
			f.nextChildID++
			pub.Documents[i].ID = f.nextChildID
		}
		pub.Documents[i].PublicationID = pub.ID
	}
	f.publications[pub.ID] = clonePublication(pub)
}

func (f *storeFake) Create(_ context.Context, pub *domain.Publication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		return f.failCreate
	}
	f.insert(pub)
	return nil
}

func (f *storeFake) CreateWithMapping(_ context.Context, pub *domain.Publication, mapping *domain.SourceMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		return f.failCreate
	}
	if f.conflictOnce != nil {
		winner := f.conflictOnce
		f.conflictOnce = nil
		f.mappings[mappingKey(winner.Source, winner.ExternalKey)] = winner
		return domain.WrapError(domain.ErrConflict, "create publication", errors.New("duplicate key"))
	}
	if _, exists := f.mappings[mappingKey(mapping.Source, mapping.ExternalKey)]; exists {
		return domain.WrapError(domain.ErrConflict, "create publication", errors.New("duplicate key"))
	}
	f.insert(pub)
	f.nextChildID++
	mapping.ID = f.nextChildID
	mapping.PublicationID = pub.ID
	stored := *mapping
	f.mappings[mappingKey(mapping.Source, mapping.ExternalKey)] = &stored
	return nil
}

func (f *storeFake) GetByID(_ context.Context, id int64) (*domain.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub, ok := f.publications[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get publication", fmt.Errorf("publication %d", id))
	}
	return clonePublication(pub), nil
}

func (f *storeFake) UpdateMetadata(_ context.Context, pub *domain.Publication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.publications[pub.ID]; !ok {
		return domain.WrapError(domain.ErrNotFound, "update publication", fmt.Errorf("publication %d", pub.ID))
	}
	f.publications[pub.ID] = clonePublication(pub)
	return nil
}

func (f *storeFake) ClaimRegistryKey(_ context.Context, id int64, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub, ok := f.publications[id]
	if !ok {
		return "", domain.WrapError(domain.ErrNotFound, "claim registry key", fmt.Errorf("publication %d", id))
	}
	if earlier, ok := f.claimedFirst[fmt.Sprintf("publication:%d", id)]; ok && pub.RegistryKey == "" {
		pub.RegistryKey = earlier
	}
	if pub.RegistryKey == "" {
		pub.RegistryKey = key
	}
	return pub.RegistryKey, nil
}

func (f *storeFake) ClaimFileIdentifier(_ context.Context, fileID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pub := range f.publications {
		for i := range pub.Files {
			file := &pub.Files[i]
			if file.ID != fileID {
				continue
			}
			if earlier, ok := f.claimedFirst[fmt.Sprintf("file:%d", fileID)]; ok && file.Handle == "" {
				file.Handle = earlier
			}
			if file.Handle == "" {
				file.Handle, file.ExternalID, file.ExternalIDType = resolved.Handle, resolved.ExternalID, resolved.ExternalType
			}
			return domain.ResolvedIdentifier{Handle: file.Handle, ExternalID: file.ExternalID, ExternalType: file.ExternalIDType}, nil
		}
	}
	return domain.ResolvedIdentifier{}, domain.WrapError(domain.ErrNotFound, "claim file identifier", fmt.Errorf("file %d", fileID))
}

func (f *storeFake) ClaimDocumentIdentifier(_ context.Context, documentID int64, resolved domain.ResolvedIdentifier) (domain.ResolvedIdentifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pub := range f.publications {
		for i := range pub.Documents {
			doc := &pub.Documents[i]
			if doc.ID != documentID {
				continue
			}
			if earlier, ok := f.claimedFirst[fmt.Sprintf("document:%d", documentID)]; ok && doc.Handle == "" {
				doc.Handle = earlier
			}
			if doc.Handle == "" {
				doc.Handle, doc.ExternalID, doc.ExternalIDType = resolved.Handle, resolved.ExternalID, resolved.ExternalType
			}
			return domain.ResolvedIdentifier{Handle: doc.Handle, ExternalID: doc.ExternalID, ExternalType: doc.ExternalIDType}, nil
		}
	}
	return domain.ResolvedIdentifier{}, domain.WrapError(domain.ErrNotFound, "claim document identifier", fmt.Errorf("document %d", documentID))
}

func (f *storeFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.publications[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete publication", fmt.Errorf("publication %d", id))
	}
	delete(f.publications, id)
	for key, m := range f.mappings {
		if m.PublicationID == id {
			delete(f.mappings, key)
		}
	}
	return nil
}

func (f *storeFake) GetByExternalKey(_ context.Context, source, externalKey string) (*domain.SourceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookup != nil {
		return nil, f.failLookup
	}
	m, ok := f.mappings[mappingKey(source, externalKey)]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get mapping", fmt.Errorf("%s/%s", source, externalKey))
	}
	out := *m
	return &out, nil
}

func (f *storeFake) GetByPublicationID(_ context.Context, publicationID int64) (*domain.SourceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		if m.PublicationID == publicationID {
			out := *m
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get mapping", fmt.Errorf("publication %d", publicationID))
}

func (f *storeFake) ListByStatus(_ context.Context, status domain.SyncStatus, limit int) ([]domain.SourceMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SourceMapping
	for _, m := range f.mappings {
		if m.SyncStatus == status && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *storeFake) Update(_ context.Context, mapping *domain.SourceMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil && mapping.SyncStatus != domain.SyncStatusError {
		return f.failUpdate
	}
	stored := *mapping
	f.mappings[mappingKey(mapping.Source, mapping.ExternalKey)] = &stored
	return nil
}

func (f *storeFake) mappingFor(source, key string) *domain.SourceMapping {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[mappingKey(source, key)]
	if !ok {
		return nil
	}
	out := *m
	return &out
}

func (f *storeFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publications)
}

func clonePublication(pub *domain.Publication) *domain.Publication {
	out := *pub
	out.Subjects = append([]string(nil), pub.Subjects...)
	out.Files = append([]domain.File(nil), pub.Files...)
	out.Documents = append([]domain.Document(nil), pub.Documents...)
	out.Creators = append([]domain.Creator(nil), pub.Creators...)
	out.Organizations = append([]domain.Organization(nil), pub.Organizations...)
	out.Funders = append([]domain.Funder(nil), pub.Funders...)
	out.Projects = append([]domain.Project(nil), pub.Projects...)
	return &out
}

type queueFake struct {
	mu    sync.Mutex
	tasks []domain.SyncTask
	err   error
}

func (f *queueFake) ScheduleOnce(_ context.Context, task domain.SyncTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *queueFake) SubscribeSyncTasks(context.Context, func(context.Context, domain.SyncTask) error) error {
	return errors.New("not implemented")
}

type sourceFake struct {
	items    map[string]domain.ExternalItem
	order    []string
	fetchErr map[string]error
	listErr  error
	fetches  int
}

func newSourceFake(items ...domain.ExternalItem) *sourceFake {
	f := &sourceFake{items: map[string]domain.ExternalItem{}, fetchErr: map[string]error{}}
	for _, it := range items {
		f.items[it.Key] = it
		f.order = append(f.order, it.Key)
	}
	return f
}

func (f *sourceFake) Name() string { return "fake" }

func (f *sourceFake) FetchItem(_ context.Context, key string) (*domain.ExternalItem, error) {
	f.fetches++
	if err := f.fetchErr[key]; err != nil {
		return nil, err
	}
	it, ok := f.items[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fake fetch item", fmt.Errorf("item %s", key))
	}
	return &it, nil
}

func (f *sourceFake) ListItems(_ context.Context, page, size int) (*domain.CataloguePage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := page * size
	if start > len(f.order) {
		start = len(f.order)
	}
	end := start + size
	if end > len(f.order) {
		end = len(f.order)
	}
	out := &domain.CataloguePage{Page: page, Size: size, Total: len(f.order), HasMore: end < len(f.order)}
	for _, key := range f.order[start:end] {
		out.Items = append(out.Items, f.items[key])
	}
	return out, nil
}

func (f *sourceFake) MapToAggregate(item *domain.ExternalItem) domain.MappedAggregate {
	title := item.Name
	if values := item.Fields["dc.title"]; len(values) > 0 {
		title = values[0]
	}
	if title == "" {
		title = "Untitled"
	}
	return domain.MappedAggregate{
		Title:        title,
		ResourceType: domain.ResourceTypeText,
		Subjects:     []string{},
		Creators:     []domain.Creator{},
	}
}

func (f *sourceFake) TestConnection(context.Context) error { return nil }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
