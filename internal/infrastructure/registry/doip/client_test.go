package doip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

type fakeRegistry struct {
	t *testing.T

	mu        sync.Mutex
	objects   map[string]map[string]any
	calls     []string
	tokens    int
	rejectPwd bool
	nextID    int
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	return &fakeRegistry{t: t, objects: map[string]map[string]any{}}
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodPost || r.URL.Path != "/doip" {
		http.NotFound(w, r)
		return
	}
	op := r.URL.Query().Get("operationId")
	target := r.URL.Query().Get("targetId")
	f.calls = append(f.calls, op+" "+target)

	if op == OpAuthToken {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["grant_type"] != "password" || f.rejectPwd {
			http.Error(w, `{"message":"Authentication failed"}`, http.StatusUnauthorized)
			return
		}
		f.tokens++
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-" + payload["username"]})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
		http.Error(w, `{"message":"Missing token"}`, http.StatusUnauthorized)
		return
	}

	switch op {
	case OpCreate:
		var obj digitalObject
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
			f.t.Fatalf("decode create: %v", err)
		}
		if obj.ID == "" {
			f.nextID++
			obj.ID = "20.500.12345/" + strings.Repeat("x", f.nextID)
		}
		if _, exists := f.objects[obj.ID]; exists {
			http.Error(w, `{"message":"Object already exists: `+obj.ID+`"}`, http.StatusConflict)
			return
		}
		f.objects[obj.ID] = obj.Attributes.Content
		_ = json.NewEncoder(w).Encode(obj)
	case OpUpdate:
		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			f.t.Fatalf("decode update: %v", err)
		}
		if _, ok := payload["type"]; ok {
			f.t.Fatalf("update body must only carry attributes, got %v", payload)
		}
		if _, exists := f.objects[target]; !exists {
			http.Error(w, `{"message":"Missing object"}`, http.StatusNotFound)
			return
		}
		var attrs attributes
		_ = json.Unmarshal(payload["attributes"], &attrs)
		f.objects[target] = attrs.Content
		_ = json.NewEncoder(w).Encode(digitalObject{ID: target, Attributes: attrs})
	case OpRetrieve:
		content, exists := f.objects[target]
		if !exists {
			http.Error(w, `{"message":"Missing object"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(digitalObject{ID: target, Type: "Publication", Attributes: attributes{Content: content}})
	case OpDelete:
		delete(f.objects, target)
		w.WriteHeader(http.StatusOK)
	case OpSearch:
		if r.URL.Query().Get("pageSize") != "5" {
			f.t.Fatalf("expected pageSize=5, got %q", r.URL.Query().Get("pageSize"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"size":    1,
			"results": []digitalObject{{ID: "20.500.12345/a", Type: "Publication"}},
		})
	case OpListOperations:
		_ = json.NewEncoder(w).Encode([]string{OpHello, OpRetrieve})
	default:
		http.Error(w, "unknown operation", http.StatusBadRequest)
	}
}

func newTestClient(url string) *Client {
	return New(Options{BaseURL: url + "/", Username: "admin", Password: "secret", Timeout: 2 * time.Second})
}

func TestCreateSendsTypedBodyWithBearerToken(t *testing.T) {
	fake := newFakeRegistry(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	obj, err := session.Create(context.Background(), domain.RegistryObject{
		ID:      "20.500.12345/pub-1",
		Type:    "Publication",
		Content: map[string]any{"title": "A"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if obj.ID != "20.500.12345/pub-1" {
		t.Fatalf("unexpected id %q", obj.ID)
	}
	if fake.objects["20.500.12345/pub-1"]["title"] != "A" {
		t.Fatalf("content not stored: %v", fake.objects)
	}
	if fake.calls[0] != OpAuthToken+" service" || fake.calls[1] != OpCreate+" service" {
		t.Fatalf("unexpected call sequence: %v", fake.calls)
	}
}

func TestEveryMutationReauthenticates(t *testing.T) {
	fake := newFakeRegistry(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	ctx := context.Background()
	if _, err := session.Create(ctx, domain.RegistryObject{ID: "p/1", Type: "T"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := session.Update(ctx, domain.RegistryObject{ID: "p/1", Content: map[string]any{"a": 1}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := session.Delete(ctx, "p/1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if fake.tokens != 3 {
		t.Fatalf("expected one token exchange per mutation, got %d", fake.tokens)
	}
}

func TestReadsReuseToken(t *testing.T) {
	fake := newFakeRegistry(t)
	fake.objects["p/1"] = map[string]any{"title": "x"}
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	for i := 0; i < 3; i++ {
		obj, err := session.Retrieve(context.Background(), "p/1")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if obj.Content["title"] != "x" {
			t.Fatalf("unexpected content %v", obj.Content)
		}
	}
	if fake.tokens != 1 {
		t.Fatalf("expected a single token exchange for reads, got %d", fake.tokens)
	}
}

func TestAuthenticateFailureClearsToken(t *testing.T) {
	fake := newFakeRegistry(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession().(*Session)
	if err := session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !session.Authenticated() {
		t.Fatalf("expected token after refresh")
	}

	fake.rejectPwd = true
	err := session.Authenticate(context.Background(), "admin", "wrong")
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if session.Authenticated() {
		t.Fatalf("token must be cleared after failed authentication")
	}
}

func TestCreateOrUpdateTurnsConflictIntoUpdate(t *testing.T) {
	fake := newFakeRegistry(t)
	fake.objects["p/1/creators"] = map[string]any{"count": 1}
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	obj, err := session.CreateOrUpdate(context.Background(), domain.RegistryObject{
		ID:      "p/1/creators",
		Type:    "Collection",
		Content: map[string]any{"count": 2},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate() error = %v", err)
	}
	if obj.ID != "p/1/creators" {
		t.Fatalf("unexpected id %q", obj.ID)
	}
	if got := fake.objects["p/1/creators"]["count"]; got != float64(2) {
		t.Fatalf("expected updated count, got %v", got)
	}
}

func TestUpdateOrCreateFallsBackOnNotFound(t *testing.T) {
	fake := newFakeRegistry(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	_, err := session.UpdateOrCreate(context.Background(), domain.RegistryObject{
		ID:      "p/2",
		Type:    "File",
		Content: map[string]any{"title": "f"},
	})
	if err != nil {
		t.Fatalf("UpdateOrCreate() error = %v", err)
	}
	if _, ok := fake.objects["p/2"]; !ok {
		t.Fatalf("expected object to be created")
	}
}

func TestNon2xxIsFailureWithRemoteBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("operationId") == OpAuthToken {
			_, _ = w.Write([]byte(`{"access_token":"tok-admin"}`))
			return
		}
		http.Error(w, `{"message":"index unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	obj, err := session.Retrieve(context.Background(), "p/1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if obj != nil {
		t.Fatalf("expected no partial result, got %+v", obj)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
	if !strings.Contains(err.Error(), "index unavailable") {
		t.Fatalf("expected remote body in error, got %v", err)
	}
}

func TestTransportFailureIsReturnedNotRaised(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	session := newTestClient(url).NewSession()
	_, err := session.Create(context.Background(), domain.RegistryObject{Type: "Handle"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary transport failure, got %v", err)
	}
}

func TestSearchAndListOperations(t *testing.T) {
	fake := newFakeRegistry(t)
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	result, err := session.Search(context.Background(), "type:Publication", 0, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Size != 1 || result.Results[0].ID != "20.500.12345/a" {
		t.Fatalf("unexpected search result %+v", result)
	}
	ops, err := session.ListOperations(context.Background(), "")
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 || ops[0] != OpHello {
		t.Fatalf("unexpected operations %v", ops)
	}
}

func TestFallbackAnswersAreNotLoggedAsFailures(t *testing.T) {
	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	defer slog.SetDefault(previous)

	fake := newFakeRegistry(t)
	fake.objects["p/taken"] = map[string]any{}
	server := httptest.NewServer(fake)
	defer server.Close()

	session := newTestClient(server.URL).NewSession()
	ctx := context.Background()
	if _, err := session.UpdateOrCreate(ctx, domain.RegistryObject{ID: "p/new", Type: "T"}); err != nil {
		t.Fatalf("UpdateOrCreate() error = %v", err)
	}
	if _, err := session.CreateOrUpdate(ctx, domain.RegistryObject{ID: "p/taken", Type: "T"}); err != nil {
		t.Fatalf("CreateOrUpdate() error = %v", err)
	}
	if strings.Contains(logs.String(), "registry_request_failed") {
		t.Fatalf("404/409 fallbacks must not warn, got %s", logs.String())
	}
}

func TestAuthenticateKeepsPreviousTokenDuringExchange(t *testing.T) {
	var exchanges atomic.Int32
	inFlight := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := exchanges.Add(1)
		if n == 2 {
			close(inFlight)
			<-release
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("tok-%d", n)})
	}))
	defer server.Close()
	releaseOnce := sync.OnceFunc(func() { close(release) })
	defer releaseOnce()

	session := newTestClient(server.URL).NewSession().(*Session)
	if err := session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Refresh(context.Background()) }()
	<-inFlight
	if got := session.currentToken(); got != "tok-1" {
		t.Fatalf("concurrent readers must keep the previous token, got %q", got)
	}
	releaseOnce()
	if err := <-done; err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	if got := session.currentToken(); got != "tok-2" {
		t.Fatalf("expected swapped token, got %q", got)
	}
}
