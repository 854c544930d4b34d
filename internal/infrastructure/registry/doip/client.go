package doip

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
)

const (
	OpHello          = "0.DOIP/Op.Hello"
	OpCreate         = "0.DOIP/Op.Create"
	OpRetrieve       = "0.DOIP/Op.Retrieve"
	OpUpdate         = "0.DOIP/Op.Update"
	OpDelete         = "0.DOIP/Op.Delete"
	OpSearch         = "0.DOIP/Op.Search"
	OpListOperations = "0.DOIP/Op.ListOperations"
	OpAuthToken      = "20.DOIP/Op.Auth.Token"
)

const serviceName = "doip"

type Options struct {
	BaseURL   string
	ServiceID string
	Username  string
	Password  string
	Timeout   time.Duration
	Guard     *resilience.Guard
}

// Client holds the registry endpoint and credentials. All token state lives
// in sessions created by NewSession.
type Client struct {
	baseURL    string
	serviceID  string
	username   string
	password   string
	httpClient *http.Client
	guard      *resilience.Guard
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	serviceID := strings.TrimSpace(opts.ServiceID)
	if serviceID == "" {
		serviceID = "service"
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		serviceID:  serviceID,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: &http.Client{Timeout: timeout},
		guard:      opts.Guard,
	}
}

func (c *Client) NewSession() ports.RegistrySession {
	return &Session{client: c}
}

// Session is an explicit bearer-token holder. Mutating calls re-authenticate
// before every request so a session never writes with a stale token.
type Session struct {
	client *Client

	mu    sync.Mutex
	token string
}

// Authenticate exchanges credentials for a bearer token. The previous token
// stays visible to concurrent calls until the exchange finishes; a failed
// exchange leaves the session unauthenticated.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	token, err := s.requestToken(ctx, username, password)
	s.setToken(token)
	return err
}

func (s *Session) requestToken(ctx context.Context, username, password string) (string, error) {
	request := map[string]string{
		"grant_type": "password",
		"username":   username,
		"password":   password,
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	err := s.client.execute(ctx, "", operation{
		name:        "authenticate",
		operationID: OpAuthToken,
		targetID:    s.client.serviceID,
		body:        request,
		out:         &response,
	})
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(response.AccessToken)
	if token == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "doip authenticate", errors.New("empty access token"))
	}
	return token, nil
}

// Refresh re-authenticates with the configured credentials. Without
// credentials the session stays anonymous.
func (s *Session) Refresh(ctx context.Context) error {
	if s.client.username == "" {
		return nil
	}
	return s.Authenticate(ctx, s.client.username, s.client.password)
}

func (s *Session) Authenticated() bool {
	return s.currentToken() != ""
}

func (s *Session) Create(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	body := digitalObject{
		ID:         obj.ID,
		Type:       obj.Type,
		Attributes: attributes{Content: contentOrEmpty(obj.Content)},
	}
	var out digitalObject
	err := s.client.execute(ctx, s.currentToken(), operation{
		name:        "create",
		operationID: OpCreate,
		targetID:    s.client.serviceID,
		objectID:    obj.ID,
		body:        body,
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return out.toDomain(obj), nil
}

func (s *Session) Retrieve(ctx context.Context, id string) (*domain.RegistryObject, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}
	var out digitalObject
	err := s.client.execute(ctx, s.currentToken(), operation{
		name:        "retrieve",
		operationID: OpRetrieve,
		targetID:    id,
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return out.toDomain(domain.RegistryObject{ID: id}), nil
}

func (s *Session) Update(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"attributes": attributes{Content: contentOrEmpty(obj.Content)},
	}
	var out digitalObject
	err := s.client.execute(ctx, s.currentToken(), operation{
		name:        "update",
		operationID: OpUpdate,
		targetID:    obj.ID,
		body:        body,
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return out.toDomain(obj), nil
}

func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	return s.client.execute(ctx, s.currentToken(), operation{
		name:        "delete",
		operationID: OpDelete,
		targetID:    id,
	})
}

func (s *Session) Search(ctx context.Context, query string, page, size int) (*domain.RegistrySearchResult, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("pageNum", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(size))

	var out struct {
		Size    int             `json:"size"`
		Results []digitalObject `json:"results"`
	}
	err := s.client.execute(ctx, s.currentToken(), operation{
		name:        "search",
		operationID: OpSearch,
		targetID:    s.client.serviceID,
		params:      params,
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	result := &domain.RegistrySearchResult{Size: out.Size, Results: make([]domain.RegistryObject, 0, len(out.Results))}
	for _, obj := range out.Results {
		result.Results = append(result.Results, *obj.toDomain(domain.RegistryObject{}))
	}
	return result, nil
}

func (s *Session) ListOperations(ctx context.Context, targetID string) ([]string, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}
	if targetID == "" {
		targetID = s.client.serviceID
	}
	var out []string
	err := s.client.execute(ctx, s.currentToken(), operation{
		name:        "list operations",
		operationID: OpListOperations,
		targetID:    targetID,
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrUpdate creates with the explicit id and falls back to an update
// when the registry reports the id as taken.
func (s *Session) CreateOrUpdate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	created, err := s.Create(ctx, obj)
	if err == nil {
		return created, nil
	}
	if !domain.IsKind(err, domain.ErrConflict) {
		return nil, err
	}
	slog.Debug("registry_create_fell_back_to_update", "target_id", obj.ID)
	return s.Update(ctx, obj)
}

// UpdateOrCreate updates an object assumed to exist and creates it when the
// registry reports it missing.
func (s *Session) UpdateOrCreate(ctx context.Context, obj domain.RegistryObject) (*domain.RegistryObject, error) {
	updated, err := s.Update(ctx, obj)
	if err == nil {
		return updated, nil
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}
	slog.Debug("registry_update_fell_back_to_create", "target_id", obj.ID)
	return s.CreateOrUpdate(ctx, obj)
}

func (s *Session) ensureToken(ctx context.Context) error {
	if s.Authenticated() {
		return nil
	}
	return s.Refresh(ctx)
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func contentOrEmpty(content map[string]any) map[string]any {
	if content == nil {
		return map[string]any{}
	}
	return content
}
