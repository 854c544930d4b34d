package dspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/dublincore"
	"github.com/kirillkom/pidsync/internal/infrastructure/remote"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
)

const (
	SourceName = "dspace"

	csrfHeader  = "DSPACE-XSRF-TOKEN"
	xsrfHeader  = "X-XSRF-TOKEN"
	tokenKey    = "bearer"
	serviceName = "dspace"
)

type Options struct {
	BaseURL   string
	UIBaseURL string
	Username  string
	Password  string
	Timeout   time.Duration
	TokenTTL  time.Duration
	FieldMap  *dublincore.FieldMap
	Guard     *resilience.Guard
}

// Client talks to the current catalogue REST API under {base}/api. Bearer
// tokens obtained through the CSRF-then-login handshake are cached for the
// configured TTL.
type Client struct {
	baseURL    string
	uiBaseURL  string
	username   string
	password   string
	fieldMap   dublincore.FieldMap
	httpClient *http.Client
	guard      *resilience.Guard
	tokens     *gocache.Cache

	loginMu sync.Mutex
	csrfMu  sync.Mutex
	csrf    string
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	fieldMap := dublincore.DefaultFieldMap()
	if opts.FieldMap != nil {
		fieldMap = *opts.FieldMap
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		uiBaseURL:  strings.TrimRight(opts.UIBaseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		fieldMap:   fieldMap,
		httpClient: remote.NewSessionHTTPClient(timeout),
		guard:      opts.Guard,
		tokens:     gocache.New(ttl, 2*ttl),
	}
}

func (c *Client) Name() string {
	return SourceName
}

func (c *Client) FetchItem(ctx context.Context, key string) (*domain.ExternalItem, error) {
	id, err := uuid.Parse(strings.TrimSpace(key))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "dspace fetch item", fmt.Errorf("item key %q is not a uuid", key))
	}

	var out item
	if err := c.get(ctx, "fetch item", "/api/core/items/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	external := c.toExternal(out)
	return &external, nil
}

func (c *Client) ListItems(ctx context.Context, page, size int) (*domain.CataloguePage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(size))

	var out struct {
		Embedded struct {
			Items []item `json:"items"`
		} `json:"_embedded"`
		Page struct {
			Size          int `json:"size"`
			TotalElements int `json:"totalElements"`
			TotalPages    int `json:"totalPages"`
			Number        int `json:"number"`
		} `json:"page"`
	}
	if err := c.get(ctx, "list items", "/api/core/items", params, &out); err != nil {
		return nil, err
	}

	result := &domain.CataloguePage{
		Page:    page,
		Size:    size,
		Total:   out.Page.TotalElements,
		HasMore: out.Page.Number+1 < out.Page.TotalPages,
		Items:   make([]domain.ExternalItem, 0, len(out.Embedded.Items)),
	}
	for _, it := range out.Embedded.Items {
		result.Items = append(result.Items, c.toExternal(it))
	}
	return result, nil
}

func (c *Client) MapToAggregate(item *domain.ExternalItem) domain.MappedAggregate {
	return dublincore.MapItem(item, c.fieldMap)
}

// TestConnection checks the API root and, with credentials configured, that
// the login handshake succeeds.
func (c *Client) TestConnection(ctx context.Context) error {
	c.tokens.Delete(tokenKey)
	return c.get(ctx, "test connection", "/api", nil, nil)
}

type metadataValue struct {
	Value string `json:"value"`
}

type item struct {
	ID           string                     `json:"id"`
	UUID         string                     `json:"uuid"`
	Name         string                     `json:"name"`
	Handle       string                     `json:"handle"`
	LastModified string                     `json:"lastModified"`
	Metadata     map[string][]metadataValue `json:"metadata"`
	Links        struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

func (c *Client) toExternal(it item) domain.ExternalItem {
	key := it.UUID
	if key == "" {
		key = it.ID
	}
	fields := make(map[string][]string, len(it.Metadata))
	for field, values := range it.Metadata {
		for _, v := range values {
			fields[field] = append(fields[field], v.Value)
		}
	}
	link := it.Links.Self.Href
	if c.uiBaseURL != "" {
		link = c.uiBaseURL + "/items/" + key
	}
	return domain.ExternalItem{
		Key:          key,
		Source:       SourceName,
		Name:         it.Name,
		Handle:       it.Handle,
		URL:          link,
		LastModified: remote.ParseTimestamp(it.LastModified),
		Fields:       fields,
	}
}

func (c *Client) get(ctx context.Context, operation, path string, params url.Values, out any) error {
	err := c.run(ctx, operation, path, params, out)
	// A 401 means the cached token expired server-side: log in again and
	// re-send once.
	if err != nil && domain.IsKind(err, domain.ErrUnauthorized) && c.username != "" {
		c.tokens.Delete(tokenKey)
		err = c.run(ctx, operation, path, params, out)
	}
	if err != nil {
		if statusErr, ok := remote.AsStatusError(err); ok {
			slog.Warn("catalogue_request_failed",
				"source", SourceName,
				"operation", operation,
				"target_id", path,
				"status", statusErr.StatusCode,
				"body", statusErr.Body,
			)
		}
	}
	return err
}

func (c *Client) run(ctx context.Context, operation, path string, params url.Values, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	call := func(callCtx context.Context) error {
		return c.doGet(callCtx, token, operation, path, params, out)
	}
	if c.guard == nil {
		return call(ctx)
	}
	err = c.guard.Do(ctx, operation, call, remote.Classify)
	return remote.WrapBreakerError(serviceName, operation, err)
}

func (c *Client) doGet(ctx context.Context, token, operation, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.TransportError(serviceName, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remote.NewStatusError(serviceName, operation, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// token returns the cached Authorization header value, logging in when the
// cache is empty. Anonymous clients get an empty token.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.username == "" {
		return "", nil
	}
	if cached, ok := c.tokens.Get(tokenKey); ok {
		if token, ok := cached.(string); ok {
			return token, nil
		}
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if cached, ok := c.tokens.Get(tokenKey); ok {
		if token, ok := cached.(string); ok {
			return token, nil
		}
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.tokens.SetDefault(tokenKey, token)
	return token, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	csrf, err := c.fetchCSRF(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("user", c.username)
	form.Set("password", c.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/authn/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(xsrfHeader, csrf)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", remote.TransportError(serviceName, "login", err)
	}
	defer resp.Body.Close()
	c.rememberCSRF(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", remote.NewStatusError(serviceName, "login", c.baseURL, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	token := strings.TrimSpace(resp.Header.Get("Authorization"))
	if token == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "dspace login", errors.New("no authorization header in login response"))
	}
	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	return token, nil
}

// fetchCSRF obtains the anti-forgery token. The matching cookie lands in the
// client's jar.
func (c *Client) fetchCSRF(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/security/csrf", nil)
	if err != nil {
		return "", fmt.Errorf("create csrf request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", remote.TransportError(serviceName, "csrf", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", remote.NewStatusError(serviceName, "csrf", c.baseURL, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.rememberCSRF(resp)

	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	if c.csrf == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "dspace csrf", errors.New("no csrf token issued"))
	}
	return c.csrf, nil
}

func (c *Client) rememberCSRF(resp *http.Response) {
	token := strings.TrimSpace(resp.Header.Get(csrfHeader))
	if token == "" {
		return
	}
	c.csrfMu.Lock()
	c.csrf = token
	c.csrfMu.Unlock()
}
