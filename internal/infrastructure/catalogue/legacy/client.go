package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/dublincore"
	"github.com/kirillkom/pidsync/internal/infrastructure/remote"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
)

const (
	SourceName = "dspace-legacy"

	tokenHeader = "rest-dspace-token"
	tokenKey    = "session"
	serviceName = "dspace_legacy"
)

type Options struct {
	BaseURL   string
	UIBaseURL string
	Email     string
	Password  string
	Timeout   time.Duration
	TokenTTL  time.Duration
	FieldMap  *dublincore.FieldMap
	Guard     *resilience.Guard
}

// Client talks to the legacy catalogue API under {base}/rest. Items are
// addressed by integer ids and carry metadata as a flat key/value list.
type Client struct {
	baseURL    string
	uiBaseURL  string
	email      string
	password   string
	fieldMap   dublincore.FieldMap
	httpClient *http.Client
	guard      *resilience.Guard
	tokens     *gocache.Cache

	loginMu sync.Mutex
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
		email:      opts.Email,
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
	id, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil || id <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "legacy fetch item", fmt.Errorf("item key %q is not a numeric id", key))
	}
	params := url.Values{}
	params.Set("expand", "metadata")

	var out item
	if err := c.get(ctx, "fetch item", "/rest/items/"+strconv.Itoa(id), params, &out); err != nil {
		return nil, err
	}
	external := c.toExternal(out)
	return &external, nil
}

// ListItems pages with limit/offset. The legacy API reports no total, so
// HasMore is inferred from a full page.
func (c *Client) ListItems(ctx context.Context, page, size int) (*domain.CataloguePage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(size))
	params.Set("offset", strconv.Itoa(page*size))
	params.Set("expand", "metadata")

	var out []item
	if err := c.get(ctx, "list items", "/rest/items", params, &out); err != nil {
		return nil, err
	}
	result := &domain.CataloguePage{
		Page:    page,
		Size:    size,
		Total:   -1,
		HasMore: len(out) == size,
		Items:   make([]domain.ExternalItem, 0, len(out)),
	}
	for _, it := range out {
		result.Items = append(result.Items, c.toExternal(it))
	}
	return result, nil
}

func (c *Client) MapToAggregate(item *domain.ExternalItem) domain.MappedAggregate {
	return dublincore.MapItem(item, c.fieldMap)
}

func (c *Client) TestConnection(ctx context.Context) error {
	c.tokens.Delete(tokenKey)
	return c.get(ctx, "test connection", "/rest/test", nil, nil)
}

type metadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type item struct {
	ID           int             `json:"id"`
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	Handle       string          `json:"handle"`
	Link         string          `json:"link"`
	LastModified string          `json:"lastModified"`
	Metadata     []metadataEntry `json:"metadata"`
}

func (c *Client) toExternal(it item) domain.ExternalItem {
	key := strconv.Itoa(it.ID)
	fields := make(map[string][]string)
	for _, entry := range it.Metadata {
		if entry.Key == "" {
			continue
		}
		fields[entry.Key] = append(fields[entry.Key], entry.Value)
	}
	link := ""
	switch {
	case c.uiBaseURL != "" && it.Handle != "":
		link = c.uiBaseURL + "/handle/" + it.Handle
	case it.Link != "":
		link = c.baseURL + it.Link
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
	if err != nil && domain.IsKind(err, domain.ErrUnauthorized) && c.email != "" {
		c.tokens.Delete(tokenKey)
		err = c.run(ctx, operation, path, params, out)
	}
	if statusErr, ok := remote.AsStatusError(err); ok {
		slog.Warn("catalogue_request_failed",
			"source", SourceName,
			"operation", operation,
			"target_id", path,
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
		)
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
		req.Header.Set(tokenHeader, token)
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

func (c *Client) token(ctx context.Context) (string, error) {
	if c.email == "" {
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

// login returns the plain-text session token. Installations that answer with
// an empty body authenticate via the session cookie kept in the jar instead.
func (c *Client) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", remote.TransportError(serviceName, "login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", remote.NewStatusError(serviceName, "login", c.baseURL, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", remote.TransportError(serviceName, "login", err)
	}
	return strings.TrimSpace(string(body)), nil
}
