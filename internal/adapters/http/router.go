package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/core/ports"
	"github.com/kirillkom/pidsync/internal/observability/metrics"
)

const maxRequestBody = 1 << 20

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueTimeout   time.Duration
	Metrics        *metrics.APIMetrics
}

type Router struct {
	publications ports.PublicationManager
	importer     ports.CatalogueImporter
	browser      ports.RegistryBrowser
	opts         Options
}

func NewRouter(
	publications ports.PublicationManager,
	importer ports.CatalogueImporter,
	browser ports.RegistryBrowser,
	opts Options,
) *Router {
	return &Router{
		publications: publications,
		importer:     importer,
		browser:      browser,
		opts:         opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	mux.HandleFunc("POST /v1/publications", rt.createPublication)
	mux.HandleFunc("GET /v1/publications/{id}", rt.getPublication)
	mux.HandleFunc("PATCH /v1/publications/{id}", rt.updatePublication)
	mux.HandleFunc("DELETE /v1/publications/{id}", rt.deletePublication)
	mux.HandleFunc("POST /v1/publications/{id}/sync", rt.syncPublication)

	mux.HandleFunc("GET /v1/registry/objects/{id...}", rt.retrieveObject)
	mux.HandleFunc("GET /v1/registry/search", rt.searchRegistry)
	mux.HandleFunc("GET /v1/registry/operations", rt.listOperations)

	mux.HandleFunc("GET /v1/catalogue/status", rt.catalogueStatus)
	mux.HandleFunc("GET /v1/catalogue/items", rt.listCatalogueItems)
	mux.HandleFunc("GET /v1/catalogue/items/{key}/preview", rt.previewCatalogueItem)
	mux.HandleFunc("POST /v1/catalogue/import", rt.importItem)
	mux.HandleFunc("POST /v1/catalogue/import/batch", rt.importBatch)
	mux.HandleFunc("GET /v1/catalogue/mappings", rt.listMappings)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueTimeout)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createPublication(w http.ResponseWriter, r *http.Request) {
	var draft domain.PublicationDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, err)
		return
	}
	pub, err := rt.publications.Create(r.Context(), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pub)
}

func (rt *Router) getPublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pub, err := rt.publications.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (rt *Router) updatePublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var draft domain.PublicationDraft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, err)
		return
	}
	pub, err := rt.publications.UpdateMetadata(r.Context(), id, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (rt *Router) deletePublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.publications.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) syncPublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := rt.publications.Sync(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) retrieveObject(w http.ResponseWriter, r *http.Request) {
	obj, err := rt.browser.Retrieve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (rt *Router) searchRegistry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := rt.browser.Search(r.Context(), q.Get("q"), queryInt(q.Get("page"), 0), queryInt(q.Get("size"), 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := rt.browser.Operations(r.Context(), r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (rt *Router) catalogueStatus(w http.ResponseWriter, r *http.Request) {
	if err := rt.importer.TestConnection(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listCatalogueItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := rt.importer.ListItems(r.Context(), queryInt(q.Get("page"), 0), queryInt(q.Get("size"), 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rt *Router) previewCatalogueItem(w http.ResponseWriter, r *http.Request) {
	mapped, err := rt.importer.Preview(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapped)
}

func (rt *Router) importItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key     string `json:"key"`
		OwnerID int64  `json:"owner_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := rt.importer.ImportSingle(r.Context(), req.Key, req.OwnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (rt *Router) importBatch(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Page         int   `json:"page"`
		Size         int   `json:"size"`
		SkipExisting *bool `json:"skip_existing"`
		OwnerID      int64 `json:"owner_id"`
	}{}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	skipExisting := true
	if req.SkipExisting != nil {
		skipExisting = *req.SkipExisting
	}
	result, err := rt.importer.ImportBatch(r.Context(), req.Page, req.Size, skipExisting, req.OwnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listMappings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mappings, err := rt.importer.Mappings(r.Context(), domain.SyncStatus(q.Get("status")), queryInt(q.Get("limit"), 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})
}

func pathID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse path", fmt.Errorf("invalid publication id %q", raw))
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json: "+err.Error()))
	}
	return nil
}

func queryInt(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
