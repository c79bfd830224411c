package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/service"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
	"github.com/darianhuotari/rickmorty-sre-demo/internal/versions"
)

// Pagination bounds for GET /characters.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageLister is the read-path slice of the character service.
type PageLister interface {
	ListPage(ctx context.Context, sort store.SortField, order store.SortOrder, page, pageSize int) (*service.CharactersPage, error)
}

// Syncer is the pipeline surface the routes drive.
type Syncer interface {
	SeedIfEmpty(ctx context.Context) (int, error)
	RefreshIfStale(ctx context.Context) (int, error)
	LastRefreshAge() (float64, bool)
}

// Prober reports upstream reachability for the health check.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HealthResponse is the deep health check response. LastRefreshAge is null
// until the first successful sync.
type HealthResponse struct {
	Status         string   `json:"status"`
	UpstreamOK     bool     `json:"upstream_ok"`
	DBOK           bool     `json:"db_ok"`
	CharacterCount int      `json:"character_count"`
	LastRefreshAge *float64 `json:"last_refresh_age"`
}

// SyncResponse reports the outcome of a manual sync request.
type SyncResponse struct {
	Ingested int `json:"ingested"`
	Total    int `json:"total"`
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes holds the handler dependencies.
type Routes struct {
	lister PageLister
	syncer Syncer
	store  store.Store
	prober Prober
}

// NewRoutes creates a Routes instance with the provided collaborators.
func NewRoutes(lister PageLister, syncer Syncer, st store.Store, prober Prober) *Routes {
	return &Routes{
		lister: lister,
		syncer: syncer,
		store:  st,
		prober: prober,
	}
}

// Router mounts all public endpoints.
func (rr *Routes) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/characters", rr.getCharacters)
	r.Get("/healthcheck", rr.getHealthcheck)
	r.Post("/sync", rr.postSync)
	r.Get("/version", versionHandler)

	return r
}

// getCharacters handles GET /characters with sort, order, page and
// page_size query parameters.
func (rr *Routes) getCharacters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sortField, err := store.ParseSortField(valueOr(q.Get("sort"), string(store.SortByID)))
	if err != nil {
		writeErrorResponse(w, "Invalid sort parameter: must be 'id' or 'name'", http.StatusBadRequest)
		return
	}
	order, err := store.ParseSortOrder(valueOr(q.Get("order"), string(store.OrderAsc)))
	if err != nil {
		writeErrorResponse(w, "Invalid order parameter: must be 'asc' or 'desc'", http.StatusBadRequest)
		return
	}
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeErrorResponse(w, "Invalid page parameter: must be an integer >= 1", http.StatusBadRequest)
		return
	}
	pageSize, err := intParam(q.Get("page_size"), defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		writeErrorResponse(w, "Invalid page_size parameter: must be an integer in [1,100]", http.StatusBadRequest)
		return
	}

	result, err := rr.lister.ListPage(r.Context(), sortField, order, page, pageSize)
	if err != nil {
		slog.Error("Failed to list characters", "error", err)
		writeErrorResponse(w, "Failed to list characters", http.StatusInternalServerError)
		return
	}

	writeJSONResponse(w, result, http.StatusOK)
}

// getHealthcheck handles GET /healthcheck: a deep check covering upstream
// reachability and database connectivity, plus the character count as a
// simple business metric.
func (rr *Routes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	upstreamOK := rr.prober.Probe(r.Context())

	dbOK := true
	var total int
	if err := rr.store.Ping(r.Context()); err != nil {
		slog.Error("Health check database ping failed", "error", err)
		dbOK = false
	} else if total, err = rr.store.CountCharacters(r.Context()); err != nil {
		slog.Error("Health check database probe failed", "error", err)
		dbOK = false
		total = 0
	}

	resp := HealthResponse{
		Status:         "ok",
		UpstreamOK:     upstreamOK,
		DBOK:           dbOK,
		CharacterCount: total,
	}
	if !upstreamOK || !dbOK {
		resp.Status = "degraded"
	}
	if age, ok := rr.syncer.LastRefreshAge(); ok {
		resp.LastRefreshAge = &age
	}

	writeJSONResponse(w, resp, http.StatusOK)
}

// postSync handles POST /sync: seed an empty store, otherwise refresh when
// stale. Idempotent; a fresh store returns zero ingested.
func (rr *Routes) postSync(w http.ResponseWriter, r *http.Request) {
	ingested, err := rr.syncer.SeedIfEmpty(r.Context())
	if err == nil && ingested == 0 {
		ingested, err = rr.syncer.RefreshIfStale(r.Context())
	}
	if err != nil {
		slog.Error("Manual sync failed", "error", err)
		writeErrorResponse(w, "Sync failed: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	total, err := rr.store.CountCharacters(r.Context())
	if err != nil {
		slog.Error("Failed to count characters after sync", "error", err)
		writeErrorResponse(w, "Sync succeeded but count failed", http.StatusInternalServerError)
		return
	}

	writeJSONResponse(w, SyncResponse{Ingested: ingested, Total: total}, http.StatusOK)
}

// versionHandler handles GET /version.
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

func valueOr(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func intParam(val string, fallback int) (int, error) {
	if val == "" {
		return fallback, nil
	}
	return strconv.Atoi(val)
}

func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
