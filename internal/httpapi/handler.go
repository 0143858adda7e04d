// Package httpapi exposes a DataProvider as a JSON REST API.
package httpapi

import (
	"log/slog"
	"net/http"

	"sqlprovider/internal/apperr"
	"sqlprovider/internal/filter"
	"sqlprovider/internal/morph"
	"sqlprovider/internal/planner"
	"sqlprovider/internal/provider"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler serves the REST routes for every table of the provider's schema.
type Handler struct {
	provider     *provider.DataProvider
	morphs       map[string]map[string]morph.Descriptor
	maxBodyBytes int64
	logger       *slog.Logger
	mux          *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithMorphs registers the polymorphic relations reachable through
// POST /api/{resource}/morph/{name}, keyed by resource then relation name.
func WithMorphs(morphs map[string]map[string]morph.Descriptor) Option {
	return func(h *Handler) { h.morphs = morphs }
}

// WithMaxBodyBytes caps request body size. Zero disables the cap.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

// WithLogger sets the fallback logger for requests without one in context.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New builds the route table over p.
func New(p *provider.DataProvider, opts ...Option) *Handler {
	h := &Handler{
		provider:     p,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /api/{resource}/list", h.list)
	h.mux.HandleFunc("POST /api/{resource}/many", h.getMany)
	h.mux.HandleFunc("POST /api/{resource}/batch", h.createMany)
	h.mux.HandleFunc("POST /api/{resource}/aggregate", h.aggregate)
	h.mux.HandleFunc("POST /api/{resource}/morph/{name}", h.morphTo)
	h.mux.HandleFunc("GET /api/{resource}/{id}", h.getOne)
	h.mux.HandleFunc("POST /api/{resource}", h.create)
	h.mux.HandleFunc("PATCH /api/{resource}/{id}", h.update)
	h.mux.HandleFunc("PATCH /api/{resource}", h.updateMany)
	h.mux.HandleFunc("DELETE /api/{resource}/{id}", h.deleteOne)
	h.mux.HandleFunc("DELETE /api/{resource}", h.deleteMany)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type listRequest struct {
	Filters    interface{}        `json:"filters"`
	Sorters    []planner.Sort     `json:"sorters"`
	Pagination planner.Pagination `json:"pagination"`
	With       []string           `json:"with"`
}

type idsRequest struct {
	IDs  []interface{} `json:"ids"`
	With []string      `json:"with"`
}

type batchRequest struct {
	Data []map[string]interface{} `json:"data"`
}

type updateManyRequest struct {
	IDs       []interface{}          `json:"ids"`
	Variables map[string]interface{} `json:"variables"`
}

type aggregateRequest struct {
	Filters  interface{} `json:"filters"`
	Function string      `json:"function"`
	Field    string      `json:"field"`
}

type morphRequest struct {
	Filters  interface{}    `json:"filters"`
	Types    []string       `json:"types"`
	Sorters  []planner.Sort `json:"sorters"`
	Page     *int           `json:"page"`
	PageSize *int           `json:"pageSize"`
}

type dataResponse struct {
	Data interface{} `json:"data"`
}

func (h *Handler) filters(raw interface{}) ([]filter.Node, error) {
	return filter.DecodeWithDepth(raw, h.provider.Limits().MaxFilterDepth)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	nodes, err := h.filters(req.Filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.provider.GetList(r.Context(), provider.ListParams{
		Resource:   r.PathValue("resource"),
		Filters:    nodes,
		Sorters:    req.Sorters,
		Pagination: req.Pagination,
		Relations:  req.With,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getOne(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.provider.GetOne(r.Context(), provider.GetOneParams{
		Resource:  r.PathValue("resource"),
		ID:        id,
		Relations: splitList(r.URL.Query().Get("with")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: record})
}

func (h *Handler) getMany(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.provider.GetMany(r.Context(), provider.GetManyParams{
		Resource:  r.PathValue("resource"),
		IDs:       req.IDs,
		Relations: req.With,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: nonNil(records)})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var vars map[string]interface{}
	if err := h.decodeBody(w, r, &vars); err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.provider.Create(r.Context(), provider.CreateParams{
		Resource:  r.PathValue("resource"),
		Variables: vars,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: record})
}

func (h *Handler) createMany(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.provider.CreateMany(r.Context(), provider.CreateManyParams{
		Resource:  r.PathValue("resource"),
		Variables: req.Data,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: nonNil(records)})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var vars map[string]interface{}
	if err := h.decodeBody(w, r, &vars); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.pathKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.provider.Update(r.Context(), provider.UpdateParams{
		Resource:  r.PathValue("resource"),
		ID:        id,
		Variables: vars,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: record})
}

func (h *Handler) updateMany(w http.ResponseWriter, r *http.Request) {
	var req updateManyRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.provider.UpdateMany(r.Context(), provider.UpdateManyParams{
		Resource:  r.PathValue("resource"),
		IDs:       req.IDs,
		Variables: req.Variables,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: nonNil(records)})
}

func (h *Handler) deleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := h.pathKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.provider.DeleteOne(r.Context(), provider.DeleteOneParams{
		Resource: r.PathValue("resource"),
		ID:       id,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: record})
}

func (h *Handler) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.provider.DeleteMany(r.Context(), provider.DeleteManyParams{
		Resource: r.PathValue("resource"),
		IDs:      req.IDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: nonNil(records)})
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	nodes, err := h.filters(req.Filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := h.provider.From(r.PathValue("resource")).Where(nodes...)
	ctx := r.Context()
	var value interface{}
	switch req.Function {
	case "count", "":
		value, err = q.Count(ctx)
	case "sum":
		value, err = q.Sum(ctx, req.Field)
	case "avg":
		value, err = q.Avg(ctx, req.Field)
	case "min":
		value, err = q.Min(ctx, req.Field)
	case "max":
		value, err = q.Max(ctx, req.Field)
	default:
		err = apperr.Validation("unknown aggregate function %q", req.Function)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: value})
}

func (h *Handler) morphTo(w http.ResponseWriter, r *http.Request) {
	resource, name := r.PathValue("resource"), r.PathValue("name")
	desc, ok := h.morphs[resource][name]
	if !ok {
		h.writeError(w, r, apperr.Schema("resource %q has no polymorphic relation %q", resource, name))
		return
	}

	var req morphRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	nodes, err := h.filters(req.Filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := h.provider.MorphTo(resource, desc).Where(nodes...)
	if len(req.Types) > 0 {
		q = q.WhereTypeIn(req.Types...)
	}
	for _, s := range req.Sorters {
		q = q.OrderBy(s.Field, s.Order)
	}
	if req.Page != nil || req.PageSize != nil {
		page, size := 1, h.provider.Limits().DefaultPageSize
		if req.Page != nil {
			page = *req.Page
		}
		if req.PageSize != nil {
			size = *req.PageSize
		}
		q = q.Paginate(page, size)
	}
	records, err := q.Get(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: nonNil(records)})
}

func nonNil(records []map[string]interface{}) []map[string]interface{} {
	if records == nil {
		return []map[string]interface{}{}
	}
	return records
}
