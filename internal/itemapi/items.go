package itemapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

// maxQueryLen bounds the free-text filter.
const maxQueryLen = 200

type createRequest struct {
	PersonName  string `json:"person_name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type listResponse struct {
	Items []*item.Item `json:"items"`
	Count int          `json:"count"`
}

type sweepResponse struct {
	Purged int `json:"purged"`
}

// parseFilter reads q and category from the query string. An absent category
// parameter selects every category; a present but empty one selects none.
func parseFilter(r *http.Request) (item.Filter, error) {
	values := r.URL.Query()
	f := item.Filter{Text: strings.TrimSpace(values.Get("q"))}
	if len(f.Text) > maxQueryLen {
		return item.Filter{}, &item.ValidationError{Field: "q", Reason: "too long"}
	}

	raw, ok := values["category"]
	if !ok {
		f.Categories = item.Categories
		return f, nil
	}
	f.Categories = []item.Category{}
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			c, err := item.ParseCategory(part)
			if err != nil {
				return item.Filter{}, err
			}
			f.Categories = append(f.Categories, c)
		}
	}
	return f, nil
}

func (a *API) handleListOpen(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	items, err := a.svc.ListOpen(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items)})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	var req createRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	category := item.Category(strings.TrimSpace(req.Category))
	if category == "" {
		category = item.CategoryMedium
	}

	it, err := a.svc.Create(r.Context(), p, item.NewItem{
		PersonName:  req.PersonName,
		Description: req.Description,
		Category:    category,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("itemdesk.item.id", it.ID))
	w.Header().Set("Location", "/api/v1/items/"+it.ID)
	writeJSON(w, http.StatusCreated, it)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("itemdesk.item.id", id))

	it, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("itemdesk.item.id", id))

	if err := a.svc.Resolve(r.Context(), id, p); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListResolved(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	items, err := a.svc.ListResolved(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items)})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
		return
	}

	n, err := a.svc.Sweep(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "manual sweep", "purged", n, "principal", p.ID)
	writeJSON(w, http.StatusOK, sweepResponse{Purged: n})
}
