// Package itemapi exposes the item service over HTTP.
package itemapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/itemdesk/internal/authmw"
	"github.com/linnemanlabs/itemdesk/internal/item"
)

// ItemService defines the business operations itemapi needs.
type ItemService interface {
	Create(ctx context.Context, p item.Principal, in item.NewItem) (*item.Item, error)
	Get(ctx context.Context, id string) (*item.Item, error)
	ListOpen(ctx context.Context, f item.Filter) ([]*item.Item, error)
	Resolve(ctx context.Context, id string, p item.Principal) error
	ListResolved(ctx context.Context, p item.Principal) ([]*item.Item, error)
	Sweep(ctx context.Context, p item.Principal) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    ItemService
	auth   func(http.Handler) http.Handler
}

// New creates a new API handler. auth must place an identity session in the
// request context, typically authmw.Authenticate.
func New(logger log.Logger, svc ItemService, auth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("item service is required"))
	}
	if auth == nil {
		panic(xerrors.New("auth middleware is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		auth:   auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.auth)

		r.Get("/items", a.handleListOpen)
		r.Post("/items", a.handleCreate)
		r.Get("/items/resolved", a.handleListResolved)
		r.Get("/items/{id}", a.handleGet)
		r.Post("/items/{id}/resolve", a.handleResolve)
		r.Post("/sweep", a.handleSweep)
	})
}

// principal builds the caller from the authenticated session. The role is
// left empty; the service looks it up on privileged calls.
func principal(r *http.Request) (item.Principal, bool) {
	sess, ok := authmw.SessionFrom(r.Context())
	if !ok || sess.UserID == "" {
		return item.Principal{}, false
	}
	return item.Principal{ID: sess.UserID}, true
}

type errorBody struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, item.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fieldErrors(err)})
	case errors.Is(err, item.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, item.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, item.ErrTransient):
		a.logger.Error(r.Context(), err, "transient failure", "path", r.URL.Path)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable"})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func fieldErrors(err error) []fieldError {
	var out []fieldError
	var walk func(error)
	walk = func(err error) {
		if ve, ok := err.(*item.ValidationError); ok {
			out = append(out, fieldError{Field: ve.Field, Reason: ve.Reason})
			return
		}
		if m, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range m.Unwrap() {
				walk(e)
			}
			return
		}
		if e := errors.Unwrap(err); e != nil {
			walk(e)
		}
	}
	walk(err)
	return out
}
