package itemapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/itemdesk/internal/authmw"
	"github.com/linnemanlabs/itemdesk/internal/identity"
	"github.com/linnemanlabs/itemdesk/internal/item"
	"github.com/linnemanlabs/itemdesk/internal/item/memstore"
)

const (
	adminToken = "admin-tok"
	userToken  = "user-tok"
)

type testEnv struct {
	router chi.Router
	store  *memstore.Store
	svc    *item.Service
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw, err := identity.ParseStatic("admin-1:admin:" + adminToken + ",user-1:user:" + userToken)
	if err != nil {
		t.Fatalf("ParseStatic: %v", err)
	}
	env := &testEnv{
		store: memstore.New(),
		now:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = item.NewService(env.store, gw, nil, nil, item.Options{Now: func() time.Time { return env.now }})

	api := New(nil, env.svc, authmw.Authenticate(gw))
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, name, category string) *item.Item {
	t.Helper()
	body := `{"person_name":"` + name + `","description":"needs help","category":"` + category + `"}`
	rec := e.do(t, http.MethodPost, "/api/v1/items", userToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: status = %d, body = %s", name, rec.Code, rec.Body.String())
	}
	var it item.Item
	if err := json.NewDecoder(rec.Body).Decode(&it); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &it
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listResponse {
	t.Helper()
	var lr listResponse
	if err := json.NewDecoder(rec.Body).Decode(&lr); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return lr
}

func names(items []*item.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.PersonName
	}
	return out
}

// New / constructor

type nopService struct{ ItemService }

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, nopService{}, func(h http.Handler) http.Handler { return h })
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
}

func TestNew_WithLogger(t *testing.T) {
	t.Parallel()

	api := New(log.Nop(), nopService{}, func(h http.Handler) http.Handler { return h })
	if api.logger == nil {
		t.Fatal("New(logger, ...) left logger nil")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil service did not panic")
		}
	}()
	New(nil, nil, func(h http.Handler) http.Handler { return h })
}

func TestNew_NilAuth_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil auth did not panic")
		}
	}()
	New(nil, nopService{}, nil)
}

// Routing

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	it := env.create(t, "Routed", "small")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"list", http.MethodGet, "/api/v1/items", userToken, http.StatusOK},
		{"get", http.MethodGet, "/api/v1/items/" + it.ID, userToken, http.StatusOK},
		{"get missing", http.MethodGet, "/api/v1/items/nope", userToken, http.StatusNotFound},
		{"resolved as admin", http.MethodGet, "/api/v1/items/resolved", adminToken, http.StatusOK},
		{"resolved as user", http.MethodGet, "/api/v1/items/resolved", userToken, http.StatusForbidden},
		{"sweep as user", http.MethodPost, "/api/v1/sweep", userToken, http.StatusForbidden},
		{"no token", http.MethodGet, "/api/v1/items", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/items", "nope", http.StatusUnauthorized},
		{"PUT items not allowed", http.MethodPut, "/api/v1/items", userToken, http.StatusMethodNotAllowed},
		{"DELETE item not allowed", http.MethodDelete, "/api/v1/items/" + it.ID, adminToken, http.StatusMethodNotAllowed},
		{"GET resolve not allowed", http.MethodGet, "/api/v1/items/" + it.ID + "/resolve", adminToken, http.StatusMethodNotAllowed},
		{"GET sweep not allowed", http.MethodGet, "/api/v1/sweep", adminToken, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.token, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, path := range []string{"/", "/api/v1", "/api/v2/items", "/api/v1/unknown"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, path, userToken, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Listing

func TestListOpen_RankedByCategory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.create(t, "A", "small")
	env.create(t, "B", "urgent")
	env.create(t, "C", "medium")
	env.create(t, "D", "urgent")

	rec := env.do(t, http.MethodGet, "/api/v1/items", userToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	lr := decodeList(t, rec)
	if got := strings.Join(names(lr.Items), ","); got != "B,D,C,A" {
		t.Errorf("order = %s, want B,D,C,A", got)
	}
	if lr.Count != 4 {
		t.Errorf("count = %d, want 4", lr.Count)
	}
}

func TestListOpen_Filters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.create(t, "Alice", "urgent")
	env.create(t, "Bob", "medium")
	env.create(t, "Alicia", "small")

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no params", "", "Alice,Bob,Alicia"},
		{"text", "?q=ali", "Alice,Alicia"},
		{"text case insensitive", "?q=BOB", "Bob"},
		{"single category", "?category=small", "Alicia"},
		{"repeated category", "?category=small&category=urgent", "Alice,Alicia"},
		{"comma category", "?category=medium,urgent", "Alice,Bob"},
		{"text and category", "?q=ali&category=urgent", "Alice"},
		{"explicit empty category", "?category=", ""},
		{"no match", "?q=zed", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/items"+tt.query, userToken, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			lr := decodeList(t, rec)
			if lr.Items == nil {
				t.Error("items must be a JSON array, got null")
			}
			if got := strings.Join(names(lr.Items), ","); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestListOpen_BadCategory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/items?category=critical", userToken, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// Create

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tests := []struct {
		name   string
		body   string
		status int
		fields []string
	}{
		{"valid", `{"person_name":"P","description":"D","category":"urgent"}`, http.StatusCreated, nil},
		{"defaults to medium", `{"person_name":"P","description":"D"}`, http.StatusCreated, nil},
		{"missing name", `{"description":"D","category":"small"}`, http.StatusBadRequest, []string{"person_name"}},
		{"missing both", `{"category":"small"}`, http.StatusBadRequest, []string{"person_name", "description"}},
		{"bad category", `{"person_name":"P","description":"D","category":"huge"}`, http.StatusBadRequest, []string{"category"}},
		{"unknown field", `{"person_name":"P","description":"D","resolved":true}`, http.StatusBadRequest, nil},
		{"invalid json", `{bad`, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.store.Len()
			rec := env.do(t, http.MethodPost, "/api/v1/items", userToken, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusCreated {
				if env.store.Len() != before {
					t.Error("rejected request reached the store")
				}
			}
			if len(tt.fields) > 0 {
				var eb errorBody
				_ = json.NewDecoder(rec.Body).Decode(&eb)
				if len(eb.Fields) != len(tt.fields) {
					t.Fatalf("fields = %+v, want %v", eb.Fields, tt.fields)
				}
				for i, f := range tt.fields {
					if eb.Fields[i].Field != f {
						t.Errorf("fields[%d] = %s, want %s", i, eb.Fields[i].Field, f)
					}
				}
			}
		})
	}
}

func TestCreate_Response(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/items", userToken, `{"person_name":" Ada ","description":"jam"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var it item.Item
	if err := json.NewDecoder(rec.Body).Decode(&it); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Header().Get("Location") != "/api/v1/items/"+it.ID {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
	if it.PersonName != "Ada" || it.Category != item.CategoryMedium || it.CreatedBy != "user-1" || it.Resolved {
		t.Errorf("item = %+v", it)
	}
}

// Resolve

func TestResolve_Flow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	it := env.create(t, "X", "urgent")
	path := "/api/v1/items/" + it.ID + "/resolve"

	if rec := env.do(t, http.MethodPost, path, userToken, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("user resolve = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/items/missing/resolve", userToken, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("user resolve of missing item = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/items/missing/resolve", adminToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("admin resolve of missing item = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, path, adminToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("admin resolve = %d, want 204", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, path, adminToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("second admin resolve = %d, want 204", rec.Code)
	}

	lr := decodeList(t, env.do(t, http.MethodGet, "/api/v1/items", userToken, ""))
	if lr.Count != 0 {
		t.Errorf("open items after resolve = %d, want 0", lr.Count)
	}

	lr = decodeList(t, env.do(t, http.MethodGet, "/api/v1/items/resolved", adminToken, ""))
	if lr.Count != 1 || lr.Items[0].ID != it.ID || lr.Items[0].ResolvedAt == nil {
		t.Errorf("resolved list = %+v", lr.Items)
	}
}

// Sweep

func TestSweep_Manual(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	it := env.create(t, "Old", "small")
	if rec := env.do(t, http.MethodPost, "/api/v1/items/"+it.ID+"/resolve", adminToken, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("resolve = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/sweep", adminToken, "")
	var sr sweepResponse
	_ = json.NewDecoder(rec.Body).Decode(&sr)
	if rec.Code != http.StatusOK || sr.Purged != 0 {
		t.Fatalf("early sweep = %d %+v, want 200 purged=0", rec.Code, sr)
	}

	env.now = env.now.Add(8 * 24 * time.Hour)
	rec = env.do(t, http.MethodPost, "/api/v1/sweep", adminToken, "")
	sr = sweepResponse{}
	_ = json.NewDecoder(rec.Body).Decode(&sr)
	if rec.Code != http.StatusOK || sr.Purged != 1 {
		t.Fatalf("late sweep = %d %+v, want 200 purged=1", rec.Code, sr)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/items/"+it.ID, userToken, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get purged item = %d, want 404", rec.Code)
	}
}

// Error mapping

type failingService struct {
	nopService
	err error
}

func (f failingService) ListOpen(context.Context, item.Filter) ([]*item.Item, error) {
	return nil, f.err
}

func TestWriteError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"transient", errors.Join(item.ErrTransient, errors.New("db")), http.StatusServiceUnavailable},
		{"unauthorized", item.ErrUnauthorized, http.StatusForbidden},
		{"not found", item.ErrNotFound, http.StatusNotFound},
		{"validation", &item.ValidationError{Field: "x", Reason: "y"}, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := New(nil, failingService{err: tt.err}, func(h http.Handler) http.Handler { return h })
			r := chi.NewRouter()
			api.RegisterRoutes(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items", http.NoBody))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After on 503")
			}
		})
	}
}

func TestPrivilegedRoutes_RequireSession(t *testing.T) {
	t.Parallel()

	api := New(nil, nopService{}, func(h http.Handler) http.Handler { return h })
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/items"},
		{http.MethodPost, "/api/v1/items/x/resolve"},
		{http.MethodGet, "/api/v1/items/resolved"},
		{http.MethodPost, "/api/v1/sweep"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`)))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

// Fuzz

func FuzzCreateItem(f *testing.F) {
	gw, _ := identity.ParseStatic("user-1:user:" + userToken)
	svc := item.NewService(memstore.New(), gw, nil, nil, item.Options{})
	api := New(nil, svc, authmw.Authenticate(gw))
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	seeds := []struct {
		body        []byte
		contentType string
	}{
		{nil, ""},
		{[]byte(""), "application/json"},
		{[]byte("{}"), "application/json"},
		{[]byte(`{"person_name":"A","description":"B","category":"urgent"}`), "application/json"},
		{[]byte(`{"person_name":"A","description":"B","category":"nope"}`), "application/json"},
		{[]byte("{invalid json"), "application/json"},
		{[]byte("\x00\x01\x02\xff\xfe"), "application/octet-stream"},
		{[]byte("<xml>not json</xml>"), "text/xml"},
		{[]byte(strings.Repeat("a", 10000)), "text/plain"},
	}
	for _, s := range seeds {
		f.Add(s.body, s.contentType)
	}

	f.Fuzz(func(t *testing.T, body []byte, contentType string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", strings.NewReader(string(body)))
		req.Header.Set("Authorization", "Bearer "+userToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated && rec.Code != http.StatusBadRequest {
			t.Errorf("POST /api/v1/items with body len=%d content-type=%q = %d, want 201 or 400",
				len(body), contentType, rec.Code)
		}
	})
}
